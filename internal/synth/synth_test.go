package synth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/nadc.report/internal/layout"
	"github.com/banshee-data/nadc.report/internal/product"
)

func TestBuildDefault(t *testing.T) {
	t.Parallel()

	res, err := Build(Default(time.Date(2004, 2, 29, 10, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	require.Len(t, res.States, 4)

	raw, err := res.Writer.Bytes()
	require.NoError(t, err)
	p, err := product.FromBytes("synth", raw)
	require.NoError(t, err)

	assert.Equal(t, layout.Level1c, layout.LevelOf(p.MPH.Product))
	for _, name := range []string{"STATES", "NADIR", "LIMB", "MONITORING"} {
		_, ok := p.DSD(name)
		assert.True(t, ok, name)
	}
	_, ok := p.DSD("OCCULTATION")
	assert.False(t, ok)
	_, ok = p.DSD("CAL_OPTIONS")
	assert.False(t, ok)

	states, err := layout.ReadStates(p)
	require.NoError(t, err)
	assert.Equal(t, res.States, states)
}
