package security

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"NADIR_state004_cluster02", "NADIR_state004_cluster02"},
		{"SCI NLC/1P: v4.1", "SCI_NLC_1P_v4.1"},
		{"../../etc/passwd", "etc_passwd"},
		{"", "unknown"},
		{"///", "unknown"},
		{"a  b", "a_b"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}
}

func TestSanitizeFilenameBoundsLength(t *testing.T) {
	t.Parallel()
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, SanitizeFilename(string(long)), maxNameLen)
}

func TestJoinWithin(t *testing.T) {
	t.Parallel()
	p, err := JoinWithin("out/plots", "a.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("out", "plots", "a.png"), p)

	p, err = JoinWithin("out", "sub/../b.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("out", "b.png"), p)

	for _, bad := range []string{"../x.png", "sub/../../x.png", "", "."} {
		_, err := JoinWithin("out", bad)
		assert.Error(t, err, bad)
	}
}
