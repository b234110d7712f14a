package layout_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/nadc.report/internal/binfmt"
	"github.com/banshee-data/nadc.report/internal/errs"
	"github.com/banshee-data/nadc.report/internal/layout"
	"github.com/banshee-data/nadc.report/internal/product"
	"github.com/banshee-data/nadc.report/internal/selector"
	"github.com/banshee-data/nadc.report/internal/synth"
	"github.com/banshee-data/nadc.report/internal/timeutil"
)

var start = time.Date(2004, 2, 29, 10, 0, 0, 0, time.UTC)

func build(t *testing.T, spec synth.Spec) (*product.Product, []layout.StateDescriptor) {
	t.Helper()
	res, err := synth.Build(spec)
	require.NoError(t, err)
	raw, err := res.Writer.Bytes()
	require.NoError(t, err)
	p, err := product.FromBytes("synth", raw)
	require.NoError(t, err)
	states, err := layout.ReadStates(p)
	require.NoError(t, err)
	return p, states
}

func TestLengthsCoverStream(t *testing.T) {
	t.Parallel()
	p, states := build(t, synth.Default(start))

	for _, kind := range []layout.StreamKind{layout.Nadir, layout.Limb, layout.Monitoring} {
		table, err := layout.ComputeOffsets(p, kind, states, selector.All(), nil, layout.Filter{})
		require.NoError(t, err, kind)

		dsd, ok := p.DSD(kind.String())
		require.True(t, ok)
		assert.Equal(t, dsd.Size, table.TotalLength(), kind)

		// entries are contiguous from the stream start
		next := dsd.Offset
		for _, e := range table.Entries {
			require.Equal(t, layout.Selected, e.Status)
			assert.Equal(t, next, e.Offset)
			next += e.Length
		}
	}
}

func TestSelectorDoesNotChangeSizes(t *testing.T) {
	t.Parallel()
	p, states := build(t, synth.Default(start))

	full, err := layout.ComputeOffsets(p, layout.Nadir, states, selector.All(), nil, layout.Filter{})
	require.NoError(t, err)
	only2, err := layout.ComputeOffsets(p, layout.Nadir, states, selector.Of(1), nil, layout.Filter{})
	require.NoError(t, err)

	require.Len(t, only2.Entries, len(full.Entries))
	for i, e := range only2.Entries {
		assert.Equal(t, full.Entries[i].Offset, e.Offset)
		assert.Equal(t, full.Entries[i].Length, e.Length)
		require.Len(t, e.Clusters, 3)
		assert.False(t, e.Clusters[0].Selected)
		assert.True(t, e.Clusters[1].Selected)
		assert.False(t, e.Clusters[2].Selected)
	}
}

func TestEmptyLimbStream(t *testing.T) {
	t.Parallel()
	spec := synth.Default(start)
	spec.States = []synth.StateSpec{spec.States[0], spec.States[2]} // nadir only
	p, states := build(t, spec)

	limb, err := layout.ComputeOffsets(p, layout.Limb, states, selector.All(), nil, layout.Filter{})
	require.NoError(t, err)
	assert.Empty(t, limb.Entries)
	assert.Zero(t, limb.TotalLength())

	nadir, err := layout.ComputeOffsets(p, layout.Nadir, states, selector.All(), nil, layout.Filter{})
	require.NoError(t, err)
	assert.Len(t, nadir.Selected(), 2)
}

func TestTimestampMismatchIsAbsent(t *testing.T) {
	t.Parallel()
	p, states := build(t, synth.Default(start))

	// A declared nadir state whose data was never written.
	phantom := states[0]
	phantom.Index = 99
	phantom.Time = timeutil.FromTime(start.Add(30 * time.Second))
	withPhantom := []layout.StateDescriptor{states[0], phantom, states[1], states[2], states[3]}

	table, err := layout.ComputeOffsets(p, layout.Nadir, withPhantom, selector.All(), nil, layout.Filter{})
	require.NoError(t, err)
	require.Len(t, table.Entries, 3)
	assert.Equal(t, layout.Selected, table.Entries[0].Status)
	assert.Equal(t, layout.Absent, table.Entries[1].Status)
	assert.Zero(t, table.Entries[1].Length)
	assert.Equal(t, layout.Selected, table.Entries[2].Status)
	assert.Equal(t, table.Entries[0].Offset+table.Entries[0].Length, table.Entries[2].Offset)

	dsd, _ := p.DSD("NADIR")
	assert.Equal(t, dsd.Size, table.TotalLength())
}

func TestDetachedStateIsAbsent(t *testing.T) {
	t.Parallel()
	spec := synth.Default(start)
	spec.States[0].Detached = true
	p, states := build(t, spec)

	table, err := layout.ComputeOffsets(p, layout.Nadir, states, selector.All(), nil, layout.Filter{})
	require.NoError(t, err)
	require.Len(t, table.Entries, 2)
	assert.Equal(t, layout.Absent, table.Entries[0].Status)
	assert.Equal(t, layout.Selected, table.Entries[1].Status)
}

func TestOverrunIsFatal(t *testing.T) {
	t.Parallel()
	p, states := build(t, synth.Default(start))

	// Pretend the last nadir state has more pixels than were written.
	states[2].Clusters = append([]layout.ClusterDescriptor(nil), states[2].Clusters...)
	states[2].Clusters[0].PixelCount += 100

	_, err := layout.ComputeOffsets(p, layout.Nadir, states, selector.All(), nil, layout.Filter{})
	require.Error(t, err)
	var fe *errs.FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "NADIR", fe.Section)
}

func TestContentFilterClassifiesAfterAdvance(t *testing.T) {
	t.Parallel()
	p, states := build(t, synth.Default(start))

	filter := layout.Filter{Start: start.Add(90 * time.Second)}
	table, err := layout.ComputeOffsets(p, layout.Nadir, states, selector.All(), nil, filter)
	require.NoError(t, err)
	require.Len(t, table.Entries, 2)
	assert.Equal(t, layout.Filtered, table.Entries[0].Status)
	assert.Equal(t, layout.Selected, table.Entries[1].Status)
	assert.Equal(t, table.Entries[0].Offset+table.Entries[0].Length, table.Entries[1].Offset)

	byCategory, err := layout.ComputeOffsets(p, layout.Limb, states, selector.All(), nil, layout.Filter{Categories: []uint16{1}})
	require.NoError(t, err)
	require.Len(t, byCategory.Entries, 1)
	assert.Equal(t, layout.Filtered, byCategory.Entries[0].Status)
}

func TestCalOptionsWriterMask(t *testing.T) {
	t.Parallel()
	spec := synth.Default(start)
	opts := layout.NewCalOptions()
	opts.Clusters[layout.Nadir] = selector.Of(0, 2)
	opts.Streams[layout.Limb] = false
	spec.CalOptions = opts
	p, states := build(t, spec)

	decoded, ok, err := layout.ReadCalOptions(p)
	require.NoError(t, err)
	require.True(t, ok)

	nadir, err := layout.ComputeOffsets(p, layout.Nadir, states, selector.All(), decoded, layout.Filter{})
	require.NoError(t, err)
	dsd, _ := p.DSD("NADIR")
	assert.Equal(t, dsd.Size, nadir.TotalLength())
	for _, e := range nadir.Entries {
		require.Len(t, e.Clusters, 2)
		assert.Equal(t, uint8(1), e.Clusters[0].ID)
		assert.Equal(t, uint8(3), e.Clusters[1].ID)
	}

	limb, err := layout.ComputeOffsets(p, layout.Limb, states, selector.All(), decoded, layout.Filter{})
	require.NoError(t, err)
	assert.Empty(t, limb.Entries)
}

func TestCalOptionsTimeFilterSkipsWithoutReading(t *testing.T) {
	t.Parallel()
	spec := synth.Default(start)
	opts := layout.NewCalOptions()
	opts.TimeFilter = true
	opts.StartTime = timeutil.FromTime(start.Add(90 * time.Second))
	opts.StopTime = timeutil.FromTime(start.Add(time.Hour))
	spec.CalOptions = opts
	p, states := build(t, spec)

	table, err := layout.ComputeOffsets(p, layout.Nadir, states, selector.All(), opts, layout.Filter{})
	require.NoError(t, err)
	require.Len(t, table.Entries, 2)
	assert.Equal(t, layout.Absent, table.Entries[0].Status)
	assert.Equal(t, layout.Selected, table.Entries[1].Status)
	dsd, _ := p.DSD("NADIR")
	assert.Equal(t, dsd.Offset, table.Entries[1].Offset)
}

// fixedProduct writes a stream of fixed-size records, each starting with
// the owning state's timestamp.
func fixedProduct(t *testing.T, name string, dsrSize int64, states []layout.StateDescriptor, lengthDSR int64) *product.Product {
	t.Helper()
	codec := binfmt.NewCodec(binfmt.BigEndian)
	var stream []byte
	var n int64
	for _, s := range states {
		for i := 0; i < int(s.NumDSR); i++ {
			rec := make([]byte, lengthDSR)
			stamp, err := codec.Encode(layout.MJDRecord(s.Time), layout.MJDLayout)
			require.NoError(t, err)
			copy(rec, stamp)
			stream = append(stream, rec...)
			n++
		}
	}
	stateBytes, err := layout.EncodeStates(codec, states)
	require.NoError(t, err)

	w := product.NewWriter(name)
	w.AddDataSet("STATES", "A", stateBytes, int64(len(states)), int64(layout.StateLayout.Size()))
	w.AddDataSet("NADIR", "M", stream, n, dsrSize)
	raw, err := w.Bytes()
	require.NoError(t, err)
	p, err := product.FromBytes(name, raw)
	require.NoError(t, err)
	return p
}

func nadirStates(n int, numDSR uint16, lengthDSR uint32) []layout.StateDescriptor {
	states := make([]layout.StateDescriptor, n)
	for i := range states {
		states[i] = layout.StateDescriptor{
			Index:     i,
			Time:      timeutil.FromTime(start.Add(time.Duration(i) * time.Minute)),
			Attached:  true,
			Kind:      layout.Nadir,
			NumDSR:    numDSR,
			LengthDSR: lengthDSR,
		}
	}
	return states
}

func TestFixedRecordOffsets(t *testing.T) {
	t.Parallel()
	states := nadirStates(3, 2, 0)
	p := fixedProduct(t, "SCI_NLC_1PFIXED", 50, states, 50)

	table, err := layout.ComputeOffsets(p, layout.Nadir, states, selector.All(), nil, layout.Filter{})
	require.NoError(t, err)
	dsd, _ := p.DSD("NADIR")
	require.Len(t, table.Entries, 3)
	for i, e := range table.Entries {
		assert.Equal(t, dsd.Offset+int64(i)*2*50, e.Offset)
		assert.Equal(t, int64(100), e.Length)
		assert.Equal(t, 2, e.Count)
	}
	assert.Equal(t, dsd.Size, table.TotalLength())
}

func TestLevel1bAdvancesByStateDSRLength(t *testing.T) {
	t.Parallel()
	states := nadirStates(2, 3, 64)
	p := fixedProduct(t, "SCI_NL__1PLEVEL1B", -1, states, 64)

	table, err := layout.ComputeOffsets(p, layout.Nadir, states, selector.All(), nil, layout.Filter{})
	require.NoError(t, err)
	require.Len(t, table.Entries, 2)
	assert.Equal(t, layout.Level1b, table.Level)
	assert.Equal(t, int64(3*64), table.Entries[0].Length)
	assert.Equal(t, table.Entries[0].Offset+192, table.Entries[1].Offset)
	assert.Nil(t, table.Entries[0].Clusters)
}

func TestCache(t *testing.T) {
	t.Parallel()
	p, states := build(t, synth.Default(start))
	cache := layout.NewCache(p)

	a, err := cache.Offsets(layout.Nadir, states, selector.All(), nil, layout.Filter{})
	require.NoError(t, err)
	b, err := cache.Offsets(layout.Nadir, states, selector.All(), nil, layout.Filter{})
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := cache.Offsets(layout.Nadir, states, selector.All(), nil, layout.Filter{Categories: []uint16{1}})
	require.NoError(t, err)
	assert.NotSame(t, a, c)

	_, err = cache.Offsets(layout.Nadir, states, selector.All(), layout.NewCalOptions(), layout.Filter{})
	require.NoError(t, err)

	hits, misses := cache.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 3, misses)
}
