package mds_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/nadc.report/internal/binfmt"
	"github.com/banshee-data/nadc.report/internal/errs"
	"github.com/banshee-data/nadc.report/internal/layout"
	"github.com/banshee-data/nadc.report/internal/mds"
	"github.com/banshee-data/nadc.report/internal/product"
	"github.com/banshee-data/nadc.report/internal/selector"
	"github.com/banshee-data/nadc.report/internal/synth"
	"github.com/banshee-data/nadc.report/internal/timeutil"
)

var start = time.Date(2004, 2, 29, 10, 0, 0, 0, time.UTC)

func open(t *testing.T, spec synth.Spec) (*product.Product, []layout.StateDescriptor) {
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

func TestReadNadirStream(t *testing.T) {
	t.Parallel()
	p, states := open(t, synth.Default(start))

	table, err := layout.ComputeOffsets(p, layout.Nadir, states, selector.All(), nil, layout.Filter{})
	require.NoError(t, err)

	recs, err := mds.NewReader(p).ReadStream(table)
	require.NoError(t, err)

	// state 0: NumDSR 2 -> clusters with 1,2,1 readouts give 2+4+2 observations
	// state 2: NumDSR 1 -> 1+2+1
	require.Len(t, recs, 8+4)

	first := recs[0]
	assert.Equal(t, layout.Nadir, first.Stream)
	assert.Equal(t, uint8(1), first.ClusterID)
	assert.Equal(t, uint8(1), first.Channel)
	assert.Equal(t, uint16(7), first.StateID)
	assert.Equal(t, timeutil.FromTime(start), first.Time)
	assert.Len(t, first.Values, 8)
	assert.Len(t, first.Wavelength, 8)
	assert.InDelta(t, 200.0, first.Wavelength[0], 1e-4)
	assert.InDelta(t, 1000.0, first.Values[0], 1e-3)
	assert.Equal(t, 1.0, first.IntegrationTime)
	assert.Equal(t, uint16(1), first.CoaddFactor)
	assert.Len(t, first.Geo.Corners, 4)
	assert.InDelta(t, -10.0, first.Geo.Center.Lat, 1e-6)
	assert.InDelta(t, 179.6, first.Geo.Center.Lon, 1e-6)

	// second observation of the first cluster is one integration time later
	second := recs[1]
	assert.Equal(t, first.ClusterID, second.ClusterID)
	assert.Equal(t, start.Add(time.Second), second.Time.Time())
	assert.InDelta(t, 1010.0, second.Values[0], 1e-3)
}

func TestReadOnlySelectedClusters(t *testing.T) {
	t.Parallel()
	p, states := open(t, synth.Default(start))

	table, err := layout.ComputeOffsets(p, layout.Nadir, states, selector.Of(2), nil, layout.Filter{})
	require.NoError(t, err)
	recs, err := mds.NewReader(p).ReadStream(table)
	require.NoError(t, err)
	require.Len(t, recs, 2+1)
	for _, r := range recs {
		assert.Equal(t, uint8(3), r.ClusterID)
		assert.Equal(t, uint8(2), r.Channel)
	}
}

func TestReadLimbAndMonitoring(t *testing.T) {
	t.Parallel()
	p, states := open(t, synth.Default(start))
	reader := mds.NewReader(p)

	limb, err := layout.ComputeOffsets(p, layout.Limb, states, selector.All(), nil, layout.Filter{})
	require.NoError(t, err)
	recs, err := reader.ReadStream(limb)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Len(t, recs[0].Geo.TangentPoints, 3)
	assert.InDelta(t, 30.0, recs[0].Geo.TangentHeight[1], 1e-4)

	moni, err := layout.ComputeOffsets(p, layout.Monitoring, states, selector.All(), nil, layout.Filter{})
	require.NoError(t, err)
	recs, err = reader.ReadStream(moni)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, recs[0].Geo.SubSatellite, recs[0].Geo.Center)

	occ, err := layout.ComputeOffsets(p, layout.Occultation, states, selector.All(), nil, layout.Filter{})
	require.NoError(t, err)
	recs, err = reader.ReadStream(occ)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSaturatedPixels(t *testing.T) {
	t.Parallel()
	codec := binfmt.NewCodec(binfmt.BigEndian)
	geo := mds.Geo{SubSatellite: mds.Coord{Lat: 1, Lon: 2}, PosASM: 3}
	data := mds.ClusterData{
		Time:          timeutil.FromTime(start),
		ClusterID:     1,
		Quality:       mds.Quality{Status: 3, Saturated: true, Glint: 2},
		PixelIDs:      []uint16{0, 1},
		Wavelength:    []float64{250, 250.5},
		WavelengthErr: []float64{0, 0},
		Values:        [][]float64{{10, 20}},
		Errors:        [][]float64{{1, -2}},
		Geo:           []mds.Geo{geo},
	}
	b, err := mds.EncodeCluster(codec, layout.Monitoring, data)
	require.NoError(t, err)
	assert.Len(t, b, int(layout.Monitoring.ClusterRecordSize(2, 1)))

	state := layout.StateDescriptor{
		Time: data.Time, Attached: true, Kind: layout.Monitoring, NumDSR: 1,
		Clusters: []layout.ClusterDescriptor{synth.Cluster(1, 8, 0, 2, 1)},
	}
	stateBytes, err := layout.EncodeStates(codec, []layout.StateDescriptor{state})
	require.NoError(t, err)
	w := product.NewWriter("SCI_NLC_1PSATURATED")
	w.AddDataSet("STATES", "A", stateBytes, 1, int64(layout.StateLayout.Size()))
	w.AddDataSet("MONITORING", "M", b, 1, -1)
	raw, err := w.Bytes()
	require.NoError(t, err)
	p, err := product.FromBytes("sat", raw)
	require.NoError(t, err)
	states, err := layout.ReadStates(p)
	require.NoError(t, err)

	table, err := layout.ComputeOffsets(p, layout.Monitoring, states, selector.All(), nil, layout.Filter{})
	require.NoError(t, err)
	recs, err := mds.NewReader(p).ReadStream(table)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []bool{false, true}, recs[0].Saturated)
	assert.Equal(t, []float64{1, 2}, recs[0].Errors)
	assert.Equal(t, mds.Quality{Status: 3, Saturated: true, Glint: 2}, recs[0].Quality)
	assert.Equal(t, uint8(8), recs[0].Channel)
}

func TestLengthMismatchIsFormatError(t *testing.T) {
	t.Parallel()
	p, states := open(t, synth.Default(start))
	table, err := layout.ComputeOffsets(p, layout.Nadir, states, selector.All(), nil, layout.Filter{})
	require.NoError(t, err)

	// Shift the first cluster span: the header found there is not the one expected.
	table.Entries[0].Clusters[0].Length -= 8
	_, err = mds.NewReader(p).ReadStream(table)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrFormat))
}

func TestLevel1bNotDecoded(t *testing.T) {
	t.Parallel()
	table := &layout.OffsetTable{Kind: layout.Nadir, Level: layout.Level1b, Entries: []layout.Entry{{Status: layout.Selected}}}
	p, _ := open(t, synth.Default(start))
	recs, err := mds.NewReader(p).ReadStream(table)
	assert.Empty(t, recs)
	assert.True(t, errors.Is(err, errs.ErrAbsent))
	assert.False(t, errs.IsFatal(err))

	report := &errs.Report{}
	report.Add("decode NADIR", err)
	fatal, warnings := report.Counts()
	assert.Equal(t, 0, fatal)
	assert.Equal(t, 1, warnings)
}

func TestEncodeClusterRejectsShapeMismatch(t *testing.T) {
	t.Parallel()
	codec := binfmt.NewCodec(binfmt.BigEndian)
	_, err := mds.EncodeCluster(codec, layout.Nadir, mds.ClusterData{
		PixelIDs:      []uint16{1, 2},
		Wavelength:    []float64{1},
		WavelengthErr: []float64{1, 2},
	})
	assert.Error(t, err)
}
