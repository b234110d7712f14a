package calib

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/nadc.report/internal/errs"
	"github.com/banshee-data/nadc.report/internal/fsutil"
	"github.com/banshee-data/nadc.report/internal/layout"
	"github.com/banshee-data/nadc.report/internal/mds"
)

func record(channel uint8, values ...float64) mds.DetectorRecord {
	n := len(values)
	rec := mds.DetectorRecord{
		Stream:          layout.Nadir,
		ClusterID:       1,
		Channel:         channel,
		PixelIDs:        make([]uint16, n),
		Wavelength:      make([]float64, n),
		Values:          append([]float64(nil), values...),
		Errors:          make([]float64, n),
		Saturated:       make([]bool, n),
		IntegrationTime: 1,
		CoaddFactor:     1,
	}
	for p := range values {
		rec.PixelIDs[p] = uint16(p) + uint16(channel-1)*ChannelPixels
		rec.Wavelength[p] = 300 + float64(p)
		rec.Errors[p] = 1
	}
	return rec
}

func batch(channel uint8, recs ...mds.DetectorRecord) *Batch {
	return &Batch{Stream: layout.Nadir, ClusterID: 1, Channel: channel, Records: recs}
}

func ptr(v float64) *float64 { return &v }

func rows(n, width int, value func(row, p int) float64) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, width)
		for p := range out[i] {
			out[i][p] = value(i, p)
		}
	}
	return out
}

func TestParseFlags(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    Flags
		wantErr bool
	}{
		{in: "all", want: AllFlags},
		{in: "", want: NoFlags},
		{in: "none", want: NoFlags},
		{in: "dark,stray", want: Dark | StrayLight},
		{in: " Pol , pixel_gain ", want: Polarization | PixelGain},
		{in: "dark,bogus", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseFlags(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "dark,stray", (Dark | StrayLight).String())
	assert.Equal(t, "all", AllFlags.String())
}

func TestCoadd(t *testing.T) {
	t.Parallel()

	t.Run("record factor", func(t *testing.T) {
		t.Parallel()
		rec := record(1, 1, 2)
		rec.CoaddFactor = 2
		res := Run(batch(1, rec), &Context{}, Coadd)
		require.NoError(t, res.Err)
		assert.Equal(t, []float64{2, 4}, rec.Values)
		assert.Equal(t, Coadd, res.Applied)
	})

	t.Run("average mode uses sub-state", func(t *testing.T) {
		t.Parallel()
		rec := record(3, 1, 2)
		c := &Context{AverageMode: true, Channels: map[uint8]*ChannelTables{3: {SubState: 2}}}
		res := Run(batch(3, rec), c, Coadd)
		require.NoError(t, res.Err)
		assert.Equal(t, []float64{4, 8}, rec.Values)
	})

	t.Run("invalid factor aborts", func(t *testing.T) {
		t.Parallel()
		rec := record(1, 1)
		rec.CoaddFactor = 3
		res := Run(batch(1, rec), &Context{}, Coadd)
		assert.ErrorIs(t, res.Err, errs.ErrFormat)
	})
}

func TestDarkFollowsLeakageIndexPerRecord(t *testing.T) {
	t.Parallel()
	c := &Context{Channels: map[uint8]*ChannelTables{
		1: {Dark: rows(mds.LeakageBins, 4, func(row, p int) float64 { return float64(10 * row) })},
	}}
	a := record(1, 100, 100)
	b := record(1, 100, 100)
	b.LeakageIndex = 2
	bt := batch(1, a, b)

	res := Run(bt, c, Dark)
	require.NoError(t, res.Err)
	assert.Equal(t, []float64{100, 100}, bt.Records[0].Values)
	assert.Equal(t, []float64{80, 80}, bt.Records[1].Values)
}

func TestDarkTableTooSmall(t *testing.T) {
	t.Parallel()
	c := &Context{Channels: map[uint8]*ChannelTables{
		1: {Dark: rows(mds.LeakageBins, 1, func(int, int) float64 { return 0 })},
	}}
	res := Run(batch(1, record(1, 1, 2)), c, Dark)
	assert.ErrorIs(t, res.Err, errs.ErrMissingTable)
}

func TestPixelGain(t *testing.T) {
	t.Parallel()
	c := &Context{Channels: map[uint8]*ChannelTables{2: {PixelGain: []float64{2, 0.5, 1}}}}
	bt := batch(2, record(2, 10, 10, 10))
	res := Run(bt, c, PixelGain)
	require.NoError(t, res.Err)
	assert.Equal(t, []float64{20, 5, 10}, bt.Records[0].Values)
	assert.Equal(t, []float64{2, 0.5, 1}, bt.Records[0].Errors)
}

func TestStrayLight(t *testing.T) {
	t.Parallel()

	t.Run("uniform term", func(t *testing.T) {
		t.Parallel()
		c := &Context{StrayHalfWidth: 3, Channels: map[uint8]*ChannelTables{1: {StrayFraction: ptr(0.1)}}}
		bt := batch(1, record(1, 10, 20, 30))
		bt.Records[0].IntegrationTime = 2
		res := Run(bt, c, StrayLight)
		require.NoError(t, res.Err)
		assert.InDeltaSlice(t, []float64{6, 16, 26}, bt.Records[0].Values, 1e-12)
		assert.Empty(t, res.Warnings)
	})

	t.Run("ghost term at mirror pixels", func(t *testing.T) {
		t.Parallel()
		c := &Context{StrayHalfWidth: 1, Channels: map[uint8]*ChannelTables{
			1: {Ghosts: []GhostParam{{Offset: 0, Scale: 0.5}}},
		}}
		bt := batch(1, record(1, 1, 2, 3, 4))
		res := Run(bt, c, StrayLight)
		require.NoError(t, res.Err)
		assert.InDeltaSlice(t, []float64{-1, 0.5, 2, 3.5}, bt.Records[0].Values, 1e-12)
	})

	t.Run("narrow kernel zeroes ghost term", func(t *testing.T) {
		t.Parallel()
		c := &Context{StrayHalfWidth: 0.5, Channels: map[uint8]*ChannelTables{
			1: {StrayFraction: ptr(0), Ghosts: []GhostParam{{Offset: 1, Scale: 1}}},
		}}
		bt := batch(1, record(1, 1, 2, 3))
		res := Run(bt, c, StrayLight)
		require.NoError(t, res.Err)
		assert.Equal(t, []float64{1, 2, 3}, bt.Records[0].Values)
		require.Len(t, res.Warnings, 1)
		assert.ErrorIs(t, res.Warnings[0], errs.ErrDegenerate)
	})

	t.Run("missing parameters", func(t *testing.T) {
		t.Parallel()
		res := Run(batch(1, record(1, 1)), &Context{}, StrayLight)
		assert.ErrorIs(t, res.Err, errs.ErrMissingTable)
	})
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	good := record(1, 4, 8)
	good.IntegrationTime = 4
	bad := record(1, 4, 8)
	bad.IntegrationTime = 0
	bt := batch(1, good, bad)

	res := Run(bt, nil, Normalize)
	require.NoError(t, res.Err)
	assert.Equal(t, []float64{1, 2}, bt.Records[0].Values)
	assert.Equal(t, []float64{0.25, 0.25}, bt.Records[0].Errors)
	assert.Equal(t, []float64{0, 0}, bt.Records[1].Values)
	require.Len(t, res.Warnings, 1)
	var dn *errs.DegenerateNumeric
	require.True(t, errors.As(res.Warnings[0], &dn))
	assert.Equal(t, "normalize", dn.Stage)
}

func TestFitQU(t *testing.T) {
	t.Parallel()
	at := []float64{250, 300, 350, 400, 450}

	t.Run("no valid samples is neutral", func(t *testing.T) {
		t.Parallel()
		pv := PolValues{
			Samples: []PolSample{{Wavelength: 300, Q: 0.2, U: 0.1, ErrQ: -1, ErrU: -1}},
			GDF:     GDF{Beta: -99, PBar: -99, W0: -99},
		}
		q, u, err := FitQU(pv, 100, at)
		require.NoError(t, err)
		assert.Equal(t, []float64{0.5, 0.5, 0.5, 0.5, 0.5}, q)
		assert.Equal(t, []float64{0.5, 0.5, 0.5, 0.5, 0.5}, u)
	})

	t.Run("one valid sample is flat", func(t *testing.T) {
		t.Parallel()
		pv := PolValues{
			Samples: []PolSample{
				{Wavelength: 320, Q: -0.3, U: 0.1},
				{Wavelength: 400, Q: 0.9, U: 0.9, ErrQ: -1, ErrU: -1},
			},
			Theory: PolSample{ErrQ: -1, ErrU: -1},
		}
		q, u, err := FitQU(pv, 100, at)
		require.NoError(t, err)
		for i := range at {
			assert.Equal(t, 0.3, q[i])
			assert.Equal(t, 0.1, u[i])
		}
	})

	t.Run("several samples are interpolated and clamped", func(t *testing.T) {
		t.Parallel()
		pv := PolValues{
			Samples: []PolSample{
				{Wavelength: 400, Q: -0.4, U: 0.9},
				{Wavelength: 300, Q: -0.2, U: 1.5},
				{Wavelength: 350, Q: -0.3, U: 1.2},
			},
			Theory: PolSample{ErrQ: -1},
		}
		q, u, err := FitQU(pv, 100, at)
		require.NoError(t, err)
		assert.InDelta(t, 0.2, q[1], 1e-9)
		assert.InDelta(t, 0.3, q[2], 1e-9)
		assert.InDelta(t, 0.4, q[3], 1e-9)
		assert.InDelta(t, 0.2, q[0], 1e-9)
		assert.InDelta(t, 0.4, q[4], 1e-9)
		for i := range u {
			assert.GreaterOrEqual(t, u[i], 0.0)
			assert.LessOrEqual(t, u[i], 1.0)
		}
		assert.InDelta(t, 0.9, u[3], 1e-9)
	})

	t.Run("analytic curve adds points", func(t *testing.T) {
		t.Parallel()
		pv := PolValues{
			Theory: PolSample{Wavelength: 300, Q: 0.2, U: 0.1},
			GDF:    GDF{Beta: 0.05, PBar: 0.1, W0: 0.4},
		}
		q, _, err := FitQU(pv, 60, at)
		require.NoError(t, err)
		// Below the first curve point, at 302 nm, the fit holds its value.
		f := math.Exp(0.05 * -2)
		assert.InDelta(t, 0.1+0.4*f/((1+f)*(1+f)), q[0], 1e-9)
	})
}

func TestGDFValid(t *testing.T) {
	t.Parallel()
	assert.True(t, GDF{Beta: 0.1, PBar: 0.2, W0: 0.3}.Valid())
	assert.False(t, GDF{Beta: -99, PBar: 0.2, W0: 0.3}.Valid())
	assert.False(t, GDF{Beta: 0.1, PBar: -98.6, W0: 0.3}.Valid())
}

func TestPolarizationCorrection(t *testing.T) {
	t.Parallel()
	sens := &Sensitivity{
		Angles: []float64{-20, 0, 20},
		Mu2:    rows(3, 4, func(row, p int) float64 { return 0.2 * float64(row) }),
		Mu3:    rows(3, 4, func(int, int) float64 { return 0.2 }),
	}
	c := &Context{MirrorZero: 5, Channels: map[uint8]*ChannelTables{1: {Sensitivity: sens}}}
	rec := record(1, 12, 12)
	rec.Geo.PosESM = 10 // mirror angle 5 + 10/2 = 10, halfway between rows 1 and 2: mu2 = 0.3
	assert.Equal(t, 10.0, c.MirrorAngle(rec.Geo.PosESM))

	res := Run(batch(1, rec), c, Polarization)
	require.NoError(t, res.Err)
	// q = u = 0.5: 1 + 0.3*0.5 + 0.2*0.5 = 1.25
	assert.InDeltaSlice(t, []float64{9.6, 9.6}, rec.Values, 1e-9)

	res = Run(batch(1, record(1, 1)), &Context{}, Polarization)
	assert.ErrorIs(t, res.Err, errs.ErrMissingTable)
}

func TestRadiometric(t *testing.T) {
	t.Parallel()
	c := &Context{Channels: map[uint8]*ChannelTables{
		1: {Response: &Curve{Wavelength: []float64{200, 400}, Value: []float64{2, 2}}},
		2: {Response: &Curve{Wavelength: []float64{200, 400}, Value: []float64{0, 0}}},
	}}
	bt := batch(1, record(1, 4, 6))
	res := Run(bt, c, Radiometric)
	require.NoError(t, res.Err)
	assert.InDeltaSlice(t, []float64{2, 3}, bt.Records[0].Values, 1e-12)

	bt = batch(2, record(2, 4, 6))
	res = Run(bt, c, Radiometric)
	require.NoError(t, res.Err)
	assert.Equal(t, []float64{0, 0}, bt.Records[0].Values)
	assert.Len(t, res.Warnings, 2)
}

func TestPhoton(t *testing.T) {
	t.Parallel()
	bt := batch(1, record(1, 1))
	res := Run(bt, nil, Photon)
	require.NoError(t, res.Err)
	want := 300e-9 / (planck * speedOfLight)
	assert.InEpsilon(t, want, bt.Records[0].Values[0], 1e-12)
}

func TestStagesRunInOrder(t *testing.T) {
	t.Parallel()
	c := &Context{Channels: map[uint8]*ChannelTables{
		1: {Dark: rows(mds.LeakageBins, 2, func(int, int) float64 { return 1 })},
	}}
	rec := record(1, 5, 7)
	rec.CoaddFactor = 2
	rec.IntegrationTime = 2
	res := Run(batch(1, rec), c, Coadd|Dark|Normalize)
	require.NoError(t, res.Err)
	// (v*2 - 1) / 2
	assert.Equal(t, []float64{4.5, 6.5}, rec.Values)
	assert.Equal(t, Coadd|Dark|Normalize, res.Applied)
}

func TestRunAllIsolatesFailures(t *testing.T) {
	t.Parallel()
	c := &Context{Channels: map[uint8]*ChannelTables{
		1: {Dark: rows(mds.LeakageBins, 8, func(int, int) float64 { return 1 })},
	}}
	batches := []*Batch{
		batch(1, record(1, 2, 3)),
		batch(2, record(2, 2, 3)),
		batch(1, record(1, 5), record(1, 6)),
	}
	report := &errs.Report{}
	p := &Pipeline{Context: c, Flags: Dark, Workers: 2, Report: report}

	sum := p.RunAll(batches)
	assert.Equal(t, 3, sum.Clusters)
	assert.Equal(t, 1, sum.FailedClusters)
	assert.Equal(t, 4, sum.Records)
	assert.ErrorIs(t, sum.Results[1].Err, errs.ErrMissingTable)
	assert.Equal(t, []float64{1, 2}, batches[0].Records[0].Values)
	assert.Equal(t, []float64{2, 3}, batches[1].Records[0].Values)
	assert.Equal(t, []float64{4}, batches[2].Records[0].Values)

	fatal, warnings := report.Counts()
	assert.Equal(t, 1, fatal)
	assert.Zero(t, warnings)
}

func TestGroupBatches(t *testing.T) {
	t.Parallel()
	a := record(1, 1)
	b := record(1, 2)
	b.ClusterID = 2
	c := record(1, 3)
	d := record(1, 4)
	d.StateIndex = 5

	got := GroupBatches([]mds.DetectorRecord{a, b, c, d})
	require.Len(t, got, 3)
	assert.Len(t, got[0].Records, 2)
	assert.Equal(t, uint8(2), got[1].ClusterID)
	assert.Equal(t, 5, got[2].StateIndex)
}

func TestLoadContext(t *testing.T) {
	t.Parallel()
	tables := Context{
		StrayHalfWidth: 3,
		GDFSpan:        60,
		Channels: map[uint8]*ChannelTables{
			1: {
				SubState:      1,
				Dark:          rows(mds.LeakageBins, 3, func(int, int) float64 { return 1 }),
				PixelGain:     []float64{1, 1, 1},
				StrayFraction: ptr(0.01),
				Response:      &Curve{Wavelength: []float64{200, 300}, Value: []float64{1, 2}},
			},
		},
	}
	raw, err := json.Marshal(tables)
	require.NoError(t, err)
	zst, err := fsutil.Compress(fsutil.CompressionZstd, raw)
	require.NoError(t, err)

	fsys := fsutil.NewMemoryFileSystem()
	fsys.WriteFile("tables.json", raw)
	fsys.WriteFile("tables.json.zst", zst)
	fsys.WriteFile("tables.txt", raw)
	fsys.WriteFile("bad.json", []byte(`{"channels":{"1":{"dark":[[1,2]]}}}`))

	for _, name := range []string{"tables.json", "tables.json.zst"} {
		c, err := LoadContext(fsys, name)
		require.NoError(t, err, name)
		require.NotNil(t, c.Channel(1))
		assert.Equal(t, 1, c.Channel(1).SubState)
		assert.Equal(t, 0.01, *c.Channel(1).StrayFraction)
		assert.Nil(t, c.Channel(2))
	}

	_, err = LoadContext(fsys, "tables.txt")
	assert.Error(t, err)
	_, err = LoadContext(fsys, "bad.json")
	assert.ErrorContains(t, err, "dark table has 1 rows")
	_, err = LoadContext(fsys, "missing.json")
	assert.Error(t, err)

	for _, h := range []float64{math.Inf(1), math.NaN(), 4096} {
		c := Context{StrayHalfWidth: h}
		assert.ErrorContains(t, c.Validate(), "stray_half_width", "h=%v", h)
	}
}
