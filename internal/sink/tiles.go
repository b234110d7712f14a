package sink

import (
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/nadc.report/internal/calib/numeric"
	"github.com/banshee-data/nadc.report/internal/mds"
	"github.com/banshee-data/nadc.report/internal/tiles"
)

// TileSink turns nadir clusters into ground-pixel measurements and
// reconciles them against the tile store when flushed.
type TileSink struct {
	Reconciler *tiles.Reconciler
	Release    tiles.Release

	pending []tiles.Measurement
	result  tiles.Result
	skipped int
}

func NewTileSink(r *tiles.Reconciler, rel tiles.Release) *TileSink {
	return &TileSink{Reconciler: r, Release: rel}
}

// WriteCluster buffers one measurement per record that carries a full
// ground footprint. Records without four corners are counted and skipped.
func (s *TileSink) WriteCluster(_ context.Context, out ClusterOutput) error {
	source := fmt.Sprintf("%s/%d", out.Stream, out.ClusterID)
	for i, rec := range out.Records {
		m, ok := measurementFor(out.Product, source, i, rec)
		if !ok {
			s.skipped++
			continue
		}
		s.pending = append(s.pending, m)
	}
	return nil
}

func measurementFor(product, source string, pixel int, rec mds.DetectorRecord) (tiles.Measurement, bool) {
	g := rec.Geo
	if len(g.Corners) != 4 {
		return tiles.Measurement{}, false
	}
	m := tiles.Measurement{
		SourceID:    source,
		Product:     product,
		JulianDay:   rec.Time.JulianDay(),
		PixelNumber: pixel,
		SunZenith:   mid(g.SunZenith),
		LOSZenith:   mid(g.LOSZenith),
		RelAzimuth:  mid(g.LOSAzimuth) - mid(g.SunAzimuth),
		Center:      tiles.Coord{Lat: g.Center.Lat, Lon: g.Center.Lon},
		Payload:     []float64{numeric.FiniteMean(rec.Values)},
	}
	for c, corner := range g.Corners {
		m.Corners[c] = tiles.Coord{Lat: corner.Lat, Lon: corner.Lon}
	}
	return m, true
}

func mid(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	return vals[len(vals)/2]
}

// Flush reconciles all buffered measurements in one window spanning their
// times plus the matching tolerance.
func (s *TileSink) Flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	start, end := math.Inf(1), math.Inf(-1)
	for _, m := range s.pending {
		start = math.Min(start, m.JulianDay)
		end = math.Max(end, m.JulianDay)
	}
	tol := s.Reconciler.Tolerance
	if tol <= 0 {
		tol = tiles.Tolerance
	}
	res, err := s.Reconciler.Reconcile(ctx, s.pending, start-tol, end+tol, s.Release)
	if err != nil {
		return err
	}
	s.result.Inserted += res.Inserted
	s.result.Updated += res.Updated
	s.result.Associated += res.Associated
	s.result.Skipped += res.Skipped
	s.result.Stale += res.Stale
	logf("reconciled %d measurements (release %s): %d inserted, %d updated, %d stale, %d without footprint",
		len(s.pending), s.Release, res.Inserted, res.Updated, res.Stale, s.skipped)
	s.pending = s.pending[:0]
	return nil
}

// Result returns the accumulated reconciliation counts.
func (s *TileSink) Result() tiles.Result { return s.result }

func (s *TileSink) Close() error { return s.Flush(context.Background()) }
