package mds

import (
	"fmt"
	"time"

	"github.com/banshee-data/nadc.report/internal/binfmt"
	"github.com/banshee-data/nadc.report/internal/errs"
	"github.com/banshee-data/nadc.report/internal/layout"
	"github.com/banshee-data/nadc.report/internal/monitoring"
	"github.com/banshee-data/nadc.report/internal/product"
	"github.com/banshee-data/nadc.report/internal/timeutil"
)

var logf = monitoring.Scoped("mds")

// Reader decodes level-1c cluster records of one product.
type Reader struct {
	p     *product.Product
	codec binfmt.Codec
}

// NewReader returns a reader for p.
func NewReader(p *product.Product) *Reader {
	return &Reader{p: p, codec: p.Codec()}
}

// ReadStream decodes every selected cluster of every selected entry of
// table. Decoding stops at the first fatal error, which is returned with
// the records read so far; sibling streams are unaffected.
//
// Only level-1c cluster records are decoded. Other levels have offsets but
// no records and yield a non-fatal ErrAbsent.
func (r *Reader) ReadStream(table *layout.OffsetTable) ([]DetectorRecord, error) {
	if table.Level != layout.Level1c {
		if len(table.Entries) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: level %s readouts are not decoded: %w", table.Kind, table.Level, errs.ErrAbsent)
	}

	var out []DetectorRecord
	for _, e := range table.Entries {
		if e.Status != layout.Selected {
			continue
		}
		recs, err := r.ReadEntry(table.Kind, e)
		out = append(out, recs...)
		if err != nil {
			return out, err
		}
	}
	logf("stream %s: %d records from %d entries", table.Kind, len(out), len(table.Entries))
	return out, nil
}

// ReadEntry decodes the selected clusters of one entry.
func (r *Reader) ReadEntry(kind layout.StreamKind, e layout.Entry) ([]DetectorRecord, error) {
	var out []DetectorRecord
	for _, span := range e.Clusters {
		if !span.Selected {
			continue
		}
		recs, err := r.readCluster(kind, e.State, span)
		if err != nil {
			return out, fmt.Errorf("state %d cluster %d: %w", e.Index, span.ID, err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

func (r *Reader) readCluster(kind layout.StreamKind, state *layout.StateDescriptor, span layout.ClusterSpan) ([]DetectorRecord, error) {
	section := kind.String()
	b := make([]byte, span.Length)
	if err := r.p.ReadAt(b, span.Offset, section); err != nil {
		return nil, err
	}

	cur := r.codec.NewCursor(b, section)
	hdr := cur.Record(r.codec, clusterHeaderLayout)
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if n := int64(hdr.Uint("dsr_len")); n != span.Length {
		return nil, errs.Formatf(section, span.Offset, "cluster record length %d on disk, %d expected", n, span.Length)
	}
	if id := uint8(hdr.Uint("clus_id")); id != span.ID {
		return nil, errs.Formatf(section, span.Offset, "cluster id %d on disk, %d expected", id, span.ID)
	}
	obs, pix := int(hdr.Uint("nr_obs")), int(hdr.Uint("nr_pix"))
	if obs != span.Observations || pix != span.Pixels {
		return nil, errs.Formatf(section, span.Offset, "cluster shape %dx%d on disk, %dx%d expected", obs, pix, span.Observations, span.Pixels)
	}

	pixelIDs := cur.Uint16s(pix)
	wave := cur.Float32s(pix)
	waveErr := cur.Float32s(pix)
	values := cur.Float32s(obs * pix)
	errors := cur.Float32s(obs * pix)
	geoLayout := GeoLayout(kind)
	geoBytes := cur.Bytes(obs * geoLayout.Size())
	if err := cur.Err(); err != nil {
		return nil, err
	}
	geos, err := r.codec.DecodeArray(geoBytes, geoLayout, obs)
	if err != nil {
		return nil, err
	}

	desc := state.Clusters[span.Index]
	start := layout.MJDFromRecord(hdr.Sub("mjd"))
	phase := hdr.Float("orbit_phase")
	quality := qualityFrom(hdr.Sub("quality"))
	step := desc.IntegrationSeconds()

	out := make([]DetectorRecord, obs)
	for i := range out {
		row := values[i*pix : (i+1)*pix : (i+1)*pix]
		rowErr := errors[i*pix : (i+1)*pix : (i+1)*pix]
		saturated := make([]bool, pix)
		for p, v := range rowErr {
			if v < 0 {
				saturated[p] = true
				rowErr[p] = -v
			}
		}
		out[i] = DetectorRecord{
			Time:            offsetMJD(start, float64(i)*step),
			Stream:          kind,
			StateIndex:      state.Index,
			Quality:         quality,
			ClusterID:       span.ID,
			Channel:         desc.Channel,
			Category:        uint16(hdr.Uint("category")),
			StateID:         uint16(hdr.Uint("state_id")),
			OrbitPhase:      phase,
			Unit:            uint8(hdr.Uint("unit_flag")),
			PixelIDs:        pixelIDs,
			Wavelength:      wave,
			WavelengthErr:   waveErr,
			Values:          row,
			Errors:          rowErr,
			Saturated:       saturated,
			IntegrationTime: step,
			CoaddFactor:     desc.CoaddFactor,
			LeakageIndex:    leakageIndex(phase),
			Geo:             geoFromRecord(kind, geos[i]),
		}
	}
	return out, nil
}

func offsetMJD(m timeutil.MJD, seconds float64) timeutil.MJD {
	if seconds == 0 {
		return m
	}
	return timeutil.FromTime(m.Time().Add(time.Duration(seconds * float64(time.Second))))
}
