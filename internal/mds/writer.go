package mds

import (
	"fmt"

	"github.com/banshee-data/nadc.report/internal/binfmt"
	"github.com/banshee-data/nadc.report/internal/layout"
)

// EncodeCluster renders one level-1c cluster record. Its length always
// equals kind.ClusterRecordSize for the data's shape.
func EncodeCluster(codec binfmt.Codec, kind layout.StreamKind, d ClusterData) ([]byte, error) {
	pix := len(d.PixelIDs)
	obs := len(d.Values)
	if len(d.Wavelength) != pix || len(d.WavelengthErr) != pix {
		return nil, fmt.Errorf("cluster %d: wavelength arrays do not match %d pixels", d.ClusterID, pix)
	}
	if len(d.Errors) != obs || len(d.Geo) != obs {
		return nil, fmt.Errorf("cluster %d: %d observations but %d error rows and %d geolocations", d.ClusterID, obs, len(d.Errors), len(d.Geo))
	}

	size := kind.ClusterRecordSize(pix, obs)
	hdr, err := codec.Encode(binfmt.Record{
		"mjd":         layout.MJDRecord(d.Time),
		"dsr_len":     uint64(size),
		"quality":     qualityRecord(d.Quality),
		"orbit_phase": d.OrbitPhase,
		"category":    uint64(d.Category),
		"state_id":    uint64(d.StateID),
		"clus_id":     uint64(d.ClusterID),
		"nr_obs":      uint64(obs),
		"nr_pix":      uint64(pix),
		"unit_flag":   uint64(d.Unit),
	}, clusterHeaderLayout)
	if err != nil {
		return nil, err
	}

	a := codec.NewAppender()
	a.Raw(hdr)
	a.Uint16s(d.PixelIDs)
	a.Float32s(d.Wavelength)
	a.Float32s(d.WavelengthErr)
	for i, row := range d.Values {
		if len(row) != pix {
			return nil, fmt.Errorf("cluster %d: value row %d has %d pixels, want %d", d.ClusterID, i, len(row), pix)
		}
		a.Float32s(row)
	}
	for i, row := range d.Errors {
		if len(row) != pix {
			return nil, fmt.Errorf("cluster %d: error row %d has %d pixels, want %d", d.ClusterID, i, len(row), pix)
		}
		a.Float32s(row)
	}
	geoLayout := GeoLayout(kind)
	for _, g := range d.Geo {
		b, err := codec.Encode(geoRecord(kind, g), geoLayout)
		if err != nil {
			return nil, err
		}
		a.Raw(b)
	}
	if int64(a.Len()) != size {
		return nil, fmt.Errorf("cluster %d: encoded %d bytes, expected %d", d.ClusterID, a.Len(), size)
	}
	return a.Bytes(), nil
}
