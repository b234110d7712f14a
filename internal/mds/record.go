// Package mds reads level-1c measurement data sets into per-observation
// detector records, using the offsets computed by package layout.
package mds

import (
	"github.com/banshee-data/nadc.report/internal/binfmt"
	"github.com/banshee-data/nadc.report/internal/layout"
	"github.com/banshee-data/nadc.report/internal/timeutil"
)

// LeakageBins is the number of orbit-phase bins the dark correction is
// tabulated over. Records carry the bin of their orbit phase.
const LeakageBins = 4

// Quality is the per-cluster quality byte.
type Quality struct {
	Status    uint8
	SAA       bool
	Saturated bool
	Glint     uint8
}

// clusterHeaderLayout is the 32-byte header of a level-1c cluster record.
var clusterHeaderLayout = &binfmt.Layout{
	Name:     "cluster header",
	BitOrder: binfmt.LSBFirst,
	Fields: []binfmt.Field{
		{Name: "mjd", Kind: binfmt.Nested, Layout: layout.MJDLayout},
		{Name: "dsr_len", Kind: binfmt.Int, Width: 4},
		{Name: "quality", Kind: binfmt.Bitfield, Width: 1, Bits: []binfmt.BitField{
			{Name: "status", Bits: 4},
			{Name: "saa", Bits: 1},
			{Name: "saturated", Bits: 1},
			{Name: "glint", Bits: 2},
		}},
		{Name: "orbit_phase", Kind: binfmt.Float, Width: 4},
		{Name: "category", Kind: binfmt.Int, Width: 2},
		{Name: "state_id", Kind: binfmt.Int, Width: 2},
		{Name: "clus_id", Kind: binfmt.Int, Width: 2},
		{Name: "nr_obs", Kind: binfmt.Int, Width: 2},
		{Name: "nr_pix", Kind: binfmt.Int, Width: 2},
		{Name: "unit_flag", Kind: binfmt.Int, Width: 1},
	},
}

// DetectorRecord is one observation of one cluster.
type DetectorRecord struct {
	Time            timeutil.MJD
	Stream          layout.StreamKind
	StateIndex      int
	Quality         Quality
	ClusterID       uint8
	Channel         uint8
	Category        uint16
	StateID         uint16
	OrbitPhase      float64
	Unit            uint8
	PixelIDs        []uint16
	Wavelength      []float64
	WavelengthErr   []float64
	Values          []float64
	Errors          []float64
	Saturated       []bool
	IntegrationTime float64 // seconds
	CoaddFactor     uint16
	LeakageIndex    int
	Geo             Geo
}

// leakageIndex bins an orbit phase in [0,1).
func leakageIndex(phase float64) int {
	i := int(phase * LeakageBins)
	if i < 0 {
		return 0
	}
	if i >= LeakageBins {
		return LeakageBins - 1
	}
	return i
}

// ClusterData is the content of one cluster record, used to write products.
type ClusterData struct {
	Time          timeutil.MJD
	Quality       Quality
	OrbitPhase    float64
	Category      uint16
	StateID       uint16
	ClusterID     uint8
	Unit          uint8
	PixelIDs      []uint16
	Wavelength    []float64
	WavelengthErr []float64
	Values        [][]float64 // [observation][pixel]
	Errors        [][]float64
	Geo           []Geo
}

func qualityFrom(r binfmt.Record) Quality {
	return Quality{
		Status:    uint8(r.Uint("status")),
		SAA:       r.Uint("saa") != 0,
		Saturated: r.Uint("saturated") != 0,
		Glint:     uint8(r.Uint("glint")),
	}
}

func qualityRecord(q Quality) binfmt.Record {
	b := func(v bool) uint64 {
		if v {
			return 1
		}
		return 0
	}
	return binfmt.Record{
		"status":    uint64(q.Status),
		"saa":       b(q.SAA),
		"saturated": b(q.Saturated),
		"glint":     uint64(q.Glint),
	}
}
