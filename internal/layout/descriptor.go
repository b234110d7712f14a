package layout

import (
	"fmt"

	"github.com/banshee-data/nadc.report/internal/binfmt"
	"github.com/banshee-data/nadc.report/internal/errs"
	"github.com/banshee-data/nadc.report/internal/product"
	"github.com/banshee-data/nadc.report/internal/timeutil"
)

// MaxClusters is the number of cluster slots in a state definition.
const MaxClusters = 64

// attachedFlag marks a state whose measurement data is in the product.
const attachedFlag = 0

// MJDLayout is the on-disk timestamp: days, seconds, microseconds.
var MJDLayout = &binfmt.Layout{
	Name: "mjd",
	Fields: []binfmt.Field{
		{Name: "days", Kind: binfmt.Int, Width: 4, Signed: true},
		{Name: "secnd", Kind: binfmt.Int, Width: 4},
		{Name: "musec", Kind: binfmt.Int, Width: 4},
	},
}

var clconLayout = &binfmt.Layout{
	Name: "clcon",
	Fields: []binfmt.Field{
		{Name: "id", Kind: binfmt.Int, Width: 1},
		{Name: "channel", Kind: binfmt.Int, Width: 1},
		{Name: "pixel_nr", Kind: binfmt.Int, Width: 2},
		{Name: "length", Kind: binfmt.Int, Width: 2},
		{Name: "pet", Kind: binfmt.Float, Width: 4},
		{Name: "intg_time", Kind: binfmt.Int, Width: 2},
		{Name: "coaddf", Kind: binfmt.Int, Width: 2},
		{Name: "n_read", Kind: binfmt.Int, Width: 2},
		{Name: "type", Kind: binfmt.Int, Width: 1},
	},
}

// StateLayout is one record of the STATES annotation data set.
var StateLayout = &binfmt.Layout{
	Name: "STATES",
	Fields: []binfmt.Field{
		{Name: "mjd", Kind: binfmt.Nested, Layout: MJDLayout},
		{Name: "flag_mds", Kind: binfmt.Int, Width: 1},
		{Name: "flag_reason", Kind: binfmt.Int, Width: 1},
		{Name: "orbit_phase", Kind: binfmt.Float, Width: 4},
		{Name: "category", Kind: binfmt.Int, Width: 2},
		{Name: "state_id", Kind: binfmt.Int, Width: 2},
		{Name: "dur_scan", Kind: binfmt.Int, Width: 2},
		{Name: "longest_intg_time", Kind: binfmt.Int, Width: 2},
		{Name: "num_clus", Kind: binfmt.Int, Width: 2},
		{Name: "clcon", Kind: binfmt.Nested, Layout: clconLayout, Count: MaxClusters},
		{Name: "type_mds", Kind: binfmt.Int, Width: 1},
		{Name: "num_aux", Kind: binfmt.Int, Width: 2},
		{Name: "num_pmd", Kind: binfmt.Int, Width: 2},
		{Name: "num_intg", Kind: binfmt.Int, Width: 2},
		{Name: "intg_times", Kind: binfmt.Int, Width: 2, Count: MaxClusters},
		{Name: "num_polar", Kind: binfmt.Int, Width: 2, Count: MaxClusters},
		{Name: "total_polar", Kind: binfmt.Int, Width: 2},
		{Name: "num_dsr", Kind: binfmt.Int, Width: 2},
		{Name: "length_dsr", Kind: binfmt.Int, Width: 4},
	},
}

// ClusterDescriptor is the static definition of one cluster within a state.
type ClusterDescriptor struct {
	ID              uint8
	Channel         uint8
	StartPixel      uint16
	PixelCount      uint16
	PET             float64 // pixel exposure time, seconds
	IntegrationTime uint16  // in 1/16 s
	CoaddFactor     uint16
	ReadoutCount    uint16
	Type            uint8
}

// IntegrationSeconds returns the integration time in seconds.
func (c ClusterDescriptor) IntegrationSeconds() float64 {
	return float64(c.IntegrationTime) / 16
}

// StateDescriptor describes one instrument state as listed in STATES.
type StateDescriptor struct {
	Index        int
	Time         timeutil.MJD
	Attached     bool
	Reason       uint8
	Kind         StreamKind
	Category     uint16
	StateID      uint16
	DurationScan uint16
	OrbitPhase   float64
	NumDSR       uint16
	LengthDSR    uint32
	Clusters     []ClusterDescriptor
}

// JulianDay returns the state time used by time filters: the start plus
// the scan duration (in 1/32 s).
func (s StateDescriptor) JulianDay() float64 {
	return s.Time.JulianDay() + timeutil.SecondsToDays(float64(s.DurationScan)/32)
}

// MJDFromRecord converts a decoded mjd record.
func MJDFromRecord(r binfmt.Record) timeutil.MJD {
	return timeutil.MJD{
		Days:         int32(r.Int("days")),
		Seconds:      uint32(r.Uint("secnd")),
		Microseconds: uint32(r.Uint("musec")),
	}
}

// MJDRecord is the inverse of MJDFromRecord.
func MJDRecord(m timeutil.MJD) binfmt.Record {
	return binfmt.Record{"days": int64(m.Days), "secnd": uint64(m.Seconds), "musec": uint64(m.Microseconds)}
}

// ReadStates decodes the STATES data set. A product without STATES has no
// measurement states and yields nil.
func ReadStates(p *product.Product) ([]StateDescriptor, error) {
	dsd, ok := p.DSD("STATES")
	if !ok || dsd.NumDSR == 0 {
		return nil, nil
	}
	if dsd.DSRSize != int64(StateLayout.Size()) {
		return nil, errs.Formatf("STATES", dsd.Offset, "DSR size %d, layout expects %d", dsd.DSRSize, StateLayout.Size())
	}
	b, err := p.ReadSection(dsd)
	if err != nil {
		return nil, err
	}
	if int64(len(b)) != dsd.NumDSR*dsd.DSRSize {
		return nil, errs.Formatf("STATES", dsd.Offset, "size %d for %d records", len(b), dsd.NumDSR)
	}
	recs, err := p.Codec().DecodeArray(b, StateLayout, int(dsd.NumDSR))
	if err != nil {
		return nil, err
	}
	out := make([]StateDescriptor, len(recs))
	for i, r := range recs {
		if out[i], err = stateFromRecord(i, r); err != nil {
			return nil, errs.Formatf("STATES", dsd.Offset+int64(i)*dsd.DSRSize, "%v", err)
		}
	}
	return out, nil
}

func stateFromRecord(index int, r binfmt.Record) (StateDescriptor, error) {
	s := StateDescriptor{
		Index:        index,
		Time:         MJDFromRecord(r.Sub("mjd")),
		Attached:     r.Uint("flag_mds") == attachedFlag,
		Reason:       uint8(r.Uint("flag_reason")),
		Kind:         StreamKind(r.Uint("type_mds")),
		Category:     uint16(r.Uint("category")),
		StateID:      uint16(r.Uint("state_id")),
		DurationScan: uint16(r.Uint("dur_scan")),
		OrbitPhase:   r.Float("orbit_phase"),
		NumDSR:       uint16(r.Uint("num_dsr")),
		LengthDSR:    uint32(r.Uint("length_dsr")),
	}
	numClus := int(r.Uint("num_clus"))
	if numClus > MaxClusters {
		return s, fmt.Errorf("state %d: %d clusters exceeds %d", index, numClus, MaxClusters)
	}
	clcon := r.Subs("clcon")
	s.Clusters = make([]ClusterDescriptor, numClus)
	for i := range s.Clusters {
		c := clcon[i]
		s.Clusters[i] = ClusterDescriptor{
			ID:              uint8(c.Uint("id")),
			Channel:         uint8(c.Uint("channel")),
			StartPixel:      uint16(c.Uint("pixel_nr")),
			PixelCount:      uint16(c.Uint("length")),
			PET:             c.Float("pet"),
			IntegrationTime: uint16(c.Uint("intg_time")),
			CoaddFactor:     uint16(c.Uint("coaddf")),
			ReadoutCount:    uint16(c.Uint("n_read")),
			Type:            uint8(c.Uint("type")),
		}
	}
	return s, nil
}

// EncodeStates renders states as a STATES data set.
func EncodeStates(codec binfmt.Codec, states []StateDescriptor) ([]byte, error) {
	recs := make([]binfmt.Record, len(states))
	for i, s := range states {
		if len(s.Clusters) > MaxClusters {
			return nil, fmt.Errorf("state %d: %d clusters exceeds %d", i, len(s.Clusters), MaxClusters)
		}
		flag := uint64(attachedFlag)
		if !s.Attached {
			flag = 1
		}
		clcon := make([]binfmt.Record, len(s.Clusters))
		intg := make([]uint64, len(s.Clusters))
		for j, c := range s.Clusters {
			clcon[j] = binfmt.Record{
				"id": uint64(c.ID), "channel": uint64(c.Channel),
				"pixel_nr": uint64(c.StartPixel), "length": uint64(c.PixelCount),
				"pet": c.PET, "intg_time": uint64(c.IntegrationTime),
				"coaddf": uint64(c.CoaddFactor), "n_read": uint64(c.ReadoutCount),
				"type": uint64(c.Type),
			}
			intg[j] = uint64(c.IntegrationTime)
		}
		recs[i] = binfmt.Record{
			"mjd":         MJDRecord(s.Time),
			"flag_mds":    flag,
			"flag_reason": uint64(s.Reason),
			"orbit_phase": s.OrbitPhase,
			"category":    uint64(s.Category),
			"state_id":    uint64(s.StateID),
			"dur_scan":    uint64(s.DurationScan),
			"num_clus":    uint64(len(s.Clusters)),
			"clcon":       clcon,
			"type_mds":    uint64(s.Kind),
			"num_intg":    uint64(len(s.Clusters)),
			"intg_times":  intg,
			"num_dsr":     uint64(s.NumDSR),
			"length_dsr":  uint64(s.LengthDSR),
		}
	}
	return codec.EncodeArray(recs, StateLayout)
}
