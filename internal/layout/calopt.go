package layout

import (
	"github.com/banshee-data/nadc.report/internal/binfmt"
	"github.com/banshee-data/nadc.report/internal/errs"
	"github.com/banshee-data/nadc.report/internal/product"
	"github.com/banshee-data/nadc.report/internal/selector"
	"github.com/banshee-data/nadc.report/internal/timeutil"
)

// CalOptionsLayout is the calibration-option record of a level-1c product.
// It records the selection the product was written with.
var CalOptionsLayout = &binfmt.Layout{
	Name: "CAL_OPTIONS",
	Fields: []binfmt.Field{
		{Name: "l1b_prod_name", Kind: binfmt.String, Width: 62},
		{Name: "geo_filter", Kind: binfmt.Int, Width: 1, Signed: true},
		{Name: "start_lat", Kind: binfmt.Int, Width: 4, Signed: true},
		{Name: "start_lon", Kind: binfmt.Int, Width: 4, Signed: true},
		{Name: "end_lat", Kind: binfmt.Int, Width: 4, Signed: true},
		{Name: "end_lon", Kind: binfmt.Int, Width: 4, Signed: true},
		{Name: "time_filter", Kind: binfmt.Int, Width: 1, Signed: true},
		{Name: "start_time", Kind: binfmt.Nested, Layout: MJDLayout},
		{Name: "stop_time", Kind: binfmt.Nested, Layout: MJDLayout},
		{Name: "category_filter", Kind: binfmt.Int, Width: 1, Signed: true},
		{Name: "category", Kind: binfmt.Int, Width: 2, Count: 5},
		{Name: "nadir_mds", Kind: binfmt.Int, Width: 1, Signed: true},
		{Name: "limb_mds", Kind: binfmt.Int, Width: 1, Signed: true},
		{Name: "occ_mds", Kind: binfmt.Int, Width: 1, Signed: true},
		{Name: "moni_mds", Kind: binfmt.Int, Width: 1, Signed: true},
		{Name: "pmd_mds", Kind: binfmt.Int, Width: 1, Signed: true},
		{Name: "frac_pol_mds", Kind: binfmt.Int, Width: 1, Signed: true},
		{Name: "slit_function", Kind: binfmt.Int, Width: 1, Signed: true},
		{Name: "sun_mean_ref", Kind: binfmt.Int, Width: 1, Signed: true},
		{Name: "leakage_current", Kind: binfmt.Int, Width: 1, Signed: true},
		{Name: "spectral_cal", Kind: binfmt.Int, Width: 1, Signed: true},
		{Name: "pol_sens", Kind: binfmt.Int, Width: 1, Signed: true},
		{Name: "rad_sens", Kind: binfmt.Int, Width: 1, Signed: true},
		{Name: "ppg_etalon", Kind: binfmt.Int, Width: 1, Signed: true},
		{Name: "num_nadir", Kind: binfmt.Int, Width: 2},
		{Name: "num_limb", Kind: binfmt.Int, Width: 2},
		{Name: "num_occ", Kind: binfmt.Int, Width: 2},
		{Name: "num_moni", Kind: binfmt.Int, Width: 2},
		{Name: "nadir_cluster", Kind: binfmt.Int, Width: 1, Signed: true, Count: MaxClusters},
		{Name: "limb_cluster", Kind: binfmt.Int, Width: 1, Signed: true, Count: MaxClusters},
		{Name: "occ_cluster", Kind: binfmt.Int, Width: 1, Signed: true, Count: MaxClusters},
		{Name: "moni_cluster", Kind: binfmt.Int, Width: 1, Signed: true, Count: MaxClusters},
		{Name: "mem_effect_cal", Kind: binfmt.Int, Width: 1, Signed: true},
		{Name: "leakage_cal", Kind: binfmt.Int, Width: 1, Signed: true},
		{Name: "straylight_cal", Kind: binfmt.Int, Width: 1, Signed: true},
		{Name: "ppg_cal", Kind: binfmt.Int, Width: 1, Signed: true},
		{Name: "etalon_cal", Kind: binfmt.Int, Width: 1, Signed: true},
		{Name: "wave_cal", Kind: binfmt.Int, Width: 1, Signed: true},
		{Name: "polarisation_cal", Kind: binfmt.Int, Width: 1, Signed: true},
		{Name: "radiance_cal", Kind: binfmt.Int, Width: 1, Signed: true},
	},
}

// Correction flags recorded in CalOptions.Corrections.
const (
	CorrMemoryEffect uint16 = 1 << iota
	CorrLeakage
	CorrStrayLight
	CorrPixelGain
	CorrEtalon
	CorrWavelength
	CorrPolarization
	CorrRadiance
)

var correctionFields = []struct {
	name string
	flag uint16
}{
	{"mem_effect_cal", CorrMemoryEffect},
	{"leakage_cal", CorrLeakage},
	{"straylight_cal", CorrStrayLight},
	{"ppg_cal", CorrPixelGain},
	{"etalon_cal", CorrEtalon},
	{"wave_cal", CorrWavelength},
	{"polarisation_cal", CorrPolarization},
	{"radiance_cal", CorrRadiance},
}

var streamFields = map[StreamKind]struct{ present, clusters, count string }{
	Nadir:       {"nadir_mds", "nadir_cluster", "num_nadir"},
	Limb:        {"limb_mds", "limb_cluster", "num_limb"},
	Occultation: {"occ_mds", "occ_cluster", "num_occ"},
	Monitoring:  {"moni_mds", "moni_cluster", "num_moni"},
}

// CalOptions is the decoded calibration-option filter.
type CalOptions struct {
	SourceProduct string

	GeoFilter bool
	StartLat  int32 // micro-degrees
	StartLon  int32
	EndLat    int32
	EndLon    int32

	TimeFilter bool
	StartTime  timeutil.MJD
	StopTime   timeutil.MJD

	CategoryFilter bool
	Categories     []uint16

	Streams     map[StreamKind]bool
	Clusters    map[StreamKind]selector.Mask
	StateCounts map[StreamKind]uint16
	Corrections uint16

	raw []byte
}

// NewCalOptions returns options that keep every stream and cluster.
func NewCalOptions() *CalOptions {
	o := &CalOptions{
		Streams:     map[StreamKind]bool{},
		Clusters:    map[StreamKind]selector.Mask{},
		StateCounts: map[StreamKind]uint16{},
	}
	for _, k := range StreamKinds {
		o.Streams[k] = true
		o.Clusters[k] = selector.All()
	}
	return o
}

// StreamPresent reports whether the product was written with stream k.
func (o *CalOptions) StreamPresent(k StreamKind) bool {
	if o == nil {
		return true
	}
	return o.Streams[k]
}

// WriterMask returns the cluster inclusion mask stream k was written with.
func (o *CalOptions) WriterMask(k StreamKind) selector.Mask {
	if o == nil {
		return selector.All()
	}
	m, ok := o.Clusters[k]
	if !ok {
		return selector.All()
	}
	return m
}

// AdmitsTime reports whether the product's time filter kept state s.
func (o *CalOptions) AdmitsTime(s StateDescriptor) bool {
	if o == nil || !o.TimeFilter {
		return true
	}
	jd := s.JulianDay()
	begin := float64(o.StartTime.Days) + timeutil.SecondsToDays(float64(o.StartTime.Seconds))
	end := float64(o.StopTime.Days) + timeutil.SecondsToDays(float64(o.StopTime.Seconds))
	return jd >= begin && jd <= end
}

// Bytes returns the on-disk encoding the options were read from, or nil
// for options built in memory.
func (o *CalOptions) Bytes() []byte {
	if o == nil {
		return nil
	}
	return o.raw
}

// ReadCalOptions decodes the CAL_OPTIONS data set. The second result is
// false when the product has none, which means nothing was filtered.
func ReadCalOptions(p *product.Product) (*CalOptions, bool, error) {
	dsd, ok := p.DSD("CAL_OPTIONS")
	if !ok || dsd.Size == 0 {
		return nil, false, nil
	}
	b, err := p.ReadSection(dsd)
	if err != nil {
		return nil, false, err
	}
	o, err := DecodeCalOptions(p.Codec(), b)
	if err != nil {
		return nil, false, err
	}
	return o, true, nil
}

// DecodeCalOptions decodes one CAL_OPTIONS record.
func DecodeCalOptions(codec binfmt.Codec, b []byte) (*CalOptions, error) {
	r, err := codec.Decode(b, CalOptionsLayout)
	if err != nil {
		return nil, err
	}
	o := NewCalOptions()
	o.raw = append([]byte(nil), b...)
	o.SourceProduct = r.String("l1b_prod_name")
	o.GeoFilter = r.Int("geo_filter") != 0
	o.StartLat = int32(r.Int("start_lat"))
	o.StartLon = int32(r.Int("start_lon"))
	o.EndLat = int32(r.Int("end_lat"))
	o.EndLon = int32(r.Int("end_lon"))
	o.TimeFilter = r.Int("time_filter") != 0
	o.StartTime = MJDFromRecord(r.Sub("start_time"))
	o.StopTime = MJDFromRecord(r.Sub("stop_time"))
	o.CategoryFilter = r.Int("category_filter") != 0
	for _, c := range r.Uints("category") {
		if c != 0 {
			o.Categories = append(o.Categories, uint16(c))
		}
	}
	for k, f := range streamFields {
		o.Streams[k] = r.Int(f.present) != 0
		flags := r.Ints(f.clusters)
		bs := make([]int8, len(flags))
		for i, v := range flags {
			bs[i] = int8(v)
		}
		o.Clusters[k] = selector.FromBytes(bs)
		o.StateCounts[k] = uint16(r.Uint(f.count))
	}
	for _, cf := range correctionFields {
		if r.Int(cf.name) != 0 {
			o.Corrections |= cf.flag
		}
	}
	return o, nil
}

// Encode renders the options as a CAL_OPTIONS record.
func (o *CalOptions) Encode(codec binfmt.Codec) ([]byte, error) {
	r := binfmt.Record{
		"l1b_prod_name":   o.SourceProduct,
		"geo_filter":      boolInt(o.GeoFilter),
		"start_lat":       int64(o.StartLat),
		"start_lon":       int64(o.StartLon),
		"end_lat":         int64(o.EndLat),
		"end_lon":         int64(o.EndLon),
		"time_filter":     boolInt(o.TimeFilter),
		"start_time":      MJDRecord(o.StartTime),
		"stop_time":       MJDRecord(o.StopTime),
		"category_filter": boolInt(o.CategoryFilter),
	}
	cats := make([]uint64, 0, 5)
	for i, c := range o.Categories {
		if i == 5 {
			break
		}
		cats = append(cats, uint64(c))
	}
	r["category"] = cats
	for k, f := range streamFields {
		r[f.present] = boolInt(o.Streams[k])
		r[f.count] = uint64(o.StateCounts[k])
		mask := o.WriterMask(k)
		flags := make([]int64, MaxClusters)
		for i := range flags {
			if mask.IsSet(uint(i)) {
				flags[i] = 1
			}
		}
		r[f.clusters] = flags
	}
	for _, cf := range correctionFields {
		r[cf.name] = boolInt(o.Corrections&cf.flag != 0)
	}
	b, err := codec.Encode(r, CalOptionsLayout)
	if err != nil {
		return nil, errs.Formatf("CAL_OPTIONS", -1, "%v", err)
	}
	return b, nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
