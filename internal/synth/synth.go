// Package synth builds self-consistent level-1c products: a STATES data
// set, optional CAL_OPTIONS, and cluster records for every state the
// writer's options keep.
package synth

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/nadc.report/internal/binfmt"
	"github.com/banshee-data/nadc.report/internal/layout"
	"github.com/banshee-data/nadc.report/internal/mds"
	"github.com/banshee-data/nadc.report/internal/product"
	"github.com/banshee-data/nadc.report/internal/timeutil"
)

// StateSpec describes one state to generate.
type StateSpec struct {
	Kind     layout.StreamKind
	Offset   time.Duration // from Spec.Start
	NumDSR   uint16
	Category uint16
	StateID  uint16
	Detached bool
	Clusters []layout.ClusterDescriptor
	// Lon shifts the footprint centre of nadir states.
	Lon float64
	Lat float64
}

// Spec describes a product.
type Spec struct {
	Start      time.Time
	AbsOrbit   int64
	Software   string
	States     []StateSpec
	CalOptions *layout.CalOptions
}

// Cluster returns a cluster definition with a 1 s integration time.
func Cluster(id, channel uint8, start, pixels, readouts uint16) layout.ClusterDescriptor {
	return layout.ClusterDescriptor{
		ID:              id,
		Channel:         channel,
		StartPixel:      start,
		PixelCount:      pixels,
		PET:             0.125,
		IntegrationTime: 16, // 1 s
		CoaddFactor:     1,
		ReadoutCount:    readouts,
		Type:            1,
	}
}

// Default returns a small product with two nadir states straddling the
// date line, one limb state and one monitoring state.
func Default(start time.Time) Spec {
	nadirClusters := []layout.ClusterDescriptor{
		Cluster(1, 1, 0, 8, 1),
		Cluster(2, 1, 8, 6, 2),
		Cluster(3, 2, 0, 10, 1),
	}
	return Spec{
		Start:    start,
		AbsOrbit: 10500,
		Software: "SCIA/4.1",
		States: []StateSpec{
			{Kind: layout.Nadir, NumDSR: 2, Category: 1, StateID: 7, Clusters: nadirClusters, Lon: 179.6, Lat: -10},
			{Kind: layout.Limb, Offset: time.Minute, NumDSR: 1, Category: 26, StateID: 28, Clusters: []layout.ClusterDescriptor{Cluster(1, 1, 0, 5, 1)}},
			{Kind: layout.Nadir, Offset: 2 * time.Minute, NumDSR: 1, Category: 1, StateID: 7, Clusters: nadirClusters, Lon: -179.7, Lat: -9},
			{Kind: layout.Monitoring, Offset: 3 * time.Minute, NumDSR: 1, Category: 12, StateID: 52, Clusters: []layout.ClusterDescriptor{Cluster(1, 1, 0, 4, 1)}},
		},
	}
}

// Result is a built product plus the states it declares.
type Result struct {
	Writer *product.Writer
	States []layout.StateDescriptor
}

// Build renders spec.
func Build(spec Spec) (*Result, error) {
	codec := binfmt.NewCodec(binfmt.BigEndian)

	states := make([]layout.StateDescriptor, len(spec.States))
	streams := map[layout.StreamKind][]byte{}
	counts := map[layout.StreamKind]int64{}

	for i, ss := range spec.States {
		t := spec.Start.Add(ss.Offset)
		s := layout.StateDescriptor{
			Index:      i,
			Time:       timeutil.FromTime(t),
			Attached:   !ss.Detached,
			Kind:       ss.Kind,
			Category:   ss.Category,
			StateID:    ss.StateID,
			OrbitPhase: float64(float32(math.Mod(float64(i)*0.07+0.1, 1))),
			NumDSR:     ss.NumDSR,
			Clusters:   ss.Clusters,
		}
		states[i] = s

		if !s.Attached || !spec.CalOptions.StreamPresent(s.Kind) || !spec.CalOptions.AdmitsTime(s) {
			continue
		}
		mask := spec.CalOptions.WriterMask(s.Kind)
		for ci, c := range s.Clusters {
			if !mask.IsSet(uint(ci)) {
				continue
			}
			b, err := mds.EncodeCluster(codec, s.Kind, clusterData(s, c, ss))
			if err != nil {
				return nil, fmt.Errorf("state %d: %w", i, err)
			}
			streams[s.Kind] = append(streams[s.Kind], b...)
			counts[s.Kind]++
		}
	}

	stateBytes, err := layout.EncodeStates(codec, states)
	if err != nil {
		return nil, err
	}

	w := product.NewWriter(fmt.Sprintf("SCI_NLC_1PNPDK%s_%05d.N1", spec.Start.UTC().Format("20060102_150405"), spec.AbsOrbit))
	w.SoftwareVer = spec.Software
	w.SensingStart = spec.Start
	w.SensingStop = spec.Start
	if n := len(spec.States); n > 0 {
		w.SensingStop = spec.Start.Add(spec.States[n-1].Offset)
	}
	w.AbsOrbit = spec.AbsOrbit
	w.AddDataSet("STATES", "A", stateBytes, int64(len(states)), int64(layout.StateLayout.Size()))
	if spec.CalOptions != nil {
		b, err := spec.CalOptions.Encode(codec)
		if err != nil {
			return nil, err
		}
		w.AddDataSet("CAL_OPTIONS", "G", b, 1, int64(len(b)))
	}
	for _, k := range layout.StreamKinds {
		if data, ok := streams[k]; ok {
			w.AddDataSet(k.String(), "M", data, counts[k], -1)
		}
	}
	w.AddSpare()
	return &Result{Writer: w, States: states}, nil
}

func clusterData(s layout.StateDescriptor, c layout.ClusterDescriptor, ss StateSpec) mds.ClusterData {
	pix := int(c.PixelCount)
	obs := int(s.NumDSR) * int(c.ReadoutCount)
	d := mds.ClusterData{
		Time:          s.Time,
		OrbitPhase:    s.OrbitPhase,
		Category:      s.Category,
		StateID:       s.StateID,
		ClusterID:     c.ID,
		PixelIDs:      make([]uint16, pix),
		Wavelength:    make([]float64, pix),
		WavelengthErr: make([]float64, pix),
		Values:        make([][]float64, obs),
		Errors:        make([][]float64, obs),
		Geo:           make([]mds.Geo, obs),
	}
	base := 200 + 200*float64(c.Channel-1)
	for p := 0; p < pix; p++ {
		px := int(c.StartPixel) + p
		d.PixelIDs[p] = uint16(px) + 1024*uint16(c.Channel-1)
		d.Wavelength[p] = base + 0.25*float64(px)
		d.WavelengthErr[p] = 0.01
	}
	for o := 0; o < obs; o++ {
		d.Values[o] = make([]float64, pix)
		d.Errors[o] = make([]float64, pix)
		for p := 0; p < pix; p++ {
			d.Values[o][p] = 1000 + 100*math.Sin(float64(p)/3) + 10*float64(o)
			d.Errors[o][p] = 5
		}
		d.Geo[o] = geolocation(s.Kind, ss.Lat+0.2*float64(o), ss.Lon+0.3*float64(o))
	}
	return d
}

func geolocation(kind layout.StreamKind, lat, lon float64) mds.Geo {
	three := func(v float64) []float64 { return []float64{v, v + 1, v + 2} }
	g := mds.Geo{
		PosESM:       -12.5,
		SatHeight:    799.8,
		EarthRadius:  6378.1,
		SunZenith:    three(30),
		SunAzimuth:   three(120),
		LOSZenith:    three(10),
		LOSAzimuth:   three(90),
		SubSatellite: mds.Coord{Lat: lat, Lon: lon},
		Center:       mds.Coord{Lat: lat, Lon: lon},
	}
	switch kind {
	case layout.Nadir:
		g.Corners = []mds.Coord{
			{Lat: lat - 0.5, Lon: wrap(lon - 0.6)},
			{Lat: lat - 0.5, Lon: wrap(lon + 0.6)},
			{Lat: lat + 0.5, Lon: wrap(lon - 0.6)},
			{Lat: lat + 0.5, Lon: wrap(lon + 0.6)},
		}
		g.Center.Lon = wrap(lon)
	case layout.Limb, layout.Occultation:
		g.PosASM = 4.5
		g.TangentHeight = []float64{35, 30, 25}
		g.TangentPoints = []mds.Coord{{Lat: lat + 25, Lon: lon}, {Lat: lat + 26, Lon: lon}, {Lat: lat + 27, Lon: lon}}
		g.Center = g.TangentPoints[1]
		g.SunZenith = three(80)
	default:
		g.PosASM = 4.5
		g.SunZenith = []float64{80}
	}
	return g
}

func wrap(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon <= -180 {
		lon += 360
	}
	return lon
}
