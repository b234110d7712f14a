package mds

import (
	"github.com/banshee-data/nadc.report/internal/binfmt"
	"github.com/banshee-data/nadc.report/internal/layout"
)

// Coord is a geodetic position in degrees.
type Coord struct {
	Lat float64
	Lon float64
}

// Geo is the geolocation of one observation. Which fields are filled
// depends on the stream: nadir carries corners and centre, limb and
// occultation carry tangent points, monitoring only the sub-satellite point.
type Geo struct {
	PosESM        float64
	PosASM        float64
	SatHeight     float64
	EarthRadius   float64
	DopplerShift  float64
	SunZenith     []float64
	SunAzimuth    []float64
	LOSZenith     []float64
	LOSAzimuth    []float64
	TangentHeight []float64
	SubSatellite  Coord
	Corners       []Coord
	Center        Coord
	TangentPoints []Coord
}

var coordLayout = &binfmt.Layout{
	Name: "coord",
	Fields: []binfmt.Field{
		{Name: "lat", Kind: binfmt.Int, Width: 4, Signed: true},
		{Name: "lon", Kind: binfmt.Int, Width: 4, Signed: true},
	},
}

func angles(name string) binfmt.Field {
	return binfmt.Field{Name: name, Kind: binfmt.Float, Width: 4, Count: 3}
}

func float32Field(name string) binfmt.Field {
	return binfmt.Field{Name: name, Kind: binfmt.Float, Width: 4}
}

var nadirGeoLayout = &binfmt.Layout{
	Name: "geoN",
	Fields: []binfmt.Field{
		float32Field("pos_esm"),
		float32Field("sat_h"),
		float32Field("earth_rad"),
		angles("sun_zen_ang"),
		angles("sun_azi_ang"),
		angles("los_zen_ang"),
		angles("los_azi_ang"),
		{Name: "sub_sat_point", Kind: binfmt.Nested, Layout: coordLayout},
		{Name: "corner", Kind: binfmt.Nested, Layout: coordLayout, Count: 4},
		{Name: "center", Kind: binfmt.Nested, Layout: coordLayout},
	},
}

var limbGeoLayout = &binfmt.Layout{
	Name: "geoL",
	Fields: []binfmt.Field{
		float32Field("pos_esm"),
		float32Field("pos_asm"),
		float32Field("sat_h"),
		float32Field("earth_rad"),
		float32Field("dopp_shift"),
		angles("sun_zen_ang"),
		angles("sun_azi_ang"),
		angles("los_zen_ang"),
		angles("los_azi_ang"),
		angles("tan_h"),
		{Name: "sub_sat_point", Kind: binfmt.Nested, Layout: coordLayout},
		{Name: "tang_ground_point", Kind: binfmt.Nested, Layout: coordLayout, Count: 3},
	},
}

var monitorGeoLayout = &binfmt.Layout{
	Name: "geoC",
	Fields: []binfmt.Field{
		float32Field("pos_esm"),
		float32Field("pos_asm"),
		float32Field("sun_zen_ang"),
		{Name: "sub_sat_point", Kind: binfmt.Nested, Layout: coordLayout},
	},
}

// GeoLayout returns the geolocation layout of a stream.
func GeoLayout(kind layout.StreamKind) *binfmt.Layout {
	switch kind {
	case layout.Nadir:
		return nadirGeoLayout
	case layout.Limb, layout.Occultation:
		return limbGeoLayout
	}
	return monitorGeoLayout
}

const microDegrees = 1e6

func coordFrom(r binfmt.Record) Coord {
	return Coord{Lat: float64(r.Int("lat")) / microDegrees, Lon: float64(r.Int("lon")) / microDegrees}
}

func coordRecord(c Coord) binfmt.Record {
	return binfmt.Record{"lat": roundMicro(c.Lat), "lon": roundMicro(c.Lon)}
}

func roundMicro(deg float64) int64 {
	v := deg * microDegrees
	if v < 0 {
		return int64(v - 0.5)
	}
	return int64(v + 0.5)
}

func coordsFrom(rs []binfmt.Record) []Coord {
	out := make([]Coord, len(rs))
	for i, r := range rs {
		out[i] = coordFrom(r)
	}
	return out
}

func coordRecords(cs []Coord) []binfmt.Record {
	out := make([]binfmt.Record, len(cs))
	for i, c := range cs {
		out[i] = coordRecord(c)
	}
	return out
}

func geoFromRecord(kind layout.StreamKind, r binfmt.Record) Geo {
	g := Geo{
		PosESM:       r.Float("pos_esm"),
		SubSatellite: coordFrom(r.Sub("sub_sat_point")),
	}
	switch kind {
	case layout.Nadir:
		g.SatHeight = r.Float("sat_h")
		g.EarthRadius = r.Float("earth_rad")
		g.SunZenith = r.Floats("sun_zen_ang")
		g.SunAzimuth = r.Floats("sun_azi_ang")
		g.LOSZenith = r.Floats("los_zen_ang")
		g.LOSAzimuth = r.Floats("los_azi_ang")
		g.Corners = coordsFrom(r.Subs("corner"))
		g.Center = coordFrom(r.Sub("center"))
	case layout.Limb, layout.Occultation:
		g.PosASM = r.Float("pos_asm")
		g.SatHeight = r.Float("sat_h")
		g.EarthRadius = r.Float("earth_rad")
		g.DopplerShift = r.Float("dopp_shift")
		g.SunZenith = r.Floats("sun_zen_ang")
		g.SunAzimuth = r.Floats("sun_azi_ang")
		g.LOSZenith = r.Floats("los_zen_ang")
		g.LOSAzimuth = r.Floats("los_azi_ang")
		g.TangentHeight = r.Floats("tan_h")
		g.TangentPoints = coordsFrom(r.Subs("tang_ground_point"))
		if len(g.TangentPoints) == 3 {
			g.Center = g.TangentPoints[1]
		}
	default:
		g.PosASM = r.Float("pos_asm")
		g.SunZenith = []float64{r.Float("sun_zen_ang")}
		g.Center = g.SubSatellite
	}
	return g
}

func geoRecord(kind layout.StreamKind, g Geo) binfmt.Record {
	r := binfmt.Record{
		"pos_esm":       g.PosESM,
		"sub_sat_point": coordRecord(g.SubSatellite),
	}
	switch kind {
	case layout.Nadir:
		r["sat_h"] = g.SatHeight
		r["earth_rad"] = g.EarthRadius
		r["sun_zen_ang"] = g.SunZenith
		r["sun_azi_ang"] = g.SunAzimuth
		r["los_zen_ang"] = g.LOSZenith
		r["los_azi_ang"] = g.LOSAzimuth
		r["corner"] = coordRecords(g.Corners)
		r["center"] = coordRecord(g.Center)
	case layout.Limb, layout.Occultation:
		r["pos_asm"] = g.PosASM
		r["sat_h"] = g.SatHeight
		r["earth_rad"] = g.EarthRadius
		r["dopp_shift"] = g.DopplerShift
		r["sun_zen_ang"] = g.SunZenith
		r["sun_azi_ang"] = g.SunAzimuth
		r["los_zen_ang"] = g.LOSZenith
		r["los_azi_ang"] = g.LOSAzimuth
		r["tan_h"] = g.TangentHeight
		r["tang_ground_point"] = coordRecords(g.TangentPoints)
	default:
		r["pos_asm"] = g.PosASM
		if len(g.SunZenith) > 0 {
			r["sun_zen_ang"] = g.SunZenith[0]
		}
	}
	return r
}
