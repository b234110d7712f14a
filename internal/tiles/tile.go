// Package tiles reconciles geolocated ground-pixel measurements with the
// tiles already persisted for the same source.
package tiles

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/nadc.report/internal/monitoring"
	"github.com/banshee-data/nadc.report/internal/timeutil"
)

var logf = monitoring.Scoped("tiles")

// Tolerance is the largest time difference, in days, at which a
// measurement and a tile are the same ground pixel.
const Tolerance = 0.5 / timeutil.SecPerDay

// Release identifies the processor baseline that produced a payload.
type Release struct {
	Major int
	Minor int
}

// Compare returns -1, 0 or +1.
func (r Release) Compare(o Release) int {
	switch {
	case r.Major != o.Major:
		return sign(r.Major - o.Major)
	default:
		return sign(r.Minor - o.Minor)
	}
}

// AtLeast reports r >= o.
func (r Release) AtLeast(o Release) bool { return r.Compare(o) >= 0 }

func (r Release) String() string { return fmt.Sprintf("%d.%d", r.Major, r.Minor) }

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}

var releaseSteps = []struct {
	version float64
	release int
}{
	{4.1, 5},
	{4.0, 4},
	{3.0, 3},
	{2.7, 2},
}

// ReleaseFromSoftware maps a processor version string such as "SCIA/4.1"
// or "SCIA/3.0.2" to a release. The major number follows the processor
// baselines; a third version component becomes the minor number.
func ReleaseFromSoftware(software string) (Release, error) {
	v := strings.TrimSpace(software)
	if i := strings.LastIndexByte(v, '/'); i >= 0 {
		v = v[i+1:]
	}
	parts := strings.SplitN(v, ".", 3)
	if len(parts) < 2 {
		return Release{}, fmt.Errorf("software version %q: want MAJOR.MINOR", software)
	}
	version, err := strconv.ParseFloat(parts[0]+"."+parts[1], 64)
	if err != nil {
		return Release{}, fmt.Errorf("software version %q: %w", software, err)
	}
	r := Release{Major: 1}
	for _, s := range releaseSteps {
		if version >= s.version-1e-9 {
			r.Major = s.release
			break
		}
	}
	if len(parts) == 3 {
		if r.Minor, err = strconv.Atoi(strings.TrimSpace(parts[2])); err != nil {
			return Release{}, fmt.Errorf("software version %q: %w", software, err)
		}
	}
	return r, nil
}

// Coord is a geodetic position in degrees.
type Coord struct {
	Lat float64
	Lon float64
}

// Measurement is one new geolocated observation to reconcile.
type Measurement struct {
	// SourceID groups tiles that can describe the same ground pixel.
	SourceID string
	// Product names the contributing product in association rows.
	Product     string
	JulianDay   float64
	PixelNumber int
	SunZenith   float64
	LOSZenith   float64
	RelAzimuth  float64
	Center      Coord
	Corners     [4]Coord
	Payload     []float64
}

// Time returns the measurement time.
func (m Measurement) Time() time.Time { return timeutil.TimeFromJulianDay(m.JulianDay) }

// Tile is a persisted ground footprint.
type Tile struct {
	ID          string
	SourceID    string
	JulianDay   float64
	Release     Release
	PixelNumber int
	SunZenith   float64
	LOSZenith   float64
	RelAzimuth  float64
	Center      Coord
	Footprint   string
	Payload     []float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NormalizeLon maps lon into (-180, 180].
func NormalizeLon(lon float64) float64 {
	lon = math.Mod(lon, 360)
	switch {
	case lon > 180:
		lon -= 360
	case lon <= -180:
		lon += 360
	}
	return lon
}

// BranchCut normalises the corner longitudes and moves any corner more
// than 270° away from the centre by 360° toward the centre's side of the
// date line. The result may fall outside (-180, 180].
func BranchCut(center float64, corners [4]float64) [4]float64 {
	c := NormalizeLon(center)
	var out [4]float64
	for i, lon := range corners {
		lon = NormalizeLon(lon)
		if math.Abs(c-lon) > 270 {
			if c > 0 {
				lon += 360
			} else {
				lon -= 360
			}
		}
		out[i] = lon
	}
	return out
}

// footprintOrder walks the corners as a closed ring.
var footprintOrder = [5]int{1, 3, 2, 0, 1}

// Footprint renders the corners, branch-cut corrected, as a closed WKT
// polygon.
func Footprint(center Coord, corners [4]Coord) string {
	lons := BranchCut(center.Lon, [4]float64{corners[0].Lon, corners[1].Lon, corners[2].Lon, corners[3].Lon})
	var b strings.Builder
	b.WriteString("POLYGON((")
	for i, c := range footprintOrder {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%.6f %.6f", lons[c], corners[c].Lat)
	}
	b.WriteString("))")
	return b.String()
}
