// Package layout computes where each state's measurement data lives inside
// a product, without decoding the data itself.
package layout

import (
	"fmt"
	"strings"
)

// StreamKind identifies one measurement data set. Values match the on-disk
// state type.
type StreamKind uint8

const (
	Nadir StreamKind = iota + 1
	Limb
	Occultation
	Monitoring
)

// StreamKinds lists every measurement stream in product order.
var StreamKinds = []StreamKind{Nadir, Limb, Occultation, Monitoring}

// String returns the data-set name of the stream.
func (k StreamKind) String() string {
	switch k {
	case Nadir:
		return "NADIR"
	case Limb:
		return "LIMB"
	case Occultation:
		return "OCCULTATION"
	case Monitoring:
		return "MONITORING"
	}
	return fmt.Sprintf("STREAM(%d)", uint8(k))
}

// ParseStreamKind accepts a data-set name in any case.
func ParseStreamKind(s string) (StreamKind, error) {
	for _, k := range StreamKinds {
		if strings.EqualFold(strings.TrimSpace(s), k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown stream %q", s)
}

// Sizes of the level-1c cluster record parts.
const (
	ClusterHeaderSize   = 32
	PerPixelSize        = 2 + 4 + 4 // pixel id, wavelength, wavelength error
	PerObservationPixel = 4 + 4     // value, error
	MJDSize             = 12
)

// GeoSize returns the size of one geolocation record of the stream.
func (k StreamKind) GeoSize() int {
	switch k {
	case Nadir:
		return 108
	case Limb, Occultation:
		return 112
	case Monitoring:
		return 20
	}
	return 0
}

// ClusterRecordSize returns the size of one level-1c cluster record.
func (k StreamKind) ClusterRecordSize(pixels, observations int) int64 {
	p, o := int64(pixels), int64(observations)
	return ClusterHeaderSize + PerPixelSize*p + PerObservationPixel*o*p + int64(k.GeoSize())*o
}

// Level is the processing level, which decides how states are sized.
type Level int

const (
	Level1b Level = iota
	Level1c
)

func (l Level) String() string {
	if l == Level1c {
		return "1c"
	}
	return "1b"
}

// LevelOf derives the level from a product name such as SCI_NLC_1P....
func LevelOf(productName string) Level {
	if strings.HasPrefix(strings.ToUpper(productName), "SCI_NLC") {
		return Level1c
	}
	return Level1b
}
