package calib

import (
	"fmt"
	"strings"
)

// Flags selects calibration stages. Stages always run in bit order.
type Flags uint16

const (
	Coadd Flags = 1 << iota
	Dark
	PixelGain
	StrayLight
	Normalize
	Polarization
	Radiometric
	Photon

	NoFlags  Flags = 0
	AllFlags       = Coadd | Dark | PixelGain | StrayLight | Normalize | Polarization | Radiometric | Photon
)

var flagNames = []struct {
	name string
	flag Flags
}{
	{"coadd", Coadd},
	{"dark", Dark},
	{"pixelgain", PixelGain},
	{"stray", StrayLight},
	{"normalize", Normalize},
	{"polarization", Polarization},
	{"radiometric", Radiometric},
	{"photon", Photon},
}

// Has reports whether every bit of g is set in f.
func (f Flags) Has(g Flags) bool { return f&g == g }

func (f Flags) String() string {
	switch f {
	case NoFlags:
		return "none"
	case AllFlags:
		return "all"
	}
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, ",")
}

// ParseFlags accepts "all", "none" or a comma separated list of stage
// names. Names are case-insensitive; "pixel_gain", "straylight" and
// "pol" are accepted as aliases.
func ParseFlags(s string) (Flags, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "none":
		return NoFlags, nil
	case "all":
		return AllFlags, nil
	}
	var f Flags
	for _, part := range strings.Split(s, ",") {
		name := strings.TrimSpace(part)
		switch name {
		case "pixel_gain":
			name = "pixelgain"
		case "straylight":
			name = "stray"
		case "pol":
			name = "polarization"
		}
		found := false
		for _, fn := range flagNames {
			if fn.name == name {
				f |= fn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown calibration stage %q", part)
		}
	}
	return f, nil
}
