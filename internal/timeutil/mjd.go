package timeutil

import (
	"fmt"
	"math"
	"time"
)

// SecPerDay is the number of seconds in a day.
const SecPerDay = 86400.0

// Epoch2000 is day zero of the MJD2000 scale used by ENVISAT products.
var Epoch2000 = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// MJD is the on-disk timestamp of products: days since Epoch2000, seconds in
// the day and microseconds in the second.
type MJD struct {
	Days         int32
	Seconds      uint32
	Microseconds uint32
}

// JulianDay returns the timestamp as fractional days since Epoch2000. This is
// the continuous day count used for time-window matching.
func (m MJD) JulianDay() float64 {
	return float64(m.Days) + (float64(m.Seconds)+float64(m.Microseconds)/1e6)/SecPerDay
}

// Time converts the timestamp to UTC.
func (m MJD) Time() time.Time {
	return Epoch2000.AddDate(0, 0, int(m.Days)).
		Add(time.Duration(m.Seconds)*time.Second + time.Duration(m.Microseconds)*time.Microsecond)
}

// IsZero reports whether all components are zero.
func (m MJD) IsZero() bool { return m == MJD{} }

// Before reports whether m is strictly earlier than o.
func (m MJD) Before(o MJD) bool {
	if m.Days != o.Days {
		return m.Days < o.Days
	}
	if m.Seconds != o.Seconds {
		return m.Seconds < o.Seconds
	}
	return m.Microseconds < o.Microseconds
}

func (m MJD) String() string {
	return fmt.Sprintf("%d/%05d.%06d", m.Days, m.Seconds, m.Microseconds)
}

// FromTime converts t to an MJD timestamp, truncating to microseconds.
func FromTime(t time.Time) MJD {
	d := t.UTC().Sub(Epoch2000)
	days := int64(math.Floor(d.Hours() / 24))
	rest := d - time.Duration(days)*24*time.Hour
	return MJD{
		Days:         int32(days),
		Seconds:      uint32(rest / time.Second),
		Microseconds: uint32((rest % time.Second) / time.Microsecond),
	}
}

// JulianDayFromTime returns t as fractional days since Epoch2000.
func JulianDayFromTime(t time.Time) float64 {
	return FromTime(t).JulianDay()
}

// TimeFromJulianDay converts fractional days since Epoch2000 back to UTC,
// rounded to the microsecond.
func TimeFromJulianDay(jd float64) time.Time {
	days := math.Floor(jd)
	usec := math.Round((jd - days) * SecPerDay * 1e6)
	return Epoch2000.AddDate(0, 0, int(days)).Add(time.Duration(usec) * time.Microsecond)
}

// SecondsToDays converts a duration in seconds to the julian-day scale.
func SecondsToDays(s float64) float64 { return s / SecPerDay }
