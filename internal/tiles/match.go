package tiles

import "math"

// Unmatched marks a tile no measurement was matched to.
const Unmatched = -1

// BestMatches returns, per tile, the index of the measurement matched to
// it, or Unmatched. Measurements are visited in input order; a tile's
// match moves to a later measurement only when that one is strictly
// closer, so a measurement can be displaced by one that follows it.
// Tiles and measurements of different sources never match.
func BestMatches(tiles []Tile, ms []Measurement, tolerance float64) []int {
	best := make([]int, len(tiles))
	delta := make([]float64, len(tiles))
	for i := range tiles {
		best[i] = Unmatched
		delta[i] = tolerance
	}
	for mi, m := range ms {
		for ti, t := range tiles {
			if t.SourceID != m.SourceID {
				continue
			}
			if d := math.Abs(m.JulianDay - t.JulianDay); d < delta[ti] {
				best[ti] = mi
				delta[ti] = d
			}
		}
	}
	return best
}

// Update pairs a tile with the measurement matched to it.
type Update struct {
	Tile        int
	Measurement int
}

// Decision is the outcome of matching: measurements to insert as new
// tiles and tiles to update.
type Decision struct {
	Inserts []int
	Updates []Update
}

// Decide derives inserts and updates from BestMatches' result for n
// measurements. A measurement that is no tile's match is inserted.
func Decide(best []int, n int) Decision {
	matched := make([]bool, n)
	var d Decision
	for ti, mi := range best {
		if mi == Unmatched {
			continue
		}
		matched[mi] = true
		d.Updates = append(d.Updates, Update{Tile: ti, Measurement: mi})
	}
	for mi, ok := range matched {
		if !ok {
			d.Inserts = append(d.Inserts, mi)
		}
	}
	return d
}
