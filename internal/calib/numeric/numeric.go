// Package numeric holds the interpolation and smoothing helpers used by the
// calibration stages.
package numeric

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/stat"
)

// ErrTooFewPoints is returned when fewer than two distinct abscissae remain.
var ErrTooFewPoints = errors.New("numeric: fewer than two distinct points")

// SortPairs returns copies of xs and ys ordered by x with non-finite pairs
// dropped. Repeated x values keep the first y seen in input order.
func SortPairs(xs, ys []float64) ([]float64, []float64) {
	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}
	idx := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if Finite(xs[i]) && Finite(ys[i]) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return xs[idx[a]] < xs[idx[b]] })

	sx := make([]float64, 0, len(idx))
	sy := make([]float64, 0, len(idx))
	for _, i := range idx {
		if k := len(sx); k > 0 && sx[k-1] == xs[i] {
			continue
		}
		sx = append(sx, xs[i])
		sy = append(sy, ys[i])
	}
	return sx, sy
}

// Resample fits an Akima spline through (xs, ys) and evaluates it at every
// point of at. Inputs need not be sorted. Outside the fitted range the
// spline holds its end values.
func Resample(xs, ys, at []float64) ([]float64, error) {
	sx, sy := SortPairs(xs, ys)
	if len(sx) < 2 {
		return nil, ErrTooFewPoints
	}
	var spline interp.AkimaSpline
	if err := spline.Fit(sx, sy); err != nil {
		return nil, fmt.Errorf("akima fit: %w", err)
	}
	out := make([]float64, len(at))
	for i, x := range at {
		out[i] = spline.Predict(x)
	}
	return out, nil
}

// MaxHalfWidth bounds kernel half-widths to one detector channel.
const MaxHalfWidth = 1024

// TriangularKernel returns the weights for offsets -n..n, where n is the
// largest offset with |k| < h, proportional to (h-|k|)/h and normalised so
// the full kernel sums to one. h outside [1, MaxHalfWidth] gives a nil kernel.
func TriangularKernel(h float64) []float64 {
	if !(h >= 1 && h <= MaxHalfWidth) {
		return nil
	}
	n := int(math.Ceil(h)) - 1
	w := make([]float64, 2*n+1)
	for k := -n; k <= n; k++ {
		w[k+n] = (h - math.Abs(float64(k))) / h
	}
	floats.Scale(1/floats.Sum(w), w)
	return w
}

// Smooth convolves signal with a centred kernel. Samples that fall outside
// the signal are omitted, so weights near the edges sum to less than one.
// A nil kernel yields all zeros.
func Smooth(signal, kernel []float64) []float64 {
	out := make([]float64, len(signal))
	if len(kernel) == 0 {
		return out
	}
	n := len(kernel) / 2
	for p := range signal {
		var sum float64
		for k := -n; k <= n; k++ {
			q := p + k
			if q < 0 || q >= len(signal) {
				continue
			}
			sum += kernel[k+n] * signal[q]
		}
		out[p] = sum
	}
	return out
}

// Bracket locates x in the ascending grid and returns the two surrounding
// indices plus the interpolation fraction. x outside the grid is clamped
// to the nearest row.
func Bracket(grid []float64, x float64) (lo, hi int, frac float64) {
	n := len(grid)
	switch {
	case n == 0:
		return -1, -1, 0
	case n == 1 || x <= grid[0]:
		return 0, 0, 0
	case x >= grid[n-1]:
		return n - 1, n - 1, 0
	}
	hi = sort.SearchFloat64s(grid, x)
	if grid[hi] == x {
		return hi, hi, 0
	}
	lo = hi - 1
	return lo, hi, (x - grid[lo]) / (grid[hi] - grid[lo])
}

// LerpRows returns (1-frac)*a + frac*b element by element.
func LerpRows(a, b []float64, frac float64) []float64 {
	out := make([]float64, len(a))
	copy(out, a)
	if frac == 0 {
		return out
	}
	floats.Scale(1-frac, out)
	floats.AddScaled(out, frac, b[:len(a)])
	return out
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Sanitize replaces non-finite values with zero and returns the indices
// that were replaced.
func Sanitize(vals []float64) []int {
	var bad []int
	for i, v := range vals {
		if !Finite(v) {
			vals[i] = 0
			bad = append(bad, i)
		}
	}
	return bad
}

// FiniteMean is the arithmetic mean of the finite values, or zero when
// there are none.
func FiniteMean(vals []float64) float64 {
	finite := make([]float64, 0, len(vals))
	for _, v := range vals {
		if Finite(v) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return 0
	}
	return stat.Mean(finite, nil)
}

// Clamp limits every value to [lo, hi].
func Clamp(vals []float64, lo, hi float64) {
	for i, v := range vals {
		vals[i] = math.Max(lo, math.Min(hi, v))
	}
}
