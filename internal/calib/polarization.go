package calib

import (
	"math"

	"github.com/banshee-data/nadc.report/internal/calib/numeric"
)

const (
	// MaxPolSamples is the number of measured (λ, Q, U) points considered.
	MaxPolSamples = 8
	// GDFSteps is the number of points sampled from the analytic curve.
	GDFSteps = 30
	// NeutralPolarization is used when no sample is valid.
	NeutralPolarization = 0.5

	gdfInvalid = -99
)

// padOffsets extend the fitted range on both sides, in nm.
var padOffsets = [2]float64{40, 20}

// PolSample is one measured polarisation point. A negative error marks the
// corresponding fraction invalid.
type PolSample struct {
	Wavelength float64 `json:"wavelength"`
	Q          float64 `json:"q"`
	U          float64 `json:"u"`
	ErrQ       float64 `json:"err_q"`
	ErrU       float64 `json:"err_u"`
}

// GDF holds the parameters of the generalised distribution function
// q = PBar + W0·f/(1+f)², f = exp(Beta·Δλ).
type GDF struct {
	Beta float64 `json:"beta"`
	PBar float64 `json:"p_bar"`
	W0   float64 `json:"w0"`
}

// Valid reports whether every parameter is set. Unset parameters carry the
// fill value -99.
func (g GDF) Valid() bool {
	for _, v := range [...]float64{g.Beta, g.PBar, g.W0} {
		if !numeric.Finite(v) || int(v-0.5) == gdfInvalid {
			return false
		}
	}
	return true
}

// PolValues are the polarisation values of one observation.
type PolValues struct {
	Samples []PolSample `json:"samples"`
	// Theory is the theoretical point anchoring the GDF curve.
	Theory PolSample `json:"theory"`
	GDF    GDF       `json:"gdf"`
}

// curves gathers the valid (λ, Q) and (λ, U) points. Q is negated.
func (pv PolValues) curves(span float64) (qw, qv, uw, uv []float64) {
	for i, s := range pv.Samples {
		if i == MaxPolSamples {
			break
		}
		if s.ErrQ >= 0 {
			qw = append(qw, s.Wavelength)
			qv = append(qv, -s.Q)
		}
		if s.ErrU >= 0 {
			uw = append(uw, s.Wavelength)
			uv = append(uv, s.U)
		}
	}

	th := pv.Theory
	if th.ErrQ < 0 || th.ErrU < 0 || !pv.GDF.Valid() || span <= 0 {
		return qw, qv, uw, uv
	}
	uRatio := 0.0
	if th.Q != 0 {
		uRatio = -th.U / th.Q
	}
	step := span / GDFSteps
	diff := 0.0
	for n := 0; n < GDFSteps; n++ {
		diff -= step
		wv := th.Wavelength - diff
		f := math.Exp(pv.GDF.Beta * diff)
		q := pv.GDF.PBar + pv.GDF.W0*f/((1+f)*(1+f))
		qw, qv = append(qw, wv), append(qv, q)
		uw, uv = append(uw, wv), append(uv, uRatio*q)
	}
	return qw, qv, uw, uv
}

// fitFraction evaluates one polarisation fraction at the given wavelengths.
func fitFraction(ws, vs, at []float64) ([]float64, error) {
	ws, vs = numeric.SortPairs(ws, vs)
	out := make([]float64, len(at))
	switch len(ws) {
	case 0:
		for i := range out {
			out[i] = NeutralPolarization
		}
		return out, nil
	case 1:
		for i := range out {
			out[i] = vs[0]
		}
		return out, nil
	}

	n := len(ws)
	pw := make([]float64, 0, n+4)
	pv := make([]float64, 0, n+4)
	for _, d := range padOffsets {
		pw, pv = append(pw, ws[0]-d), append(pv, vs[0])
	}
	pw, pv = append(pw, ws...), append(pv, vs...)
	for i := len(padOffsets) - 1; i >= 0; i-- {
		pw, pv = append(pw, ws[n-1]+padOffsets[i]), append(pv, vs[n-1])
	}

	out, err := numeric.Resample(pw, pv, at)
	if err != nil {
		return nil, err
	}
	numeric.Clamp(out, 0, 1)
	return out, nil
}

// FitQU returns the Q and U fractions at the given wavelengths.
func FitQU(pv PolValues, gdfSpan float64, at []float64) (q, u []float64, err error) {
	qw, qv, uw, uv := pv.curves(gdfSpan)
	if q, err = fitFraction(qw, qv, at); err != nil {
		return nil, nil, err
	}
	if u, err = fitFraction(uw, uv, at); err != nil {
		return nil, nil, err
	}
	return q, u, nil
}
