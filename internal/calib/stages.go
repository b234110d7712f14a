package calib

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/nadc.report/internal/calib/numeric"
	"github.com/banshee-data/nadc.report/internal/errs"
	"github.com/banshee-data/nadc.report/internal/mds"
)

const (
	planck       = 6.62607015e-34 // J s
	speedOfLight = 299792458.0    // m/s

	// epsilon is the smallest usable divisor.
	epsilon = 1.1920929e-07
)

type stage struct {
	flag Flags
	name string
	fn   func(r *run) error
}

// stages in application order.
var stages = []stage{
	{Coadd, "coadd", coadd},
	{Dark, "dark", dark},
	{PixelGain, "pixelgain", pixelGain},
	{StrayLight, "stray", strayLight},
	{Normalize, "normalize", normalize},
	{Polarization, "polarization", polarization},
	{Radiometric, "radiometric", radiometric},
	{Photon, "photon", photon},
}

// run carries one cluster through the stages.
type run struct {
	batch    *Batch
	ctx      *Context
	tables   *ChannelTables
	stage    string
	warnings []error
}

func (r *run) warn(pixel int, format string, args ...any) {
	w := &errs.DegenerateNumeric{Stage: r.stage, Pixel: pixel, Msg: fmt.Sprintf(format, args...)}
	r.warnings = append(r.warnings, w)
	logf("warning: cluster %d: %v", r.batch.ClusterID, w)
}

func (r *run) missing(what string) error {
	return fmt.Errorf("%s: channel %d %s: %w", r.stage, r.batch.Channel, what, errs.ErrMissingTable)
}

// pixel maps a detector pixel id to its index in the channel tables.
func pixel(id uint16) int { return int(id) % ChannelPixels }

// lookup fetches table[pixel(id)] for every pixel of rec.
func (r *run) lookup(rec *mds.DetectorRecord, table []float64, what string) ([]float64, error) {
	out := make([]float64, len(rec.PixelIDs))
	for i, id := range rec.PixelIDs {
		p := pixel(id)
		if p >= len(table) {
			return nil, r.missing(fmt.Sprintf("%s (no entry for pixel %d)", what, p))
		}
		out[i] = table[p]
	}
	return out, nil
}

func scaleRecord(rec *mds.DetectorRecord, c float64) {
	floats.Scale(c, rec.Values)
	floats.Scale(math.Abs(c), rec.Errors)
}

func coadd(r *run) error {
	for i := range r.batch.Records {
		rec := &r.batch.Records[i]
		factor := int(rec.CoaddFactor)
		if r.ctx.AverageMode {
			if r.tables == nil {
				return r.missing("sub-state")
			}
			factor = 1 << r.tables.SubState
		}
		switch factor {
		case 1:
		case 2, 4:
			scaleRecord(rec, float64(factor))
		default:
			return errs.Formatf(r.stage, 0, "cluster %d: co-adding factor %d is not 1, 2 or 4", r.batch.ClusterID, factor)
		}
	}
	return nil
}

func dark(r *run) error {
	if r.tables == nil || len(r.tables.Dark) == 0 {
		return r.missing("dark table")
	}
	for i := range r.batch.Records {
		rec := &r.batch.Records[i]
		// The leakage bin follows the orbit phase and may change within a batch.
		li := rec.LeakageIndex
		if li < 0 || li >= len(r.tables.Dark) {
			return r.missing(fmt.Sprintf("dark row %d", li))
		}
		row, err := r.lookup(rec, r.tables.Dark[li], "dark table")
		if err != nil {
			return err
		}
		floats.Sub(rec.Values, row)
	}
	return nil
}

func pixelGain(r *run) error {
	if r.tables == nil || len(r.tables.PixelGain) == 0 {
		return r.missing("pixel gain table")
	}
	for i := range r.batch.Records {
		rec := &r.batch.Records[i]
		gain, err := r.lookup(rec, r.tables.PixelGain, "pixel gain table")
		if err != nil {
			return err
		}
		floats.Mul(rec.Values, gain)
		for p := range rec.Errors {
			rec.Errors[p] *= math.Abs(gain[p])
		}
	}
	return nil
}

func strayLight(r *run) error {
	t := r.tables
	if t == nil || (t.StrayFraction == nil && len(t.Ghosts) == 0) {
		return r.missing("stray light parameters")
	}
	fraction := 0.0
	if t.StrayFraction != nil {
		fraction = *t.StrayFraction
	}
	kernel := numeric.TriangularKernel(r.ctx.StrayHalfWidth)
	if len(t.Ghosts) > 0 && kernel == nil {
		r.warn(-1, "kernel half-width %v outside [1, %d], ghost term set to zero", r.ctx.StrayHalfWidth, numeric.MaxHalfWidth)
	}

	for i := range r.batch.Records {
		rec := &r.batch.Records[i]
		sig := rec.Values
		n := len(sig)
		uniform := numeric.FiniteMean(sig) * fraction

		ghost := make([]float64, n)
		for _, g := range t.Ghosts {
			for p, v := range sig {
				if m := n - 1 - p + g.Offset; m >= 0 && m < n {
					ghost[m] += g.Scale * v
				}
			}
		}
		ghost = numeric.Smooth(ghost, kernel)

		for p := range sig {
			sig[p] -= (uniform + ghost[p]) * rec.IntegrationTime
		}
	}
	return nil
}

func normalize(r *run) error {
	for i := range r.batch.Records {
		rec := &r.batch.Records[i]
		if !(rec.IntegrationTime > 0) {
			r.warn(-1, "record %d: integration time %v", i, rec.IntegrationTime)
			zero(rec)
			continue
		}
		scaleRecord(rec, 1/rec.IntegrationTime)
	}
	return nil
}

func polarization(r *run) error {
	if r.tables == nil || r.tables.Sensitivity == nil {
		return r.missing("polarisation sensitivity")
	}
	sens := r.tables.Sensitivity
	for i := range r.batch.Records {
		rec := &r.batch.Records[i]
		q, u, err := FitQU(r.batch.pol(i), r.ctx.GDFSpan, rec.Wavelength)
		if err != nil {
			return fmt.Errorf("%s: record %d: %w", r.stage, i, err)
		}

		lo, hi, frac := numeric.Bracket(sens.Angles, r.ctx.MirrorAngle(rec.Geo.PosESM))
		mu2, err := r.lookup(rec, numeric.LerpRows(sens.Mu2[lo], sens.Mu2[hi], frac), "mu2 sensitivity")
		if err != nil {
			return err
		}
		mu3, err := r.lookup(rec, numeric.LerpRows(sens.Mu3[lo], sens.Mu3[hi], frac), "mu3 sensitivity")
		if err != nil {
			return err
		}

		for p := range rec.Values {
			corr := 1 + mu2[p]*q[p] + mu3[p]*u[p]
			if math.Abs(corr) < epsilon {
				r.warn(p, "record %d: polarisation correction %v", i, corr)
				rec.Values[p], rec.Errors[p] = 0, 0
				continue
			}
			rec.Values[p] /= corr
			rec.Errors[p] /= math.Abs(corr)
		}
	}
	return nil
}

func radiometric(r *run) error {
	if r.tables == nil || r.tables.Response == nil {
		return r.missing("radiometric response")
	}
	curve := r.tables.Response
	for i := range r.batch.Records {
		rec := &r.batch.Records[i]
		resp, err := numeric.Resample(curve.Wavelength, curve.Value, rec.Wavelength)
		if err != nil {
			return fmt.Errorf("%s: %v: %w", r.stage, err, errs.ErrMissingTable)
		}
		for p, v := range resp {
			if math.Abs(v) < epsilon {
				r.warn(p, "record %d: response %v below epsilon", i, v)
				rec.Values[p], rec.Errors[p] = 0, 0
				continue
			}
			rec.Values[p] /= v
			rec.Errors[p] /= math.Abs(v)
		}
	}
	return nil
}

func photon(r *run) error {
	for i := range r.batch.Records {
		rec := &r.batch.Records[i]
		for p, wv := range rec.Wavelength {
			if !(wv > 0) {
				r.warn(p, "record %d: wavelength %v", i, wv)
				rec.Values[p], rec.Errors[p] = 0, 0
				continue
			}
			c := wv * 1e-9 / (planck * speedOfLight)
			rec.Values[p] *= c
			rec.Errors[p] *= c
		}
	}
	return nil
}

func zero(rec *mds.DetectorRecord) {
	for p := range rec.Values {
		rec.Values[p] = 0
	}
	for p := range rec.Errors {
		rec.Errors[p] = 0
	}
}

// sanitize replaces non-finite values left by a stage.
func (r *run) sanitize() {
	for i := range r.batch.Records {
		rec := &r.batch.Records[i]
		if bad := numeric.Sanitize(rec.Values); len(bad) > 0 {
			r.warn(bad[0], "record %d: %d non-finite values replaced", i, len(bad))
		}
		numeric.Sanitize(rec.Errors)
	}
}
