package sink

import (
	"context"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/nadc.report/internal/errs"
	"github.com/banshee-data/nadc.report/internal/fsutil"
	"github.com/banshee-data/nadc.report/internal/security"
)

// maxPlotObservations bounds the individual observation lines drawn
// behind the mean spectrum.
const maxPlotObservations = 8

// PlotSink writes one PNG spectrum per cluster into Dir.
type PlotSink struct {
	FS  fsutil.FileSystem
	Dir string

	written int
}

// NewPlotSink creates dir if needed.
func NewPlotSink(fsys fsutil.FileSystem, dir string) (*PlotSink, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, &errs.SinkError{Phase: "plot", Err: err}
	}
	return &PlotSink{FS: fsys, Dir: dir}, nil
}

func (s *PlotSink) WriteCluster(_ context.Context, out ClusterOutput) error {
	if len(out.Records) == 0 {
		return nil
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s state %d cluster %d (channel %d)", out.Stream, out.StateIndex, out.ClusterID, out.Channel)
	p.X.Label.Text = "Wavelength (nm)"
	p.Y.Label.Text = "Signal"

	grey := color.RGBA{R: 180, G: 180, B: 180, A: 255}
	for i, rec := range out.Records {
		if i == maxPlotObservations {
			break
		}
		line, err := plotter.NewLine(spectrumXYs(rec.Wavelength, rec.Values))
		if err != nil {
			return &errs.SinkError{Phase: "plot", Err: err}
		}
		line.Color = grey
		line.Width = vg.Points(0.5)
		p.Add(line)
	}

	wl, mean := meanSpectrum(out.Records)
	meanLine, err := plotter.NewLine(spectrumXYs(wl, mean))
	if err != nil {
		return &errs.SinkError{Phase: "plot", Err: err}
	}
	meanLine.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	meanLine.Width = vg.Points(1)
	p.Add(meanLine)
	p.Legend.Add(fmt.Sprintf("mean of %d", len(out.Records)), meanLine)

	img := vgimg.New(10*vg.Inch, 5*vg.Inch)
	p.Draw(draw.New(img))
	wt := vgimg.PngCanvas{Canvas: img}
	name, err := security.JoinWithin(s.Dir, security.SanitizeFilename(out.Name())+".png")
	if err != nil {
		return &errs.SinkError{Phase: "plot", Err: err}
	}
	f, err := s.FS.Create(name)
	if err != nil {
		return &errs.SinkError{Phase: "plot", Err: err}
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return &errs.SinkError{Phase: "plot", Err: err}
	}
	if err := f.Close(); err != nil {
		return &errs.SinkError{Phase: "plot", Err: err}
	}
	s.written++
	return nil
}

// Written returns the number of PNG files produced.
func (s *PlotSink) Written() int { return s.written }

func (s *PlotSink) Close() error {
	logf("wrote %d spectrum plots to %s", s.written, s.Dir)
	return nil
}

func spectrumXYs(wavelength, values []float64) plotter.XYs {
	n := min(len(wavelength), len(values))
	pts := make(plotter.XYs, n)
	for i := 0; i < n; i++ {
		pts[i] = plotter.XY{X: wavelength[i], Y: values[i]}
	}
	return pts
}
