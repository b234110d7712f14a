package sink

import (
	"context"
	"fmt"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/nadc.report/internal/errs"
	"github.com/banshee-data/nadc.report/internal/fsutil"
)

// ChartSink collects the mean spectrum of every cluster and renders them
// as one interactive HTML page on Close.
type ChartSink struct {
	FS    fsutil.FileSystem
	Path  string
	Title string

	series []chartSeries
}

type chartSeries struct {
	name string
	data []opts.LineData
}

func NewChartSink(fsys fsutil.FileSystem, path, title string) *ChartSink {
	return &ChartSink{FS: fsys, Path: path, Title: title}
}

func (s *ChartSink) WriteCluster(_ context.Context, out ClusterOutput) error {
	wl, mean := meanSpectrum(out.Records)
	if len(mean) == 0 {
		return nil
	}
	data := make([]opts.LineData, 0, len(mean))
	for i := range min(len(wl), len(mean)) {
		data = append(data, opts.LineData{Value: []interface{}{wl[i], mean[i]}})
	}
	s.series = append(s.series, chartSeries{
		name: fmt.Sprintf("%s s%d c%d", out.Stream, out.StateIndex, out.ClusterID),
		data: data,
	})
	return nil
}

// Series returns the number of clusters collected so far.
func (s *ChartSink) Series() int { return len(s.series) }

func (s *ChartSink) Close() error {
	if len(s.series) == 0 {
		return nil
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: s.Title, Width: "1200px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{Title: s.Title, Subtitle: fmt.Sprintf("%d clusters", len(s.series))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Wavelength (nm)", Type: "value", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Signal"}),
	)
	for _, ser := range s.series {
		line.AddSeries(ser.name, ser.data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}

	f, err := s.FS.Create(s.Path)
	if err != nil {
		return &errs.SinkError{Phase: "chart", Err: err}
	}
	if err := line.Render(f); err != nil {
		f.Close()
		return &errs.SinkError{Phase: "chart", Err: err}
	}
	if err := f.Close(); err != nil {
		return &errs.SinkError{Phase: "chart", Err: err}
	}
	logf("rendered %d cluster spectra to %s", len(s.series), s.Path)
	return nil
}
