package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/nadc.report/internal/calib"
	"github.com/banshee-data/nadc.report/internal/config"
	"github.com/banshee-data/nadc.report/internal/errs"
	"github.com/banshee-data/nadc.report/internal/fsutil"
	"github.com/banshee-data/nadc.report/internal/layout"
	"github.com/banshee-data/nadc.report/internal/mds"
	"github.com/banshee-data/nadc.report/internal/monitoring"
	"github.com/banshee-data/nadc.report/internal/product"
	"github.com/banshee-data/nadc.report/internal/sink"
	"github.com/banshee-data/nadc.report/internal/synth"
	"github.com/banshee-data/nadc.report/internal/tiles"
	"github.com/banshee-data/nadc.report/internal/timeutil"
)

var logf = monitoring.Scoped("nadc")

// tablelessFlags are the stages that run without calibration tables.
const tablelessFlags = calib.Coadd | calib.Normalize | calib.Photon

// loadConfig reads path, if given, and layers the CLI overrides on top.
func loadConfig(path string, overrides *config.Config) (*config.Config, error) {
	cfg := config.EmptyConfig()
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.Merge(overrides)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func streamKinds(cfg *config.Config) ([]layout.StreamKind, error) {
	var kinds []layout.StreamKind
	for _, name := range cfg.GetStreams() {
		k, err := layout.ParseStreamKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func contentFilter(cfg *config.Config) layout.Filter {
	start, stop := cfg.GetTimeWindow()
	f := layout.Filter{Start: start, Stop: stop}
	for _, c := range cfg.Categories {
		f.Categories = append(f.Categories, uint16(c))
	}
	return f
}

// decoded is everything read from one product.
type decoded struct {
	product *product.Product
	tables  []*layout.OffsetTable
	records []mds.DetectorRecord
}

// decodeProduct computes the offset tables of the configured streams and
// reads their selected clusters. A stream error is reported and the
// remaining streams continue; only product-level failures are returned.
func decodeProduct(fsys fsutil.FileSystem, path string, cfg *config.Config, report *errs.Report) (*decoded, error) {
	kinds, err := streamKinds(cfg)
	if err != nil {
		return nil, err
	}
	p, err := product.Open(fsys, path)
	if err != nil {
		return nil, err
	}
	states, err := layout.ReadStates(p)
	if err != nil {
		p.Close()
		return nil, err
	}
	opts, _, err := layout.ReadCalOptions(p)
	if err != nil {
		p.Close()
		return nil, err
	}

	d := &decoded{product: p}
	cache := layout.NewCache(p)
	reader := mds.NewReader(p)
	sel, filter := cfg.GetClusters(), contentFilter(cfg)
	for _, k := range kinds {
		scope := "decode " + k.String()
		table, err := cache.Offsets(k, states, sel, opts, filter)
		if err != nil {
			report.Add(scope, err)
			continue
		}
		d.tables = append(d.tables, table)
		recs, err := reader.ReadStream(table)
		d.records = append(d.records, recs...)
		report.Add(scope, err)
	}
	return d, nil
}

func runOffsets(w io.Writer, fsys fsutil.FileSystem, path string, cfg *config.Config) error {
	report := &errs.Report{}
	d, err := decodeProduct(fsys, path, cfg, report)
	if err != nil {
		return err
	}
	defer d.product.Close()

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, t := range d.tables {
		fmt.Fprintf(tw, "%s\tlevel %s\tbase %d\tsize %d\ttotal %d\n", t.Kind, t.Level, t.Base, t.Size, t.TotalLength())
		fmt.Fprintln(tw, "  state\tstatus\toffset\tlength\tcount\tclusters")
		for _, e := range t.Entries {
			var ids []string
			for _, c := range e.Clusters {
				if c.Selected {
					ids = append(ids, fmt.Sprint(c.ID))
				}
			}
			fmt.Fprintf(tw, "  %d\t%s\t%d\t%d\t%d\t%s\n", e.Index, e.Status, e.Offset, e.Length, e.Count, strings.Join(ids, ","))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err = report.WriteTo(w)
	return err
}

// processResult summarises one calib or reconcile run.
type processResult struct {
	Product string
	Records int
	Calib   calib.Summary
	Tiles   *tiles.Result
	Report  *errs.Report
}

func (r *processResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d records, %d clusters (%d failed), %d warnings",
		r.Product, r.Records, r.Calib.Clusters, r.Calib.FailedClusters, r.Calib.Warnings)
	if r.Tiles != nil {
		fmt.Fprintf(&b, "; tiles %d inserted, %d updated, %d stale", r.Tiles.Inserted, r.Tiles.Updated, r.Tiles.Stale)
	}
	return b.String()
}

func calibration(fsys fsutil.FileSystem, cfg *config.Config) (*calib.Context, calib.Flags, error) {
	flags, err := calib.ParseFlags(cfg.GetCalibFlags())
	if err != nil {
		return nil, 0, err
	}
	path := cfg.GetCalibTables()
	if path == "" {
		if restricted := flags & tablelessFlags; restricted != flags {
			logf("warning: no calibration tables configured, applying %s only", restricted)
			flags = restricted
		}
		return &calib.Context{StrayHalfWidth: cfg.GetStrayHalfWidth()}, flags, nil
	}
	c, err := calib.LoadContext(fsys, path)
	if err != nil {
		return nil, 0, err
	}
	if c.StrayHalfWidth == 0 {
		c.StrayHalfWidth = cfg.GetStrayHalfWidth()
	}
	return c, flags, nil
}

// runProcess decodes, calibrates and delivers the clusters of one product.
// With withTiles the nadir footprints are reconciled into the tile store.
func runProcess(ctx context.Context, fsys fsutil.FileSystem, path string, cfg *config.Config, withTiles bool) (*processResult, error) {
	res := &processResult{Product: path, Report: &errs.Report{}}

	calCtx, flags, err := calibration(fsys, cfg)
	if err != nil {
		return res, err
	}
	d, err := decodeProduct(fsys, path, cfg, res.Report)
	if err != nil {
		return res, err
	}
	defer d.product.Close()
	res.Product = d.product.MPH.Product
	res.Records = len(d.records)

	var sinks sink.Multi
	if dir := cfg.GetPlotDir(); dir != "" {
		ps, err := sink.NewPlotSink(fsys, dir)
		if err != nil {
			return res, err
		}
		sinks = append(sinks, ps)
	}
	if chart := cfg.GetChartPath(); chart != "" {
		sinks = append(sinks, sink.NewChartSink(fsys, chart, res.Product))
	}
	var tileSink *sink.TileSink
	if withTiles {
		store, err := tiles.Open(cfg.GetDBPath(), timeutil.RealClock{})
		if err != nil {
			return res, err
		}
		defer store.Close()
		if err := store.MigrateUp(); err != nil {
			return res, err
		}
		software := cfg.GetSoftware()
		if software == "" {
			software = d.product.MPH.SoftwareVer
		}
		rel, err := tiles.ReleaseFromSoftware(software)
		if err != nil {
			return res, err
		}
		r := tiles.NewReconciler(store)
		r.Tolerance = timeutil.SecondsToDays(cfg.GetTolerance().Seconds())
		tileSink = sink.NewTileSink(r, rel)
		sinks = append(sinks, tileSink)
	}

	batches := calib.GroupBatches(d.records)
	pipeline := &calib.Pipeline{Context: calCtx, Flags: flags, Workers: cfg.GetWorkers(), Report: res.Report}
	res.Calib = pipeline.RunAll(batches)

	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		cr := res.Calib.Results[i]
		if cr.Err != nil {
			continue
		}
		if err := sinks.WriteCluster(ctx, sink.FromBatch(res.Product, b, cr)); err != nil {
			res.Report.Add("sink", err)
		}
	}
	if err := sinks.Close(); err != nil {
		res.Report.Add("sink", err)
	}
	if tileSink != nil {
		tr := tileSink.Result()
		res.Tiles = &tr
	}
	return res, nil
}

func runMigrate(w io.Writer, dbPath, action string) error {
	store, err := tiles.Open(dbPath, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	switch action {
	case "up":
		err = store.MigrateUp()
	case "down":
		err = store.MigrateDown()
	case "version":
	default:
		return fmt.Errorf("unknown migrate action %q (want up, down or version)", action)
	}
	if err != nil {
		return err
	}
	v, dirty, err := store.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: schema version %d (dirty: %t)\n", dbPath, v, dirty)
	return nil
}

func runSynth(fsys fsutil.FileSystem, out string, start time.Time) error {
	res, err := synth.Build(synth.Default(start))
	if err != nil {
		return err
	}
	return res.Writer.Save(fsys, out)
}
