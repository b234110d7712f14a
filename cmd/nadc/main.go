// Command nadc decodes selected clusters from spectrometer products,
// calibrates them and reconciles ground footprints into a tile database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/nadc.report/internal/config"
	"github.com/banshee-data/nadc.report/internal/fsutil"
	"github.com/banshee-data/nadc.report/internal/monitoring"
	"github.com/banshee-data/nadc.report/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "offsets":
		handleOffsets(args)
	case "calib":
		handleProcess("calib", args, false)
	case "reconcile":
		handleProcess("reconcile", args, true)
	case "migrate":
		handleMigrate(args)
	case "synth":
		handleSynth(args)
	case "version":
		fmt.Println(version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`nadc - selective spectrometer product decoding and calibration

Usage: nadc <command> [options] <product>

Commands:
  offsets    Print the offset table of every selected stream
  calib      Decode and calibrate selected clusters, write plots and charts
  reconcile  Like calib, then reconcile nadir footprints into the tile database
  migrate    Apply or roll back tile database migrations (up, down, version)
  synth      Write a small synthetic level-1c product
  version    Show nadc version
  help       Show this help message

Common Flags:
  --config <file>      JSON or TOML configuration file
  --clusters <expr>    Cluster selection, e.g. "all", "none", "1,3,5-9"
  --streams <list>     Comma-separated streams (nadir,limb,occultation,monitoring)
  --log-format <fmt>   console or json

Examples:
  nadc synth --out /tmp/sample.N1
  nadc offsets --clusters 1-3 /tmp/sample.N1
  nadc calib --tables calib.json --plot-dir plots /tmp/sample.N1
  nadc reconcile --db tiles.db /tmp/sample.N1`)
}

// commonFlags are shared by every command that reads a product.
type commonFlags struct {
	configPath string
	clusters   string
	streams    string
	logFormat  string
	logLevel   string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Configuration file (.json or .toml)")
	fs.StringVar(&c.clusters, "clusters", "", "Cluster selection expression")
	fs.StringVar(&c.streams, "streams", "", "Comma-separated stream names")
	fs.StringVar(&c.logFormat, "log-format", "", "Log format: console or json")
	fs.StringVar(&c.logLevel, "log-level", "", "Minimum log level")
}

// overrides turns the flags that were set into a config layer.
func (c *commonFlags) overrides() *config.Config {
	o := config.EmptyConfig()
	if c.clusters != "" {
		o.Clusters = &c.clusters
	}
	if c.streams != "" {
		o.Streams = &c.streams
	}
	if c.logFormat != "" {
		o.LogFormat = &c.logFormat
	}
	if c.logLevel != "" {
		o.LogLevel = &c.logLevel
	}
	return o
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func setupLogging(cfg *config.Config) {
	monitoring.SetLogger(monitoring.NewZerologLogf(os.Stderr, cfg.GetLogFormat() == "json", monitoring.ParseLevel(cfg.GetLogLevel())))
}

func productArg(fs *flag.FlagSet) string {
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one product path is required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func handleOffsets(args []string) {
	fs := flag.NewFlagSet("offsets", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	fs.Parse(args)

	cfg, err := loadConfig(common.configPath, common.overrides())
	if err != nil {
		fatalf("%v", err)
	}
	setupLogging(cfg)

	if err := runOffsets(os.Stdout, fsutil.OSFileSystem{}, productArg(fs), cfg); err != nil {
		fatalf("%v", err)
	}
}

func handleProcess(name string, args []string, withTiles bool) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	flags := fs.String("flags", "", "Calibration stages (\"all\", \"none\" or a comma list)")
	tables := fs.String("tables", "", "Calibration tables (.json, optionally .gz or .zst)")
	workers := fs.Int("workers", 0, "Clusters calibrated concurrently")
	plotDir := fs.String("plot-dir", "", "Directory for per-cluster PNG spectra")
	chartPath := fs.String("chart", "", "Path of the HTML chart page")
	dbPath := fs.String("db", "", "Tile database path")
	software := fs.String("software", "", "Override the product's processor version")
	fs.Parse(args)

	o := common.overrides()
	setIf(&o.CalibFlags, *flags)
	setIf(&o.CalibTables, *tables)
	setIf(&o.PlotDir, *plotDir)
	setIf(&o.ChartPath, *chartPath)
	setIf(&o.DBPath, *dbPath)
	setIf(&o.Software, *software)
	if *workers > 0 {
		o.Workers = workers
	}

	cfg, err := loadConfig(common.configPath, o)
	if err != nil {
		fatalf("%v", err)
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := runProcess(ctx, fsutil.OSFileSystem{}, productArg(fs), cfg, withTiles)
	if res != nil {
		res.Report.WriteTo(os.Stderr)
		fmt.Println(res)
	}
	if err != nil {
		fatalf("%v", err)
	}
	if fatal, _ := res.Report.Counts(); fatal > 0 {
		os.Exit(2)
	}
}

func setIf(dst **string, v string) {
	if v != "" {
		*dst = &v
	}
}

func handleMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Configuration file (.json or .toml)")
	dbPath := fs.String("db", "", "Tile database path")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: migrate needs one action: up, down or version")
		os.Exit(1)
	}
	o := config.EmptyConfig()
	setIf(&o.DBPath, *dbPath)
	cfg, err := loadConfig(*configPath, o)
	if err != nil {
		fatalf("%v", err)
	}
	setupLogging(cfg)

	if err := runMigrate(os.Stdout, cfg.GetDBPath(), fs.Arg(0)); err != nil {
		fatalf("%v", err)
	}
}

func handleSynth(args []string) {
	fs := flag.NewFlagSet("synth", flag.ExitOnError)
	out := fs.String("out", "", "Output product path (.N1, optionally .gz or .zst) (required)")
	start := fs.String("start", "2010-06-01T12:00:00Z", "Sensing start (RFC 3339)")
	fs.Parse(args)

	if *out == "" {
		fmt.Fprintln(os.Stderr, "Error: --out is required")
		fs.Usage()
		os.Exit(1)
	}
	t, err := time.Parse(time.RFC3339, *start)
	if err != nil {
		fatalf("invalid --start: %v", err)
	}
	if err := runSynth(fsutil.OSFileSystem{}, *out, t); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("wrote %s\n", *out)
}
