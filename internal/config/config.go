package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/banshee-data/nadc.report/internal/selector"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/nadc.defaults.json"

// Config is the run configuration for decoding, calibration and tile
// reconciliation. Every field is optional; the Get* methods supply defaults
// so partial files are safe. The same keys are accepted from JSON and TOML.
type Config struct {
	// Selection
	Clusters   *string  `json:"clusters,omitempty" toml:"clusters,omitempty"` // "all", "none" or "1,3,5-9"
	Streams    *string  `json:"streams,omitempty" toml:"streams,omitempty"`   // comma-separated stream names
	TimeStart  *string  `json:"time_start,omitempty" toml:"time_start,omitempty"`
	TimeStop   *string  `json:"time_stop,omitempty" toml:"time_stop,omitempty"`
	Categories []int    `json:"categories,omitempty" toml:"categories,omitempty"`
	Software   *string  `json:"software,omitempty" toml:"software,omitempty"` // overrides the MPH SOFTWARE_VER
	Tolerance  *float64 `json:"tile_tolerance_seconds,omitempty" toml:"tile_tolerance_seconds,omitempty"`

	// Calibration
	CalibFlags     *string  `json:"calib_flags,omitempty" toml:"calib_flags,omitempty"`
	CalibTables    *string  `json:"calib_tables,omitempty" toml:"calib_tables,omitempty"`
	StrayHalfWidth *float64 `json:"stray_half_width,omitempty" toml:"stray_half_width,omitempty"`
	Workers        *int     `json:"workers,omitempty" toml:"workers,omitempty"`

	// Outputs
	DBPath    *string `json:"db_path,omitempty" toml:"db_path,omitempty"`
	PlotDir   *string `json:"plot_dir,omitempty" toml:"plot_dir,omitempty"`
	ChartPath *string `json:"chart_path,omitempty" toml:"chart_path,omitempty"`

	// Logging
	LogFormat *string `json:"log_format,omitempty" toml:"log_format,omitempty"` // "console" or "json"
	LogLevel  *string `json:"log_level,omitempty" toml:"log_level,omitempty"`
}

func ptrString(v string) *string { return &v }

// EmptyConfig returns a Config with all fields unset.
func EmptyConfig() *Config {
	return &Config{}
}

const maxFileSize = 1 * 1024 * 1024 // 1MB

// maxStrayHalfWidth is one detector channel in pixels.
const maxStrayHalfWidth = 1024

// LoadConfig loads a Config from a .json or .toml file.
// The file is validated to have a known extension and to be under the max
// file size. Fields omitted from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".toml" {
		return nil, fmt.Errorf("config file must have .json or .toml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching from the current
// directory up to the repository root. Panics if the file cannot be loaded,
// intended for test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/calib/numeric/
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.Clusters != nil {
		if _, err := selector.Parse(*c.Clusters); err != nil {
			return fmt.Errorf("invalid clusters %q: %w", *c.Clusters, err)
		}
	}

	start, err := parseTime("time_start", c.TimeStart)
	if err != nil {
		return err
	}
	stop, err := parseTime("time_stop", c.TimeStop)
	if err != nil {
		return err
	}
	if !start.IsZero() && !stop.IsZero() && stop.Before(start) {
		return fmt.Errorf("time_stop %s is before time_start %s", stop.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	for _, cat := range c.Categories {
		if cat < 0 || cat > 0xFFFF {
			return fmt.Errorf("category %d out of range", cat)
		}
	}

	if c.Tolerance != nil && *c.Tolerance <= 0 {
		return fmt.Errorf("tile_tolerance_seconds must be positive, got %f", *c.Tolerance)
	}
	if c.StrayHalfWidth != nil && !(*c.StrayHalfWidth >= 0 && *c.StrayHalfWidth <= maxStrayHalfWidth) {
		return fmt.Errorf("stray_half_width must be within [0, %d], got %f", maxStrayHalfWidth, *c.StrayHalfWidth)
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}
	if c.LogFormat != nil {
		switch *c.LogFormat {
		case "console", "json":
		default:
			return fmt.Errorf("log_format must be console or json, got %q", *c.LogFormat)
		}
	}
	return nil
}

func parseTime(key string, v *string) (time.Time, error) {
	if v == nil || *v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, *v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s '%s': %w", key, *v, err)
	}
	return t.UTC(), nil
}

// Merge copies every field set in o over c. Used to layer CLI overrides on
// top of a loaded file.
func (c *Config) Merge(o *Config) {
	if o == nil {
		return
	}
	mergeString(&c.Clusters, o.Clusters)
	mergeString(&c.Streams, o.Streams)
	mergeString(&c.TimeStart, o.TimeStart)
	mergeString(&c.TimeStop, o.TimeStop)
	mergeString(&c.Software, o.Software)
	mergeString(&c.CalibFlags, o.CalibFlags)
	mergeString(&c.CalibTables, o.CalibTables)
	mergeString(&c.DBPath, o.DBPath)
	mergeString(&c.PlotDir, o.PlotDir)
	mergeString(&c.ChartPath, o.ChartPath)
	mergeString(&c.LogFormat, o.LogFormat)
	mergeString(&c.LogLevel, o.LogLevel)
	if o.Categories != nil {
		c.Categories = append([]int(nil), o.Categories...)
	}
	if o.Tolerance != nil {
		v := *o.Tolerance
		c.Tolerance = &v
	}
	if o.StrayHalfWidth != nil {
		v := *o.StrayHalfWidth
		c.StrayHalfWidth = &v
	}
	if o.Workers != nil {
		v := *o.Workers
		c.Workers = &v
	}
}

func mergeString(dst **string, src *string) {
	if src != nil {
		*dst = ptrString(*src)
	}
}

// GetClusters returns the cluster selection, defaulting to all clusters.
func (c *Config) GetClusters() selector.Mask {
	if c.Clusters == nil {
		return selector.All()
	}
	m, err := selector.Parse(*c.Clusters)
	if err != nil {
		return selector.All()
	}
	return m
}

// GetStreams returns the requested stream names in lower case.
func (c *Config) GetStreams() []string {
	if c.Streams == nil || strings.TrimSpace(*c.Streams) == "" {
		return []string{"nadir", "limb", "occultation", "monitoring"}
	}
	var out []string
	for _, s := range strings.Split(*c.Streams, ",") {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// GetTimeWindow returns the configured state-time window. A zero bound means
// unbounded on that side.
func (c *Config) GetTimeWindow() (start, stop time.Time) {
	start, _ = parseTime("time_start", c.TimeStart)
	stop, _ = parseTime("time_stop", c.TimeStop)
	return start, stop
}

// GetSoftware returns the processor version override, or "" to use the product's.
func (c *Config) GetSoftware() string {
	if c.Software == nil {
		return ""
	}
	return *c.Software
}

// GetTolerance returns the tile match tolerance.
func (c *Config) GetTolerance() time.Duration {
	if c.Tolerance == nil {
		return 500 * time.Millisecond // default
	}
	return time.Duration(*c.Tolerance * float64(time.Second))
}

// GetCalibFlags returns the calibration flag expression, default "all".
func (c *Config) GetCalibFlags() string {
	if c.CalibFlags == nil || *c.CalibFlags == "" {
		return "all"
	}
	return *c.CalibFlags
}

// GetCalibTables returns the calibration tables path, or "" when none is configured.
func (c *Config) GetCalibTables() string {
	if c.CalibTables == nil {
		return ""
	}
	return *c.CalibTables
}

// GetStrayHalfWidth returns the stray-light kernel half-width in pixels.
func (c *Config) GetStrayHalfWidth() float64 {
	if c.StrayHalfWidth == nil {
		return 3
	}
	return *c.StrayHalfWidth
}

// GetWorkers returns the calibration worker count.
func (c *Config) GetWorkers() int {
	if c.Workers == nil {
		return 1
	}
	return *c.Workers
}

// GetDBPath returns the tile database path.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "nadc.db"
	}
	return *c.DBPath
}

// GetPlotDir returns the PNG output directory, or "" to disable plots.
func (c *Config) GetPlotDir() string {
	if c.PlotDir == nil {
		return ""
	}
	return *c.PlotDir
}

// GetChartPath returns the HTML chart path, or "" to disable the chart.
func (c *Config) GetChartPath() string {
	if c.ChartPath == nil {
		return ""
	}
	return *c.ChartPath
}

// GetLogFormat returns "console" or "json".
func (c *Config) GetLogFormat() string {
	if c.LogFormat == nil {
		return "console"
	}
	return *c.LogFormat
}

// GetLogLevel returns the minimum log level name.
func (c *Config) GetLogLevel() string {
	if c.LogLevel == nil || *c.LogLevel == "" {
		return "info"
	}
	return *c.LogLevel
}
