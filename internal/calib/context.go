package calib

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/banshee-data/nadc.report/internal/calib/numeric"
	"github.com/banshee-data/nadc.report/internal/fsutil"
	"github.com/banshee-data/nadc.report/internal/mds"
)

// ChannelPixels is the number of detector pixels per channel. Pixel ids
// carry the channel in their upper bits: id = (channel-1)*ChannelPixels + p.
const ChannelPixels = 1024

// maxTablesSize bounds the decompressed tables file.
const maxTablesSize = 256 << 20

// Curve is a response sampled on its own wavelength grid.
type Curve struct {
	Wavelength []float64 `json:"wavelength"`
	Value      []float64 `json:"value"`
}

// GhostParam places scale×signal[p] at pixel (n-1-p)+Offset.
type GhostParam struct {
	Offset int     `json:"offset"`
	Scale  float64 `json:"scale"`
}

// Sensitivity holds the mu2/mu3 polarisation sensitivity rows of one
// channel, one row per scan-mirror angle (see Context.MirrorAngle). Angles
// are ascending.
type Sensitivity struct {
	Angles []float64   `json:"angles"`
	Mu2    [][]float64 `json:"mu2"`
	Mu3    [][]float64 `json:"mu3"`
}

// ChannelTables are the calibration tables of one detector channel. Pixel
// tables are indexed by the pixel number within the channel.
type ChannelTables struct {
	// SubState selects the averaging factor 2^SubState in average mode.
	SubState      int          `json:"sub_state"`
	Dark          [][]float64  `json:"dark"`
	PixelGain     []float64    `json:"pixel_gain"`
	StrayFraction *float64     `json:"stray_fraction"`
	Ghosts        []GhostParam `json:"ghosts"`
	Sensitivity   *Sensitivity `json:"sensitivity"`
	Response      *Curve       `json:"response"`
}

// Context is the read-only calibration state shared by every cluster.
type Context struct {
	AverageMode    bool    `json:"average_mode"`
	StrayHalfWidth float64 `json:"stray_half_width"`
	// GDFSpan is the wavelength span, in nm, below the theoretical point
	// sampled by the analytic polarisation curve.
	GDFSpan float64 `json:"gdf_span"`
	// MirrorZero is the scan-mirror angle, in degrees, at ESM position zero.
	MirrorZero float64                  `json:"alpha0_esm"`
	Channels   map[uint8]*ChannelTables `json:"channels"`
}

// MirrorAngle converts an ESM encoder position to the scan-mirror angle the
// sensitivity rows are tabulated on.
func (c *Context) MirrorAngle(posESM float64) float64 {
	return c.MirrorZero + 0.5*posESM
}

// Channel returns the tables of channel ch, or nil.
func (c *Context) Channel(ch uint8) *ChannelTables {
	if c == nil {
		return nil
	}
	return c.Channels[ch]
}

// Validate checks table shapes.
func (c *Context) Validate() error {
	if !(c.StrayHalfWidth >= 0 && c.StrayHalfWidth <= numeric.MaxHalfWidth) {
		return fmt.Errorf("stray_half_width must be within [0, %d], got %v", numeric.MaxHalfWidth, c.StrayHalfWidth)
	}
	if c.GDFSpan < 0 {
		return fmt.Errorf("gdf_span must be non-negative, got %v", c.GDFSpan)
	}
	channels := make([]int, 0, len(c.Channels))
	for ch := range c.Channels {
		channels = append(channels, int(ch))
	}
	sort.Ints(channels)
	for _, ch := range channels {
		if err := c.Channels[uint8(ch)].validate(); err != nil {
			return fmt.Errorf("channel %d: %w", ch, err)
		}
	}
	return nil
}

func (t *ChannelTables) validate() error {
	if t == nil {
		return fmt.Errorf("no tables")
	}
	if t.SubState < 0 || t.SubState > 2 {
		return fmt.Errorf("sub_state must be 0, 1 or 2, got %d", t.SubState)
	}
	if len(t.Dark) > 0 {
		if len(t.Dark) != mds.LeakageBins {
			return fmt.Errorf("dark table has %d rows, want %d", len(t.Dark), mds.LeakageBins)
		}
		for i, row := range t.Dark {
			if len(row) != len(t.Dark[0]) {
				return fmt.Errorf("dark row %d has %d pixels, row 0 has %d", i, len(row), len(t.Dark[0]))
			}
		}
	}
	if len(t.PixelGain) > ChannelPixels || len(t.Dark) > 0 && len(t.Dark[0]) > ChannelPixels {
		return fmt.Errorf("pixel tables exceed %d pixels", ChannelPixels)
	}
	if t.StrayFraction != nil && (*t.StrayFraction < 0 || *t.StrayFraction > 1) {
		return fmt.Errorf("stray_fraction must be within [0,1], got %v", *t.StrayFraction)
	}
	if s := t.Sensitivity; s != nil {
		if len(s.Angles) == 0 || len(s.Mu2) != len(s.Angles) || len(s.Mu3) != len(s.Angles) {
			return fmt.Errorf("sensitivity needs one mu2 and mu3 row per angle")
		}
		if !sort.Float64sAreSorted(s.Angles) {
			return fmt.Errorf("sensitivity angles must be ascending")
		}
		width := len(s.Mu2[0])
		for i := range s.Angles {
			if len(s.Mu2[i]) != width || len(s.Mu3[i]) != width {
				return fmt.Errorf("sensitivity row %d width differs from row 0", i)
			}
		}
	}
	if r := t.Response; r != nil {
		if len(r.Wavelength) < 2 || len(r.Wavelength) != len(r.Value) {
			return fmt.Errorf("response curve needs at least two (wavelength, value) pairs")
		}
	}
	return nil
}

// LoadContext reads a JSON tables file, gzip or zstd compressed when the
// name ends in .gz, .zst or .lz4.
func LoadContext(fsys fsutil.FileSystem, path string) (*Context, error) {
	name := strings.ToLower(path)
	if fsutil.CompressionFor(name) != fsutil.CompressionNone {
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	if ext := filepath.Ext(name); ext != ".json" {
		return nil, fmt.Errorf("calibration tables must be a .json file, got %q", ext)
	}
	info, err := fsys.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat calibration tables: %w", err)
	}
	if info.Size() > maxTablesSize {
		return nil, fmt.Errorf("calibration tables too large: %d bytes (max %d)", info.Size(), maxTablesSize)
	}
	data, err := fsutil.ReadFileDecompressed(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration tables: %w", err)
	}
	if len(data) > maxTablesSize {
		return nil, fmt.Errorf("calibration tables too large once decompressed: %d bytes", len(data))
	}

	c := &Context{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse calibration tables: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid calibration tables: %w", err)
	}
	logf("loaded %d channel table sets from %s", len(c.Channels), path)
	return c, nil
}
