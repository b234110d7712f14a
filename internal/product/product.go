// Package product reads and writes the multi-section binary product
// container: a fixed text main header (MPH), a specific header (SPH) whose
// tail holds the data-set descriptors (DSDs), followed by the data sets.
package product

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/banshee-data/nadc.report/internal/binfmt"
	"github.com/banshee-data/nadc.report/internal/errs"
	"github.com/banshee-data/nadc.report/internal/fsutil"
	"github.com/banshee-data/nadc.report/internal/monitoring"
)

const (
	// MPHSize is the fixed size of the main product header.
	MPHSize = 1247
	// DSDSize is the size of one data-set descriptor entry.
	DSDSize = 280
)

var logf = monitoring.Scoped("product")

// MPH is the parsed main product header.
type MPH struct {
	Product      string
	ProcStage    string
	SoftwareVer  string
	SensingStart string
	SensingStop  string
	AbsOrbit     int64
	TotSize      int64
	SPHSize      int64
	NumDSD       int64
	DSDSize      int64
}

// DSD describes one data set. DSRSize is negative for variable-size records.
type DSD struct {
	Name     string
	Type     string
	Filename string
	Offset   int64
	Size     int64
	NumDSR   int64
	DSRSize  int64
}

// Product is an opened product. Data sets are read through Section or ReadAt.
type Product struct {
	Name string
	MPH  MPH
	SPH  Fields
	DSDs []DSD

	data   io.ReaderAt
	size   int64
	closer io.Closer
	codec  binfmt.Codec
}

// Open opens the product at path. Files ending in .gz, .zst or .lz4 are
// decompressed into memory; plain files are read on demand.
func Open(fsys fsutil.FileSystem, path string) (*Product, error) {
	if c := fsutil.CompressionFor(path); c != fsutil.CompressionNone {
		data, err := fsutil.ReadFileDecompressed(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("failed to read product: %w", err)
		}
		return FromBytes(path, data)
	}

	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open product: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat product: %w", err)
	}
	p, err := newProduct(path, f, info.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	p.closer = f
	return p, nil
}

// FromBytes parses a product held in memory.
func FromBytes(name string, data []byte) (*Product, error) {
	return newProduct(name, bytes.NewReader(data), int64(len(data)))
}

func newProduct(name string, r io.ReaderAt, size int64) (*Product, error) {
	p := &Product{
		Name:  name,
		data:  r,
		size:  size,
		codec: binfmt.NewCodec(binfmt.BigEndian),
	}

	head := make([]byte, MPHSize)
	if err := p.ReadAt(head, 0, "MPH"); err != nil {
		return nil, err
	}
	fields, err := parseFields("MPH", head)
	if err != nil {
		return nil, err
	}
	if err := p.MPH.fill(fields); err != nil {
		return nil, errs.Formatf("MPH", 0, "%v", err)
	}
	if p.MPH.DSDSize != DSDSize {
		return nil, errs.Formatf("MPH", 0, "DSD_SIZE %d, expected %d", p.MPH.DSDSize, DSDSize)
	}
	dsdBytes := p.MPH.NumDSD * p.MPH.DSDSize
	if p.MPH.SPHSize < dsdBytes {
		return nil, errs.Formatf("MPH", 0, "SPH_SIZE %d smaller than %d descriptors", p.MPH.SPHSize, p.MPH.NumDSD)
	}

	sph := make([]byte, p.MPH.SPHSize)
	if err := p.ReadAt(sph, MPHSize, "SPH"); err != nil {
		return nil, err
	}
	headLen := p.MPH.SPHSize - dsdBytes
	if p.SPH, err = parseFields("SPH", sph[:headLen]); err != nil {
		return nil, err
	}

	for i := int64(0); i < p.MPH.NumDSD; i++ {
		off := headLen + i*p.MPH.DSDSize
		entry := sph[off : off+p.MPH.DSDSize]
		dsd, spare, err := parseDSD(entry, MPHSize+off)
		if err != nil {
			return nil, err
		}
		if spare {
			continue
		}
		p.DSDs = append(p.DSDs, dsd)
	}

	if p.MPH.TotSize > 0 && p.MPH.TotSize != size {
		logf("warning: %s TOT_SIZE %d differs from file size %d", name, p.MPH.TotSize, size)
	}
	return p, nil
}

func (m *MPH) fill(f Fields) error {
	m.Product = f.String("PRODUCT")
	if m.Product == "" {
		return errors.New("missing PRODUCT")
	}
	m.ProcStage = f.String("PROC_STAGE")
	m.SoftwareVer = f.String("SOFTWARE_VER")
	m.SensingStart = f.String("SENSING_START")
	m.SensingStop = f.String("SENSING_STOP")

	var err error
	if m.SPHSize, err = f.Int("SPH_SIZE"); err != nil {
		return err
	}
	if m.NumDSD, err = f.Int("NUM_DSD"); err != nil {
		return err
	}
	if m.DSDSize, err = f.Int("DSD_SIZE"); err != nil {
		return err
	}
	// Optional numeric keys
	m.TotSize, _ = f.Int("TOT_SIZE")
	m.AbsOrbit, _ = f.Int("ABS_ORBIT")
	return nil
}

func parseDSD(b []byte, offset int64) (DSD, bool, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return DSD{}, true, nil
	}
	f, err := parseFields("DSD", b)
	if err != nil {
		return DSD{}, false, err
	}
	d := DSD{
		Name:     f.String("DS_NAME"),
		Type:     f.String("DS_TYPE"),
		Filename: f.String("FILENAME"),
	}
	if d.Name == "" {
		return DSD{}, true, nil
	}
	for _, field := range []struct {
		key string
		dst *int64
	}{
		{"DS_OFFSET", &d.Offset},
		{"DS_SIZE", &d.Size},
		{"NUM_DSR", &d.NumDSR},
		{"DSR_SIZE", &d.DSRSize},
	} {
		if *field.dst, err = f.Int(field.key); err != nil {
			return DSD{}, false, errs.Formatf("DSD", offset, "%s: %v", d.Name, err)
		}
	}
	return d, false, nil
}

// DSD returns the descriptor with the given name. Absence is not an error.
func (p *Product) DSD(name string) (DSD, bool) {
	for _, d := range p.DSDs {
		if strings.EqualFold(d.Name, name) {
			return d, true
		}
	}
	return DSD{}, false
}

// Codec returns the decoder for the product's declared big-endian order.
func (p *Product) Codec() binfmt.Codec { return p.codec }

// Size returns the product size in bytes.
func (p *Product) Size() int64 { return p.size }

// ReadAt fills b from offset. A short read is a FormatError naming section.
func (p *Product) ReadAt(b []byte, offset int64, section string) error {
	if offset < 0 || offset+int64(len(b)) > p.size {
		return errs.Formatf(section, offset, "read of %d bytes past end of product (%d bytes)", len(b), p.size)
	}
	n, err := p.data.ReadAt(b, offset)
	if n == len(b) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return errs.Formatf(section, offset, "short read: %d of %d bytes", n, len(b))
	}
	return fmt.Errorf("%s at offset %d: %w", section, offset, err)
}

// Section returns a reader over the data set described by d.
func (p *Product) Section(d DSD) (*io.SectionReader, error) {
	if d.Offset < 0 || d.Size < 0 || d.Offset+d.Size > p.size {
		return nil, errs.Formatf(d.Name, d.Offset, "data set of %d bytes extends past end of product (%d bytes)", d.Size, p.size)
	}
	return io.NewSectionReader(p.data, d.Offset, d.Size), nil
}

// ReadSection reads the whole data set described by d.
func (p *Product) ReadSection(d DSD) ([]byte, error) {
	if _, err := p.Section(d); err != nil {
		return nil, err
	}
	b := make([]byte, d.Size)
	if err := p.ReadAt(b, d.Offset, d.Name); err != nil {
		return nil, err
	}
	return b, nil
}

// Close releases the underlying file, if any.
func (p *Product) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}
