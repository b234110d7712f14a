package product

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/nadc.report/internal/fsutil"
)

const sensingLayout = "02-Jan-2006 15:04:05.000000"

// FormatSensingTime renders t the way SENSING_START/STOP are written.
func FormatSensingTime(t time.Time) string {
	return strings.ToUpper(t.UTC().Format(sensingLayout))
}

// ParseSensingTime parses a SENSING_START/STOP value. Month names match
// case-insensitively.
func ParseSensingTime(s string) (time.Time, error) {
	return time.Parse(sensingLayout, strings.TrimSpace(s))
}

type dataSet struct {
	dsd  DSD
	data []byte
}

// Writer assembles a product. Data sets are laid out after the SPH in the
// order they were added; offsets and sizes are filled in by Bytes.
type Writer struct {
	Product      string
	ProcStage    string
	SoftwareVer  string
	SensingStart time.Time
	SensingStop  time.Time
	AbsOrbit     int64
	SPH          map[string]string

	sets []dataSet
}

// NewWriter returns a writer for a product with the given name.
func NewWriter(name string) *Writer {
	return &Writer{Product: name, ProcStage: "N", SPH: map[string]string{}}
}

// AddDataSet appends a measurement or annotation data set. dsrSize is
// negative for variable-size records.
func (w *Writer) AddDataSet(name, typ string, data []byte, numDSR, dsrSize int64) {
	w.sets = append(w.sets, dataSet{
		dsd:  DSD{Name: name, Type: typ, NumDSR: numDSR, DSRSize: dsrSize},
		data: data,
	})
}

// AddReference appends a reference descriptor naming an external file.
func (w *Writer) AddReference(name, filename string) {
	w.sets = append(w.sets, dataSet{dsd: DSD{Name: name, Type: "R", Filename: filename}})
}

// AddSpare appends an empty descriptor slot.
func (w *Writer) AddSpare() {
	w.sets = append(w.sets, dataSet{})
}

func (w *Writer) sphHead() []byte {
	var fw fieldWriter
	fw.str("SPH_DESCRIPTOR", w.Product+" SPECIFIC HEADER", 28)
	keys := make([]string, 0, len(w.SPH))
	for k := range w.SPH {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fw.plain(k, w.SPH[k])
	}
	return fw.buf.Bytes()
}

// Bytes renders the complete product.
func (w *Writer) Bytes() ([]byte, error) {
	head := w.sphHead()
	sphSize := int64(len(head)) + int64(len(w.sets))*DSDSize

	offset := int64(MPHSize) + sphSize
	dsds := make([]byte, 0, len(w.sets)*DSDSize)
	for i := range w.sets {
		s := &w.sets[i]
		var entry []byte
		var err error
		if s.dsd.Name == "" {
			entry = append(bytes.Repeat([]byte{' '}, DSDSize-1), '\n')
		} else {
			if len(s.data) > 0 {
				s.dsd.Offset = offset
				s.dsd.Size = int64(len(s.data))
				offset += s.dsd.Size
			}
			if entry, err = renderDSD(s.dsd); err != nil {
				return nil, err
			}
		}
		dsds = append(dsds, entry...)
	}
	total := offset

	var fw fieldWriter
	fw.str("PRODUCT", w.Product, 62)
	fw.plain("PROC_STAGE", truncate(w.ProcStage+" ", 1))
	fw.spare(40)
	fw.str("SENSING_START", FormatSensingTime(w.SensingStart), 27)
	fw.str("SENSING_STOP", FormatSensingTime(w.SensingStop), 27)
	fw.str("SOFTWARE_VER", w.SoftwareVer, 14)
	fw.num("ABS_ORBIT", w.AbsOrbit, 5, "")
	fw.num("TOT_SIZE", total, 20, "<bytes>")
	fw.num("SPH_SIZE", sphSize, 10, "<bytes>")
	fw.num("NUM_DSD", int64(len(w.sets)), 10, "")
	fw.num("DSD_SIZE", DSDSize, 10, "<bytes>")
	mph, err := fw.padTo(MPHSize)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, total)
	out = append(out, mph...)
	out = append(out, head...)
	out = append(out, dsds...)
	for _, s := range w.sets {
		out = append(out, s.data...)
	}
	return out, nil
}

func renderDSD(d DSD) ([]byte, error) {
	var fw fieldWriter
	fw.str("DS_NAME", d.Name, 28)
	fw.plain("DS_TYPE", truncate(d.Type+" ", 1))
	fw.str("FILENAME", d.Filename, 62)
	fw.num("DS_OFFSET", d.Offset, 20, "<bytes>")
	fw.num("DS_SIZE", d.Size, 20, "<bytes>")
	fw.num("NUM_DSR", d.NumDSR, 10, "")
	fw.num("DSR_SIZE", d.DSRSize, 10, "<bytes>")
	b, err := fw.padTo(DSDSize)
	if err != nil {
		return nil, fmt.Errorf("descriptor %s: %w", d.Name, err)
	}
	return b, nil
}

// WriteTo writes the rendered product to out.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	b, err := w.Bytes()
	if err != nil {
		return 0, err
	}
	n, err := out.Write(b)
	return int64(n), err
}

// Save writes the product to path, compressed when the name ends in .gz or .zst.
func (w *Writer) Save(fsys fsutil.FileSystem, path string) error {
	b, err := w.Bytes()
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileCompressed(fsys, path, b); err != nil {
		return fmt.Errorf("failed to write product %s: %w", path, err)
	}
	return nil
}
