package product

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/nadc.report/internal/errs"
)

// Fields holds the KEY=value entries of a text header block.
type Fields map[string]string

// parseFields reads newline separated KEY=value entries. Quoted values are
// unquoted and right-trimmed; blank (spare) lines are skipped.
func parseFields(section string, b []byte) (Fields, error) {
	out := make(Fields)
	var offset int64
	for _, line := range bytes.Split(b, []byte{'\n'}) {
		start := offset
		offset += int64(len(line)) + 1

		text := strings.TrimRight(string(line), " \x00")
		if text == "" {
			continue
		}
		eq := strings.IndexByte(text, '=')
		if eq <= 0 {
			return nil, errs.Formatf(section, start, "malformed header line %q", text)
		}
		key, value := text[:eq], text[eq+1:]
		if strings.HasPrefix(value, `"`) {
			end := strings.LastIndexByte(value, '"')
			if end == 0 {
				return nil, errs.Formatf(section, start, "unterminated string for %s", key)
			}
			value = strings.TrimRight(value[1:end], " ")
		}
		out[key] = value
	}
	return out, nil
}

// String returns the value of key, or "" when absent.
func (f Fields) String(key string) string { return f[key] }

// Int parses a numeric value such as "+0000001247<bytes>".
func (f Fields) Int(key string) (int64, error) {
	v, ok := f[key]
	if !ok {
		return 0, fmt.Errorf("missing header key %s", key)
	}
	if i := strings.IndexByte(v, '<'); i >= 0 {
		v = v[:i]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("header key %s: %w", key, err)
	}
	return n, nil
}

// fieldWriter renders header entries with fixed widths.
type fieldWriter struct {
	buf bytes.Buffer
}

func (w *fieldWriter) str(key, value string, width int) {
	fmt.Fprintf(&w.buf, "%s=\"%-*s\"\n", key, width, truncate(value, width))
}

func (w *fieldWriter) plain(key, value string) {
	fmt.Fprintf(&w.buf, "%s=%s\n", key, value)
}

// num renders a signed, zero padded number of digits width plus an optional unit.
func (w *fieldWriter) num(key string, v int64, digits int, unit string) {
	sign := '+'
	if v < 0 {
		sign = '-'
		v = -v
	}
	fmt.Fprintf(&w.buf, "%s=%c%0*d%s\n", key, sign, digits, v, unit)
}

func (w *fieldWriter) spare(n int) {
	w.buf.Write(bytes.Repeat([]byte{' '}, n))
	w.buf.WriteByte('\n')
}

// padTo fills the block to size with a trailing spare line.
func (w *fieldWriter) padTo(size int) ([]byte, error) {
	gap := size - w.buf.Len()
	switch {
	case gap == 0:
	case gap >= 2:
		w.spare(gap - 1)
	default:
		return nil, fmt.Errorf("header block is %d bytes, cannot pad to %d", w.buf.Len(), size)
	}
	return w.buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
