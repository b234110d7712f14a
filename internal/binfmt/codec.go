package binfmt

import (
	"bytes"
	"fmt"
	"math"
	"sync"

	"github.com/banshee-data/nadc.report/internal/errs"
)

// Codec decodes and encodes records in one declared byte order.
type Codec struct {
	order Order
	sw    swapper
}

// NewCodec returns a codec for products declared in order.
func NewCodec(order Order) Codec {
	return Codec{order: order, sw: newSwapper(order)}
}

// Order returns the declared byte order.
func (c Codec) Order() Order { return c.order }

var validated sync.Map // *Layout -> error

// checkLayout validates l once; a malformed layout is a format error rather
// than a panic deep inside the swapper.
func checkLayout(l *Layout) error {
	if v, ok := validated.Load(l); ok {
		if v == nil {
			return nil
		}
		return v.(error)
	}
	var stored any
	if err := l.Validate(); err != nil {
		stored = errs.Formatf(l.Name, -1, "%v", err)
	}
	validated.Store(l, stored)
	if stored == nil {
		return nil
	}
	return stored.(error)
}

// Decode decodes b as exactly one record of l. A length mismatch means the
// layout and the data belong to different format versions.
func (c Codec) Decode(b []byte, l *Layout) (Record, error) {
	if err := checkLayout(l); err != nil {
		return nil, err
	}
	if size := l.Size(); len(b) != size {
		return nil, errs.Formatf(l.Name, -1, "record length %d, layout expects %d", len(b), size)
	}
	return c.decode(b, l)
}

// DecodeArray decodes n consecutive records of l.
func (c Codec) DecodeArray(b []byte, l *Layout, n int) ([]Record, error) {
	if err := checkLayout(l); err != nil {
		return nil, err
	}
	size := l.Size()
	if n < 0 || len(b) != n*size {
		return nil, errs.Formatf(l.Name, -1, "array length %d, layout expects %d x %d", len(b), n, size)
	}
	out := make([]Record, n)
	for i := range out {
		r, err := c.decode(b[i*size:(i+1)*size], l)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", l.Name, i, err)
		}
		out[i] = r
	}
	return out, nil
}

func (c Codec) decode(b []byte, l *Layout) (Record, error) {
	r := make(Record, len(l.Fields))
	off := 0
	for _, f := range l.Fields {
		size := f.Size()
		v, err := c.decodeField(b[off:off+size], f, l.BitOrder)
		if err != nil {
			return nil, err
		}
		r[f.Name] = v
		off += size
	}
	return r, nil
}

func (c Codec) decodeField(b []byte, f Field, order BitOrder) (any, error) {
	n := f.count()
	w := f.elemSize()
	switch f.Kind {
	case Int:
		if f.Signed {
			vals := make([]int64, n)
			for i := range vals {
				vals[i] = signExtend(c.sw.unsigned(b[i*w:], w), w)
			}
			if f.Count <= 1 {
				return vals[0], nil
			}
			return vals, nil
		}
		vals := make([]uint64, n)
		for i := range vals {
			vals[i] = c.sw.unsigned(b[i*w:], w)
		}
		if f.Count <= 1 {
			return vals[0], nil
		}
		return vals, nil

	case Float:
		vals := make([]float64, n)
		for i := range vals {
			if w == 4 {
				vals[i] = float64(math.Float32frombits(c.sw.uint32(b[i*w:])))
			} else {
				vals[i] = math.Float64frombits(c.sw.uint64(b[i*w:]))
			}
		}
		if f.Count <= 1 {
			return vals[0], nil
		}
		return vals, nil

	case String:
		vals := make([]string, n)
		for i := range vals {
			vals[i] = string(bytes.TrimRight(b[i*w:(i+1)*w], "\x00"))
		}
		if f.Count <= 1 {
			return vals[0], nil
		}
		return vals, nil

	case Bitfield:
		table, err := newBitTable(f, order)
		if err != nil {
			return nil, err
		}
		vals := make([]Record, n)
		for i := range vals {
			vals[i] = table.unpack(c.sw.unsigned(b[i*w:], w))
		}
		if f.Count <= 1 {
			return vals[0], nil
		}
		return vals, nil

	case Nested:
		vals := make([]Record, n)
		for i := range vals {
			r, err := c.decode(b[i*w:(i+1)*w], f.Layout)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", f.Name, i, err)
			}
			vals[i] = r
		}
		if f.Count <= 1 {
			return vals[0], nil
		}
		return vals, nil
	}
	return nil, errs.Formatf(f.Name, -1, "unknown field kind %v", f.Kind)
}

// Encode writes r according to l. Missing fields encode as zero.
func (c Codec) Encode(r Record, l *Layout) ([]byte, error) {
	if err := checkLayout(l); err != nil {
		return nil, err
	}
	b := make([]byte, l.Size())
	if err := c.encode(b, r, l); err != nil {
		return nil, err
	}
	return b, nil
}

// EncodeArray writes records back to back.
func (c Codec) EncodeArray(rs []Record, l *Layout) ([]byte, error) {
	if err := checkLayout(l); err != nil {
		return nil, err
	}
	size := l.Size()
	b := make([]byte, size*len(rs))
	for i, r := range rs {
		if err := c.encode(b[i*size:(i+1)*size], r, l); err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", l.Name, i, err)
		}
	}
	return b, nil
}

func (c Codec) encode(b []byte, r Record, l *Layout) error {
	off := 0
	for _, f := range l.Fields {
		size := f.Size()
		if v, ok := r[f.Name]; ok {
			if err := c.encodeField(b[off:off+size], f, l.BitOrder, v); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
		}
		off += size
	}
	return nil
}

func (c Codec) encodeField(b []byte, f Field, order BitOrder, v any) error {
	w := f.elemSize()
	elems, err := elements(v, f)
	if err != nil {
		return err
	}
	for i, e := range elems {
		dst := b[i*w : (i+1)*w]
		switch f.Kind {
		case Int:
			u, ok := toUint64(e)
			if !ok {
				return fmt.Errorf("unsupported int value %T", e)
			}
			if !fitsWidth(e, w, f.Signed) {
				return fmt.Errorf("value %v does not fit %d-byte int", e, w)
			}
			c.sw.putUnsigned(dst, w, u)
		case Float:
			x, ok := toFloat64(e)
			if !ok {
				return fmt.Errorf("unsupported float value %T", e)
			}
			if w == 4 {
				c.sw.putUint32(dst, math.Float32bits(float32(x)))
			} else {
				c.sw.putUint64(dst, math.Float64bits(x))
			}
		case String:
			s, ok := e.(string)
			if !ok {
				return fmt.Errorf("unsupported string value %T", e)
			}
			if len(s) > w {
				return fmt.Errorf("string %q longer than %d bytes", s, w)
			}
			copy(dst, s)
		case Bitfield:
			sub, ok := e.(Record)
			if !ok {
				return fmt.Errorf("unsupported bitfield value %T", e)
			}
			table, err := newBitTable(f, order)
			if err != nil {
				return err
			}
			packed, err := table.pack(sub)
			if err != nil {
				return err
			}
			c.sw.putUnsigned(dst, w, packed)
		case Nested:
			sub, ok := e.(Record)
			if !ok {
				return fmt.Errorf("unsupported record value %T", e)
			}
			if err := c.encode(dst, sub, f.Layout); err != nil {
				return err
			}
		}
	}
	return nil
}

// elements flattens a scalar or slice value into at most f.Count elements.
func elements(v any, f Field) ([]any, error) {
	var out []any
	switch x := v.(type) {
	case []int64:
		for _, e := range x {
			out = append(out, e)
		}
	case []uint64:
		for _, e := range x {
			out = append(out, e)
		}
	case []float64:
		for _, e := range x {
			out = append(out, e)
		}
	case []string:
		for _, e := range x {
			out = append(out, e)
		}
	case []Record:
		for _, e := range x {
			out = append(out, e)
		}
	default:
		out = []any{v}
	}
	if len(out) > f.count() {
		return nil, fmt.Errorf("%d elements for count %d", len(out), f.count())
	}
	return out, nil
}
