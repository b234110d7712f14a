package binfmt

import (
	"math"

	"github.com/banshee-data/nadc.report/internal/errs"
)

// Cursor reads consecutive scalars from a buffer whose shape is only known
// while reading. The first overrun is sticky: later reads return zero values
// and Err reports the failure.
type Cursor struct {
	buf     []byte
	off     int
	sw      swapper
	section string
	err     error
}

// NewCursor returns a cursor over b in the codec's byte order. section names
// the data set in error messages.
func (c Codec) NewCursor(b []byte, section string) *Cursor {
	return &Cursor{buf: b, sw: c.sw, section: section}
}

// Offset returns the number of bytes consumed.
func (cur *Cursor) Offset() int { return cur.off }

// Remaining returns the number of unread bytes.
func (cur *Cursor) Remaining() int { return len(cur.buf) - cur.off }

// Err returns the first overrun, if any.
func (cur *Cursor) Err() error { return cur.err }

func (cur *Cursor) take(n int) []byte {
	if cur.err != nil {
		return nil
	}
	if n < 0 || cur.off+n > len(cur.buf) {
		cur.err = errs.Formatf(cur.section, int64(cur.off), "read of %d bytes past end of %d byte record", n, len(cur.buf))
		return nil
	}
	b := cur.buf[cur.off : cur.off+n]
	cur.off += n
	return b
}

// Bytes returns the next n raw bytes.
func (cur *Cursor) Bytes(n int) []byte { return cur.take(n) }

// Skip advances past n bytes.
func (cur *Cursor) Skip(n int) { cur.take(n) }

// Uint8 reads one byte.
func (cur *Cursor) Uint8() uint8 {
	b := cur.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Uint16 reads an unsigned 16-bit value.
func (cur *Cursor) Uint16() uint16 {
	b := cur.take(2)
	if b == nil {
		return 0
	}
	return cur.sw.uint16(b)
}

// Uint32 reads an unsigned 32-bit value.
func (cur *Cursor) Uint32() uint32 {
	b := cur.take(4)
	if b == nil {
		return 0
	}
	return cur.sw.uint32(b)
}

// Int32 reads a signed 32-bit value.
func (cur *Cursor) Int32() int32 { return int32(cur.Uint32()) }

// Float32 reads an IEEE single and widens it.
func (cur *Cursor) Float32() float64 {
	return float64(math.Float32frombits(cur.Uint32()))
}

// Uint16s reads n unsigned 16-bit values.
func (cur *Cursor) Uint16s(n int) []uint16 {
	b := cur.take(2 * n)
	if b == nil {
		return nil
	}
	out := make([]uint16, n)
	for i := range out {
		out[i] = cur.sw.uint16(b[2*i:])
	}
	return out
}

// Float32s reads n IEEE singles and widens them.
func (cur *Cursor) Float32s(n int) []float64 {
	b := cur.take(4 * n)
	if b == nil {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(math.Float32frombits(cur.sw.uint32(b[4*i:])))
	}
	return out
}

// Record decodes the next record of l.
func (cur *Cursor) Record(c Codec, l *Layout) Record {
	b := cur.take(l.Size())
	if b == nil {
		return nil
	}
	r, err := c.Decode(b, l)
	if err != nil {
		cur.err = err
		return nil
	}
	return r
}

// Appender writes scalars in a declared byte order. It is the write-side
// counterpart of Cursor, used to produce variable-length records.
type Appender struct {
	buf []byte
	sw  swapper
}

// NewAppender returns an empty appender in the codec's byte order.
func (c Codec) NewAppender() *Appender { return &Appender{sw: c.sw} }

// Bytes returns the accumulated buffer.
func (a *Appender) Bytes() []byte { return a.buf }

// Len returns the accumulated length.
func (a *Appender) Len() int { return len(a.buf) }

// Raw appends b verbatim.
func (a *Appender) Raw(b []byte) { a.buf = append(a.buf, b...) }

// Uint8 appends one byte.
func (a *Appender) Uint8(v uint8) { a.buf = append(a.buf, v) }

// Uint16 appends an unsigned 16-bit value.
func (a *Appender) Uint16(v uint16) {
	var b [2]byte
	a.sw.putUint16(b[:], v)
	a.buf = append(a.buf, b[:]...)
}

// Uint32 appends an unsigned 32-bit value.
func (a *Appender) Uint32(v uint32) {
	var b [4]byte
	a.sw.putUint32(b[:], v)
	a.buf = append(a.buf, b[:]...)
}

// Int32 appends a signed 32-bit value.
func (a *Appender) Int32(v int32) { a.Uint32(uint32(v)) }

// Float32 appends v as an IEEE single.
func (a *Appender) Float32(v float64) { a.Uint32(math.Float32bits(float32(v))) }

// Uint16s appends each value.
func (a *Appender) Uint16s(vs []uint16) {
	for _, v := range vs {
		a.Uint16(v)
	}
}

// Float32s appends each value as an IEEE single.
func (a *Appender) Float32s(vs []float64) {
	for _, v := range vs {
		a.Float32(v)
	}
}
