// Package binfmt decodes fixed binary records described by declarative field
// layouts.
//
// A Layout lists its fields in on-disk order. Multi-byte scalars are read in
// the product's declared byte order and swapped explicitly when the host
// differs. Packed bit sub-fields are unpacked with shift/mask tables built
// from the layout's BitOrder, never by overlaying native structs.
package binfmt

import (
	"fmt"
)

// Kind is the decoded type of a field.
type Kind int

const (
	Int Kind = iota
	Float
	Bitfield
	Nested
	String
)

func (k Kind) String() string {
	switch k {
	case Int:
		return "int"
	case Float:
		return "float"
	case Bitfield:
		return "bitfield"
	case Nested:
		return "record"
	case String:
		return "string"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// BitOrder selects where the first declared bit sub-field lives in its container.
type BitOrder int

const (
	// MSBFirst packs the first sub-field into the most significant bits.
	MSBFirst BitOrder = iota
	// LSBFirst packs the first sub-field into the least significant bits.
	LSBFirst
)

// BitField is one named sub-field of a Bitfield container.
type BitField struct {
	Name string
	Bits int
}

// Field describes one entry of a Layout.
//
// Width is the element size in bytes: 1, 2, 4 or 8 for Int and Bitfield
// containers, 4 or 8 for Float, the fixed length for String. Nested fields
// take their size from Layout. A Count above 1 makes the field an array.
type Field struct {
	Name   string
	Kind   Kind
	Width  int
	Count  int
	Signed bool
	Bits   []BitField
	Layout *Layout
}

func (f Field) count() int {
	if f.Count < 1 {
		return 1
	}
	return f.Count
}

func (f Field) elemSize() int {
	if f.Kind == Nested {
		return f.Layout.Size()
	}
	return f.Width
}

// Size returns the number of bytes the field occupies.
func (f Field) Size() int { return f.elemSize() * f.count() }

// Layout is an ordered field list. BitOrder applies to every Bitfield in it.
type Layout struct {
	Name     string
	Fields   []Field
	BitOrder BitOrder
}

// Size returns the encoded size of one record.
func (l *Layout) Size() int {
	n := 0
	for _, f := range l.Fields {
		n += f.Size()
	}
	return n
}

// Validate checks the layout for duplicate names and impossible widths.
func (l *Layout) Validate() error {
	seen := make(map[string]struct{}, len(l.Fields))
	for _, f := range l.Fields {
		if f.Name == "" {
			return fmt.Errorf("layout %s: field without name", l.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("layout %s: duplicate field %q", l.Name, f.Name)
		}
		seen[f.Name] = struct{}{}
		if f.Count < 0 {
			return fmt.Errorf("layout %s: field %s: negative count", l.Name, f.Name)
		}

		switch f.Kind {
		case Int:
			if !validIntWidth(f.Width) {
				return fmt.Errorf("layout %s: field %s: int width %d", l.Name, f.Name, f.Width)
			}
		case Float:
			if f.Width != 4 && f.Width != 8 {
				return fmt.Errorf("layout %s: field %s: float width %d", l.Name, f.Name, f.Width)
			}
		case Bitfield:
			if !validIntWidth(f.Width) {
				return fmt.Errorf("layout %s: field %s: bitfield width %d", l.Name, f.Name, f.Width)
			}
			if _, err := newBitTable(f, l.BitOrder); err != nil {
				return fmt.Errorf("layout %s: %w", l.Name, err)
			}
		case String:
			if f.Width < 1 {
				return fmt.Errorf("layout %s: field %s: string width %d", l.Name, f.Name, f.Width)
			}
		case Nested:
			if f.Layout == nil {
				return fmt.Errorf("layout %s: field %s: nested layout missing", l.Name, f.Name)
			}
			if err := f.Layout.Validate(); err != nil {
				return fmt.Errorf("layout %s: field %s: %w", l.Name, f.Name, err)
			}
		default:
			return fmt.Errorf("layout %s: field %s: unknown kind %v", l.Name, f.Name, f.Kind)
		}
	}
	return nil
}

func validIntWidth(w int) bool { return w == 1 || w == 2 || w == 4 || w == 8 }

// bitTable holds the shift and mask of every sub-field of one container.
type bitTable struct {
	names  []string
	shifts []uint
	masks  []uint64
}

func newBitTable(f Field, order BitOrder) (bitTable, error) {
	total := 8 * f.Width
	t := bitTable{
		names:  make([]string, len(f.Bits)),
		shifts: make([]uint, len(f.Bits)),
		masks:  make([]uint64, len(f.Bits)),
	}
	used := 0
	for i, bf := range f.Bits {
		if bf.Bits < 1 {
			return bitTable{}, fmt.Errorf("bitfield %s.%s: width %d", f.Name, bf.Name, bf.Bits)
		}
		if used+bf.Bits > total {
			return bitTable{}, fmt.Errorf("bitfield %s: sub-fields need more than %d bits", f.Name, total)
		}
		t.names[i] = bf.Name
		if order == MSBFirst {
			t.shifts[i] = uint(total - used - bf.Bits)
		} else {
			t.shifts[i] = uint(used)
		}
		if bf.Bits == 64 {
			t.masks[i] = ^uint64(0)
		} else {
			t.masks[i] = (uint64(1) << uint(bf.Bits)) - 1
		}
		used += bf.Bits
	}
	return t, nil
}

func (t bitTable) unpack(v uint64) Record {
	r := make(Record, len(t.names))
	for i, name := range t.names {
		r[name] = (v >> t.shifts[i]) & t.masks[i]
	}
	return r
}

func (t bitTable) pack(r Record) (uint64, error) {
	var v uint64
	for i, name := range t.names {
		sub, ok := toUint64(r[name])
		if !ok {
			return 0, fmt.Errorf("bit sub-field %s: unsupported value %T", name, r[name])
		}
		if sub&^t.masks[i] != 0 {
			return 0, fmt.Errorf("bit sub-field %s: value %d does not fit", name, sub)
		}
		v |= sub << t.shifts[i]
	}
	return v, nil
}
