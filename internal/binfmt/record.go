package binfmt

// Record is a decoded record keyed by field name.
//
// Scalar values are int64 (signed Int), uint64 (unsigned Int), float64,
// string, Record (Nested and Bitfield). Arrays use the matching slice type:
// []int64, []uint64, []float64, []string, []Record.
type Record map[string]any

// Uint returns an integer field as uint64, or 0 when missing.
func (r Record) Uint(name string) uint64 {
	v, _ := toUint64(r[name])
	return v
}

// Int returns an integer field as int64, or 0 when missing.
func (r Record) Int(name string) int64 {
	switch v := r[name].(type) {
	case int64:
		return v
	case uint64:
		return int64(v)
	}
	return 0
}

// Float returns a float field, or 0 when missing.
func (r Record) Float(name string) float64 {
	switch v := r[name].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	}
	return 0
}

// String returns a string field, or "" when missing.
func (r Record) String(name string) string {
	s, _ := r[name].(string)
	return s
}

// Sub returns a nested record or unpacked bitfield.
func (r Record) Sub(name string) Record {
	s, _ := r[name].(Record)
	return s
}

// Subs returns an array of nested records.
func (r Record) Subs(name string) []Record {
	s, _ := r[name].([]Record)
	return s
}

// Floats returns a float array field.
func (r Record) Floats(name string) []float64 {
	s, _ := r[name].([]float64)
	return s
}

// Uints returns an unsigned array field.
func (r Record) Uints(name string) []uint64 {
	s, _ := r[name].([]uint64)
	return s
}

// Ints returns a signed array field.
func (r Record) Ints(name string) []int64 {
	s, _ := r[name].([]int64)
	return s
}

func toUint64(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint64:
		return x, true
	case int64:
		return uint64(x), true
	case int:
		return uint64(x), true
	case uint:
		return uint64(x), true
	case uint32:
		return uint64(x), true
	case int32:
		return uint64(x), true
	case uint16:
		return uint64(x), true
	case int16:
		return uint64(x), true
	case uint8:
		return uint64(x), true
	case int8:
		return uint64(x), true
	}
	return 0, false
}

// fitsWidth reports whether the integer v is representable in w bytes.
func fitsWidth(v any, w int, signed bool) bool {
	if w >= 8 {
		return true
	}
	bits := uint(8 * w)
	u, _ := toUint64(v)
	switch v.(type) {
	case uint64, uint, uint32, uint16, uint8:
		if signed {
			return u < 1<<(bits-1)
		}
		return u < 1<<bits
	}
	n := int64(u)
	if signed {
		return n >= -(1<<(bits-1)) && n < 1<<(bits-1)
	}
	return n >= 0 && n < 1<<bits
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	return 0, false
}
