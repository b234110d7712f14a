// Package selector holds the bitmask used to request clusters, bands and streams.
//
// A Mask is a plain value: copying it copies the selection. Ids run from 0 to
// MaxID. Cluster numbers as they appear in a product are 1-based and map to
// bit id-1; Parse and the layout engine handle that translation.
package selector

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// MaxID is the largest id a Mask can hold.
const MaxID = 63

// Mask is a fixed-width selection over ids 0..MaxID.
type Mask uint64

// All returns a mask with every id selected.
func All() Mask { return Mask(^uint64(0)) }

// None returns an empty mask.
func None() Mask { return 0 }

// Of returns a mask with exactly the given ids selected.
func Of(ids ...uint) Mask {
	var m Mask
	m.SetOnly(ids...)
	return m
}

// IsSet reports whether id is selected. Out-of-range ids are never set.
func (m Mask) IsSet(id uint) bool {
	if !checkID(id) {
		return false
	}
	return m&(1<<id) != 0
}

// Set selects id.
func (m *Mask) Set(id uint) {
	if !checkID(id) {
		return
	}
	*m |= 1 << id
}

// Clear deselects id.
func (m *Mask) Clear(id uint) {
	if !checkID(id) {
		return
	}
	*m &^= 1 << id
}

// SetAll selects every id.
func (m *Mask) SetAll() { *m = All() }

// ClearAll deselects every id.
func (m *Mask) ClearAll() { *m = 0 }

// SetOnly replaces the selection with ids.
func (m *Mask) SetOnly(ids ...uint) {
	*m = 0
	for _, id := range ids {
		m.Set(id)
	}
}

// Count returns the number of selected ids.
func (m Mask) Count() int { return bits.OnesCount64(uint64(m)) }

// IsAll reports whether every id is selected.
func (m Mask) IsAll() bool { return m == All() }

// IDs returns the selected ids in ascending order.
func (m Mask) IDs() []uint {
	ids := make([]uint, 0, m.Count())
	v := uint64(m)
	for v != 0 {
		id := uint(bits.TrailingZeros64(v))
		ids = append(ids, id)
		v &^= 1 << id
	}
	return ids
}

// String renders the mask using 1-based cluster numbers, the inverse of Parse.
func (m Mask) String() string {
	switch {
	case m.IsAll():
		return "all"
	case m == 0:
		return "none"
	}
	var parts []string
	ids := m.IDs()
	for i := 0; i < len(ids); {
		j := i
		for j+1 < len(ids) && ids[j+1] == ids[j]+1 {
			j++
		}
		if j == i {
			parts = append(parts, strconv.Itoa(int(ids[i])+1))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", ids[i]+1, ids[j]+1))
		}
		i = j + 1
	}
	return strings.Join(parts, ",")
}

// FromBytes builds a mask from a per-id inclusion array where any non-zero
// entry marks the id as included. Entries beyond MaxID are ignored.
func FromBytes(flags []int8) Mask {
	var m Mask
	for i, f := range flags {
		if i > MaxID {
			break
		}
		if f != 0 {
			m |= 1 << uint(i)
		}
	}
	return m
}

// Parse reads a selection expression: "all", "none", or a comma separated
// list of 1-based numbers and inclusive ranges such as "1,3,5-9".
func Parse(expr string) (Mask, error) {
	expr = strings.TrimSpace(strings.ToLower(expr))
	switch expr {
	case "", "all":
		return All(), nil
	case "none":
		return None(), nil
	}

	var m Mask
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return 0, fmt.Errorf("selector: empty element in %q", expr)
		}
		lo, hi := part, part
		if i := strings.IndexByte(part, '-'); i >= 0 {
			lo, hi = part[:i], part[i+1:]
		}
		first, err := parseNumber(lo)
		if err != nil {
			return 0, err
		}
		last, err := parseNumber(hi)
		if err != nil {
			return 0, err
		}
		if last < first {
			return 0, fmt.Errorf("selector: descending range %q", part)
		}
		for n := first; n <= last; n++ {
			m |= 1 << (n - 1)
		}
	}
	return m, nil
}

func parseNumber(s string) (uint, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 8)
	if err != nil {
		return 0, fmt.Errorf("selector: invalid number %q: %w", s, err)
	}
	if n < 1 || n > MaxID+1 {
		return 0, fmt.Errorf("selector: number %d outside 1..%d", n, MaxID+1)
	}
	return uint(n), nil
}
