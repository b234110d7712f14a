package layout

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/banshee-data/nadc.report/internal/binfmt"
	"github.com/banshee-data/nadc.report/internal/product"
	"github.com/banshee-data/nadc.report/internal/selector"
)

// Cache memoises offset tables per product. The key digests the stream,
// the selector, the encoded calibration options and the filter, so any
// change to those computes a fresh table.
type Cache struct {
	mu      sync.Mutex
	tables  map[uint64]*OffsetTable
	hits    int
	misses  int
	product *product.Product
}

// NewCache returns an empty cache bound to p.
func NewCache(p *product.Product) *Cache {
	return &Cache{tables: make(map[uint64]*OffsetTable), product: p}
}

// Offsets returns the cached table or computes it with ComputeOffsets.
func (c *Cache) Offsets(kind StreamKind, states []StateDescriptor, sel selector.Mask, opts *CalOptions, filter Filter) (*OffsetTable, error) {
	key := cacheKey(kind, sel, opts, filter)

	c.mu.Lock()
	if t, ok := c.tables[key]; ok {
		c.hits++
		c.mu.Unlock()
		return t, nil
	}
	c.mu.Unlock()

	t, err := ComputeOffsets(c.product, kind, states, sel, opts, filter)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.misses++
	c.tables[key] = t
	c.mu.Unlock()
	return t, nil
}

// Stats returns the hit and miss counts.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func cacheKey(kind StreamKind, sel selector.Mask, opts *CalOptions, filter Filter) uint64 {
	d := xxhash.New()
	var buf [8]byte

	buf[0] = byte(kind)
	_, _ = d.Write(buf[:1])

	binary.LittleEndian.PutUint64(buf[:], uint64(sel))
	_, _ = d.Write(buf[:])

	// Options built in memory are hashed through their encoding.
	raw := opts.Bytes()
	if raw == nil && opts != nil {
		raw, _ = opts.Encode(binfmt.NewCodec(binfmt.BigEndian))
	}
	if raw == nil {
		_, _ = d.Write([]byte{0})
	} else {
		_, _ = d.Write([]byte{1})
		_, _ = d.Write(raw)
	}

	for _, t := range []int64{unixNano(filter.Start), unixNano(filter.Stop)} {
		binary.LittleEndian.PutUint64(buf[:], uint64(t))
		_, _ = d.Write(buf[:])
	}
	for _, cat := range filter.Categories {
		binary.LittleEndian.PutUint16(buf[:2], cat)
		_, _ = d.Write(buf[:2])
	}
	return d.Sum64()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
