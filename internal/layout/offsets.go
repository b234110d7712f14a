package layout

import (
	"slices"
	"time"

	"github.com/banshee-data/nadc.report/internal/errs"
	"github.com/banshee-data/nadc.report/internal/monitoring"
	"github.com/banshee-data/nadc.report/internal/product"
	"github.com/banshee-data/nadc.report/internal/selector"
	"github.com/banshee-data/nadc.report/internal/timeutil"
)

var logf = monitoring.Scoped("layout")

// Status classifies an offset-table entry.
type Status int

const (
	// Selected entries are on disk and pass the content filter.
	Selected Status = iota
	// Filtered entries are on disk but rejected by the content filter.
	Filtered
	// Absent entries have no data on disk; the cursor did not move.
	Absent
)

func (s Status) String() string {
	switch s {
	case Selected:
		return "selected"
	case Filtered:
		return "filtered"
	case Absent:
		return "absent"
	}
	return "unknown"
}

// Filter is the caller's content filter. Zero bounds and an empty category
// list accept everything.
type Filter struct {
	Start      time.Time
	Stop       time.Time
	Categories []uint16
}

// Matches reports whether the state passes the filter.
func (f Filter) Matches(s StateDescriptor) bool {
	t := timeutil.TimeFromJulianDay(s.JulianDay())
	if !f.Start.IsZero() && t.Before(f.Start) {
		return false
	}
	if !f.Stop.IsZero() && t.After(f.Stop) {
		return false
	}
	if len(f.Categories) > 0 && !slices.Contains(f.Categories, s.Category) {
		return false
	}
	return true
}

// ClusterSpan locates one cluster record inside a level-1c entry.
type ClusterSpan struct {
	Index        int // position in the state's cluster list
	ID           uint8
	Offset       int64
	Length       int64
	Pixels       int
	Observations int
	Selected     bool
}

// Entry is the location of one state's data within a stream.
type Entry struct {
	Index    int
	State    *StateDescriptor
	Offset   int64
	Length   int64
	Count    int // records in the entry
	Status   Status
	Clusters []ClusterSpan
}

// OffsetTable lists the entries of one stream in state order.
type OffsetTable struct {
	Kind    StreamKind
	Level   Level
	Base    int64
	Size    int64
	Entries []Entry
}

// TotalLength sums the lengths of every entry that has data on disk.
func (t *OffsetTable) TotalLength() int64 {
	var n int64
	for _, e := range t.Entries {
		if e.Status != Absent {
			n += e.Length
		}
	}
	return n
}

// Selected returns the entries that should be decoded.
func (t *OffsetTable) Selected() []Entry {
	var out []Entry
	for _, e := range t.Entries {
		if e.Status == Selected {
			out = append(out, e)
		}
	}
	return out
}

// ComputeOffsets walks the states of one stream with an independent cursor
// and returns where each state's data lives.
//
// The cursor only advances over data the product writer actually emitted:
// the size of a level-1c state is simulated with the writer's inclusion mask
// from opts (all clusters when opts is nil), never with sel. sel only marks
// which clusters are to be decoded. An entry whose on-disk timestamp does not
// match the state is Absent and does not move the cursor.
func ComputeOffsets(p *product.Product, kind StreamKind, states []StateDescriptor, sel selector.Mask, opts *CalOptions, filter Filter) (*OffsetTable, error) {
	level := LevelOf(p.MPH.Product)
	table := &OffsetTable{Kind: kind, Level: level}

	dsd, ok := p.DSD(kind.String())
	if !ok || dsd.NumDSR == 0 {
		logf("stream %s not in product", kind)
		return table, nil
	}
	if !opts.StreamPresent(kind) {
		logf("stream %s disabled by calibration options", kind)
		return table, nil
	}
	table.Base, table.Size = dsd.Offset, dsd.Size

	cursor := dsd.Offset
	limit := dsd.Offset + dsd.Size
	writerMask := opts.WriterMask(kind)
	stamp := make([]byte, MJDSize)

	for i := range states {
		s := &states[i]
		if s.Kind != kind {
			continue
		}
		entry := Entry{Index: s.Index, State: s, Offset: cursor, Status: Absent}

		// Phase 1: is the state's data at the cursor?
		present := s.Attached && opts.AdmitsTime(*s) && cursor < limit
		if present {
			if err := p.ReadAt(stamp, cursor, kind.String()); err != nil {
				return nil, err
			}
			disk, err := p.Codec().Decode(stamp, MJDLayout)
			if err != nil {
				return nil, err
			}
			present = MJDFromRecord(disk) == s.Time
		}
		if !present {
			entry.Offset = 0
			table.Entries = append(table.Entries, entry)
			continue
		}

		// Phase 2: size the entry and advance.
		switch {
		case dsd.DSRSize > 0:
			entry.Count = int(s.NumDSR)
			entry.Length = int64(s.NumDSR) * dsd.DSRSize
		case level == Level1c:
			entry.Clusters = clusterSpans(kind, s, cursor, writerMask, sel)
			entry.Count = len(entry.Clusters)
			for _, c := range entry.Clusters {
				entry.Length += c.Length
			}
		default:
			entry.Count = int(s.NumDSR)
			entry.Length = int64(s.NumDSR) * int64(s.LengthDSR)
		}
		if cursor+entry.Length > limit {
			return nil, errs.Formatf(kind.String(), cursor, "state %d needs %d bytes, %d left in data set", s.Index, entry.Length, limit-cursor)
		}
		cursor += entry.Length

		// Phase 3: classify.
		if filter.Matches(*s) {
			entry.Status = Selected
		} else {
			entry.Status = Filtered
		}
		table.Entries = append(table.Entries, entry)
	}

	if cursor != limit {
		logf("warning: stream %s: %d trailing bytes not covered by any state", kind, limit-cursor)
	}
	return table, nil
}

func clusterSpans(kind StreamKind, s *StateDescriptor, start int64, writerMask, sel selector.Mask) []ClusterSpan {
	var spans []ClusterSpan
	off := start
	for i, c := range s.Clusters {
		if !writerMask.IsSet(uint(i)) {
			continue
		}
		obs := int(s.NumDSR) * int(c.ReadoutCount)
		pix := int(c.PixelCount)
		n := kind.ClusterRecordSize(pix, obs)
		spans = append(spans, ClusterSpan{
			Index:        i,
			ID:           c.ID,
			Offset:       off,
			Length:       n,
			Pixels:       pix,
			Observations: obs,
			Selected:     c.ID > 0 && sel.IsSet(uint(c.ID)-1),
		})
		off += n
	}
	return spans
}
