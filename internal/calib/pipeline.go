// Package calib applies the ordered, flag-gated calibration stages to the
// detector records of one cluster at a time.
package calib

import (
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/nadc.report/internal/errs"
	"github.com/banshee-data/nadc.report/internal/layout"
	"github.com/banshee-data/nadc.report/internal/mds"
	"github.com/banshee-data/nadc.report/internal/monitoring"
)

var logf = monitoring.Scoped("calib")

// Batch is the records of one cluster within one state. Stages modify the
// records' values and errors in place.
type Batch struct {
	Stream     layout.StreamKind
	StateIndex int
	ClusterID  uint8
	Channel    uint8
	Records    []mds.DetectorRecord
	// Polarization holds one entry per record. Records without an entry
	// have no valid polarisation samples.
	Polarization []PolValues
}

func (b *Batch) pol(i int) PolValues {
	if i < len(b.Polarization) {
		return b.Polarization[i]
	}
	return PolValues{}
}

// GroupBatches splits records into per-cluster batches, ordered by first
// appearance.
func GroupBatches(records []mds.DetectorRecord) []*Batch {
	type key struct {
		stream  layout.StreamKind
		state   int
		cluster uint8
	}
	index := map[key]*Batch{}
	var out []*Batch
	for _, rec := range records {
		k := key{rec.Stream, rec.StateIndex, rec.ClusterID}
		b, ok := index[k]
		if !ok {
			b = &Batch{Stream: rec.Stream, StateIndex: rec.StateIndex, ClusterID: rec.ClusterID, Channel: rec.Channel}
			index[k] = b
			out = append(out, b)
		}
		b.Records = append(b.Records, rec)
	}
	return out
}

// ClusterResult reports the outcome for one batch.
type ClusterResult struct {
	Stream     layout.StreamKind
	StateIndex int
	ClusterID  uint8
	Channel    uint8
	Records    int
	Applied    Flags
	Warnings   []error
	// Err is set when a stage aborted the cluster.
	Err error
}

// Run applies the stages selected by flags to b. A stage error aborts the
// cluster; stages already applied are not undone.
func Run(b *Batch, c *Context, flags Flags) ClusterResult {
	res := ClusterResult{
		Stream:     b.Stream,
		StateIndex: b.StateIndex,
		ClusterID:  b.ClusterID,
		Channel:    b.Channel,
		Records:    len(b.Records),
	}
	if c == nil {
		c = &Context{}
	}
	r := &run{batch: b, ctx: c, tables: c.Channel(b.Channel)}
	for _, s := range stages {
		if !flags.Has(s.flag) {
			continue
		}
		r.stage = s.name
		if err := s.fn(r); err != nil {
			res.Err = fmt.Errorf("cluster %d: %w", b.ClusterID, err)
			break
		}
		r.sanitize()
		res.Applied |= s.flag
	}
	res.Warnings = r.warnings
	return res
}

// Summary aggregates the results of RunAll.
type Summary struct {
	Results        []ClusterResult
	Clusters       int
	FailedClusters int
	Records        int
	Warnings       int
	Elapsed        time.Duration
}

// Pipeline runs batches against a shared read-only context.
type Pipeline struct {
	Context *Context
	Flags   Flags
	// Workers bounds the number of clusters calibrated concurrently.
	// Values below 1 mean 1.
	Workers int
	// Report, if set, receives cluster failures and numeric warnings.
	Report *errs.Report
}

// Run calibrates a single batch.
func (p *Pipeline) Run(b *Batch) ClusterResult {
	return Run(b, p.Context, p.Flags)
}

// RunAll calibrates every batch. A failing cluster is counted and the
// remaining clusters continue.
func (p *Pipeline) RunAll(batches []*Batch) Summary {
	start := time.Now()
	results := make([]ClusterResult, len(batches))

	var g errgroup.Group
	g.SetLimit(max(p.Workers, 1))
	for i, b := range batches {
		g.Go(func() error {
			results[i] = p.Run(b)
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Results: results, Clusters: len(results)}
	for _, res := range results {
		sum.Records += res.Records
		sum.Warnings += len(res.Warnings)
		scope := fmt.Sprintf("calib %s state %d", res.Stream, res.StateIndex)
		if res.Err != nil {
			sum.FailedClusters++
			logf("error: %s: %v", scope, res.Err)
			if p.Report != nil {
				p.Report.Add(scope, res.Err)
			}
		}
		if p.Report != nil {
			for _, w := range res.Warnings {
				p.Report.Add(scope, w)
			}
		}
	}
	sum.Elapsed = time.Since(start)
	logf("calibrated %d clusters (%d failed, %d warnings) with flags %s in %v",
		sum.Clusters, sum.FailedClusters, sum.Warnings, p.Flags, sum.Elapsed)
	return sum
}
