// Package sink delivers calibrated clusters to their destinations: PNG
// spectra, an HTML chart page and the tile store.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/nadc.report/internal/calib"
	"github.com/banshee-data/nadc.report/internal/layout"
	"github.com/banshee-data/nadc.report/internal/mds"
	"github.com/banshee-data/nadc.report/internal/monitoring"
)

var logf = monitoring.Scoped("sink")

// ClusterOutput is one calibrated cluster of one state.
type ClusterOutput struct {
	Product    string
	Stream     layout.StreamKind
	StateIndex int
	ClusterID  uint8
	Channel    uint8
	Records    []mds.DetectorRecord
	Result     calib.ClusterResult
}

// Name identifies the cluster in file names and legends.
func (o ClusterOutput) Name() string {
	return fmt.Sprintf("%s_state%03d_cluster%02d", o.Stream, o.StateIndex, o.ClusterID)
}

// FromBatch wraps a calibrated batch.
func FromBatch(product string, b *calib.Batch, res calib.ClusterResult) ClusterOutput {
	return ClusterOutput{
		Product:    product,
		Stream:     b.Stream,
		StateIndex: b.StateIndex,
		ClusterID:  b.ClusterID,
		Channel:    b.Channel,
		Records:    b.Records,
		Result:     res,
	}
}

// Sink receives calibrated clusters. Close flushes buffered output.
type Sink interface {
	WriteCluster(ctx context.Context, out ClusterOutput) error
	Close() error
}

// Multi writes every cluster to each sink in turn. A failing sink does not
// stop the others; the errors are joined.
type Multi []Sink

func (m Multi) WriteCluster(ctx context.Context, out ClusterOutput) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteCluster(ctx, out); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// meanSpectrum averages the values of every record pixel by pixel. Records
// with a different pixel count than the first are skipped.
func meanSpectrum(recs []mds.DetectorRecord) (wavelength, mean []float64) {
	if len(recs) == 0 {
		return nil, nil
	}
	n := len(recs[0].Values)
	mean = make([]float64, n)
	used := 0
	for _, r := range recs {
		if len(r.Values) != n {
			continue
		}
		for p, v := range r.Values {
			mean[p] += v
		}
		used++
	}
	for p := range mean {
		mean[p] /= float64(used)
	}
	return recs[0].Wavelength, mean
}
