package tiles

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/banshee-data/nadc.report/internal/errs"
	"github.com/banshee-data/nadc.report/internal/timeutil"
)

// duplicateTolerance, in days, identifies a tile already inserted for a
// measurement by an earlier attempt.
const duplicateTolerance = 1e-3 / timeutil.SecPerDay

// Result counts the rows written by one Reconcile call.
type Result struct {
	Inserted int
	Updated  int
	// Associated counts new tile_sources rows.
	Associated int
	// Skipped counts inserts dropped because the tile already existed.
	Skipped int
	// Stale counts matched tiles left untouched because their stored
	// release is newer.
	Stale int
}

// Reconciler matches measurements against a Store.
type Reconciler struct {
	Store *Store
	// Tolerance in days; zero means the package Tolerance.
	Tolerance float64
	// NewID assigns tile ids; nil means random UUIDs.
	NewID func() string
}

// NewReconciler returns a Reconciler with the default tolerance.
func NewReconciler(s *Store) *Reconciler {
	return &Reconciler{Store: s, Tolerance: Tolerance}
}

func (r *Reconciler) tolerance() float64 {
	if r.Tolerance > 0 {
		return r.Tolerance
	}
	return Tolerance
}

func (r *Reconciler) newID() string {
	if r.NewID != nil {
		return r.NewID()
	}
	return uuid.NewString()
}

// Reconcile inserts measurements that match no persisted tile in
// [windowStart, windowEnd] and updates matched tiles whose stored release
// is not newer than release. Inserts and updates commit in separate
// transactions; a failure returns a *errs.SinkError naming the phase, and
// an earlier committed phase stays in place. Calling Reconcile again with
// the same input does not duplicate tiles or association rows.
func (r *Reconciler) Reconcile(ctx context.Context, ms []Measurement, windowStart, windowEnd float64, release Release) (Result, error) {
	var res Result
	if len(ms) == 0 {
		return res, nil
	}

	tiles, err := tilesInWindow(ctx, r.Store.db, windowStart, windowEnd, sourceIDs(ms))
	if err != nil {
		return res, &errs.SinkError{Phase: "query", Err: err}
	}
	d := Decide(BestMatches(tiles, ms, r.tolerance()), len(ms))
	logf("window [%.8f, %.8f]: %d tiles, %d measurements, %d inserts, %d matched",
		windowStart, windowEnd, len(tiles), len(ms), len(d.Inserts), len(d.Updates))

	if err := r.insertPhase(ctx, ms, d.Inserts, release, &res); err != nil {
		return res, &errs.SinkError{Phase: "insert", Err: err}
	}
	if err := r.updatePhase(ctx, tiles, ms, d.Updates, release, &res); err != nil {
		return res, &errs.SinkError{Phase: "update", Err: err}
	}
	logf("release %s: added %d, updated %d, associated %d, skipped %d, stale %d",
		release, res.Inserted, res.Updated, res.Associated, res.Skipped, res.Stale)
	return res, nil
}

func (r *Reconciler) insertPhase(ctx context.Context, ms []Measurement, inserts []int, release Release, res *Result) error {
	if len(inserts) == 0 {
		return nil
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		var inserted, associated, skipped int
		now := r.Store.now()
		for _, mi := range inserts {
			m := ms[mi]
			// A previous attempt may have committed this tile already.
			id, err := existingTile(ctx, tx, m)
			if err != nil {
				return err
			}
			if id != "" {
				skipped++
				continue
			}
			id = r.newID()
			if err := insertTile(ctx, tx, id, m, release, now); err != nil {
				return err
			}
			inserted++
			added, err := associate(ctx, tx, id, m.Product, release, now)
			if err != nil {
				return err
			}
			if added {
				associated++
			}
		}
		res.Inserted += inserted
		res.Associated += associated
		res.Skipped += skipped
		return nil
	})
}

func (r *Reconciler) updatePhase(ctx context.Context, tiles []Tile, ms []Measurement, updates []Update, release Release, res *Result) error {
	if len(updates) == 0 {
		return nil
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		var updated, associated, stale int
		now := r.Store.now()
		for _, u := range updates {
			t, m := tiles[u.Tile], ms[u.Measurement]
			changed, err := updateTile(ctx, tx, t.ID, m, release, now)
			if err != nil {
				return err
			}
			if changed {
				updated++
			} else {
				stale++
			}
			added, err := associate(ctx, tx, t.ID, m.Product, release, now)
			if err != nil {
				return err
			}
			if added {
				associated++
			}
		}
		res.Updated += updated
		res.Associated += associated
		res.Stale += stale
		return nil
	})
}

func (r *Reconciler) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.Store.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			logf("warning: failed to rollback transaction: %v", err)
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func sourceIDs(ms []Measurement) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range ms {
		if !seen[m.SourceID] {
			seen[m.SourceID] = true
			out = append(out, m.SourceID)
		}
	}
	sort.Strings(out)
	return out
}
