// Package reindex renumbers identities densely and carries the new ids
// through to attendance links.
package reindex

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/store"
)

// Plan is a renumbering of identity ids.
type Plan struct {
	// Mapping holds every current id and its new id.
	Mapping map[int64]int64
	// Moves counts entries whose id changes.
	Moves int
	// Next is the highest new id, which becomes the sequence counter.
	Next int64
}

// NewPlan maps ids (ascending) onto 1..N preserving order.
func NewPlan(ids []int64) Plan {
	p := Plan{Mapping: make(map[int64]int64, len(ids))}
	for i, id := range ids {
		newID := int64(i + 1)
		p.Mapping[id] = newID
		if id != newID {
			p.Moves++
		}
	}
	p.Next = int64(len(ids))
	return p
}

// Report describes a finished reindex.
type Report struct {
	Identities int             `json:"identities"`
	Moves      int             `json:"moves"`
	Changed    bool            `json:"changed"`
	Mapping    map[int64]int64 `json:"mapping,omitempty"`
}

// Reindexer renumbers identities of a Store.
type Reindexer struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates a Reindexer.
func New(s *store.Store, logger *slog.Logger) *Reindexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reindexer{store: s, logger: logger}
}

// ReassignIDs renumbers identities to 1..N in current id order, rewrites
// attendance links through the same mapping and resets the id sequence to
// N, all in one transaction. Already dense ids leave the store untouched.
//
// Any failure returns model.ErrReindexFailure with no change visible.
func (r *Reindexer) ReassignIDs(ctx context.Context) (Report, error) {
	var report Report
	err := r.store.RunInTx(ctx, func(tx *store.Tx) error {
		ids, err := tx.IdentityIDs(ctx)
		if err != nil {
			return err
		}
		plan := NewPlan(ids)
		report = Report{Identities: len(ids), Moves: plan.Moves}

		if plan.Moves == 0 {
			// Ids are dense; only realign the counter left by deletions.
			return tx.ResetIdentitySequence(ctx, plan.Next)
		}

		if err := tx.RemapIdentities(ctx, plan.Mapping); err != nil {
			return err
		}
		if err := tx.ResetIdentitySequence(ctx, plan.Next); err != nil {
			return err
		}
		report.Changed = true
		report.Mapping = plan.Mapping
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("%w: %w", model.ErrReindexFailure, err)
	}

	r.logger.Info("reindex",
		"identities", report.Identities,
		"moves", report.Moves,
		"changed", report.Changed)
	return report, nil
}
