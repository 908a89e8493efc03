// Package station wires matching and attendance into the capture flow of a
// single station: every face vector of a capture is resolved and each
// resolved identity is marked present once per day.
package station

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/rollcall/internal/ledger"
	"github.com/roach88/rollcall/internal/matcher"
	"github.com/roach88/rollcall/internal/metrics"
	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/store"
)

// Config holds the station's matching parameters.
type Config struct {
	Tolerance float64
	Workers   int
	ShardSize int
}

// Station performs enrollment and capture scans against one store.
type Station struct {
	store     *store.Store
	matcher   *matcher.Matcher
	ledger    *ledger.Ledger
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tolerance float64
	now       func() time.Time
}

// New creates a Station. m may be nil.
func New(s *store.Store, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Station {
	if logger == nil {
		logger = slog.Default()
	}
	return &Station{
		store: s,
		matcher: matcher.New(s, s.Dimension(), matcher.Options{
			Workers:   cfg.Workers,
			ShardSize: cfg.ShardSize,
			Logger:    logger,
		}),
		ledger:    ledger.New(s, logger),
		metrics:   m,
		logger:    logger,
		tolerance: cfg.Tolerance,
		now:       time.Now,
	}
}

// WithClock replaces the capture clock used when Scan gets a zero time.
func (st *Station) WithClock(now func() time.Time) *Station {
	st.now = now
	return st
}

// Enroll stores a new identity together with its embedding.
func (st *Station) Enroll(ctx context.Context, identity model.Identity) (model.Identity, error) {
	out, err := st.store.PutIdentity(ctx, identity)
	if err != nil {
		return model.Identity{}, err
	}
	st.logger.Info("enrolled", "identity_id", out.ID, "roll", out.Roll)
	return out, nil
}

// Match resolves a single vector without recording attendance.
func (st *Station) Match(ctx context.Context, vec model.Embedding) (matcher.Result, error) {
	start := time.Now()
	res, err := st.matcher.Match(ctx, vec, st.tolerance)
	if err != nil {
		return matcher.Result{}, err
	}
	st.metrics.ObserveMatchLatency(time.Since(start))
	st.metrics.ObserveMatch(res.Outcome.String())
	return res, nil
}

// ScanResult is the outcome for one face of a capture. Attendance is set
// only when the face matched.
type ScanResult struct {
	Face       int
	Match      matcher.Result
	Attendance *ledger.Result
}

// Scan resolves every vector of one capture taken at `at` (zero means now)
// and records attendance for each match. Several faces resolving to the same
// identity record it once.
//
// Cancelling ctx before a face is recorded leaves no trace of that face.
func (st *Station) Scan(ctx context.Context, faces []model.Embedding, at time.Time) ([]ScanResult, error) {
	if at.IsZero() {
		at = st.now()
	}

	start := time.Now()
	matches, err := st.matcher.MatchAll(ctx, faces, st.tolerance)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	st.metrics.ObserveMatchLatency(time.Since(start))

	results := make([]ScanResult, len(matches))
	for i, m := range matches {
		st.metrics.ObserveMatch(m.Outcome.String())
		results[i] = ScanResult{Face: i, Match: m}
		if !m.Matched() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := st.ledger.Record(ctx, m.Identity.ID, at)
		if err != nil {
			return nil, fmt.Errorf("scan: face %d: %w", i, err)
		}
		st.metrics.ObserveAttendance(rec.Status.String())
		results[i].Attendance = &rec
	}
	return results, nil
}

// Record marks an identity present directly, bypassing matching.
func (st *Station) Record(ctx context.Context, identityID int64, at time.Time) (ledger.Result, error) {
	if at.IsZero() {
		at = st.now()
	}
	rec, err := st.ledger.Record(ctx, identityID, at)
	if err != nil {
		return ledger.Result{}, err
	}
	st.metrics.ObserveAttendance(rec.Status.String())
	return rec, nil
}
