package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/roach88/rollcall/internal/ledger"
	"github.com/roach88/rollcall/internal/matcher"
	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/reconcile"
	"github.com/roach88/rollcall/internal/reindex"
	"github.com/roach88/rollcall/internal/station"
	"github.com/roach88/rollcall/internal/store"
	"github.com/roach88/rollcall/internal/testutil"
)

const (
	targetStation   = "station"
	targetAuthority = "authority"

	defaultTolerance = 0.6
	clockStep        = time.Second
)

// TraceEvent is the observable outcome of one step.
type TraceEvent struct {
	Seq    int            `json:"seq"`
	Op     string         `json:"op"`
	Target string         `json:"target"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// node is one store with the services that operate on it.
type node struct {
	store     *store.Store
	station   *station.Station
	importer  *reconcile.Importer
	reindexer *reindex.Reindexer
}

// Harness runs one scenario against a station and an authority, each with
// its own SQLite file, linked by an in-process authority.
type Harness struct {
	station     *node
	authority   *node
	coordinator *reconcile.Coordinator
	clock       *testutil.StepClock
	logger      *slog.Logger
}

// Run executes a scenario with fresh stores under dir and returns the
// result. Expectation and assertion failures are reported in the result;
// the error is reserved for failures to set the scenario up.
func Run(ctx context.Context, scenario *Scenario, dir string) (*Result, error) {
	start, err := parseTime(scenario.Clock)
	if err != nil {
		return nil, fmt.Errorf("clock: %w", err)
	}
	tolerance := scenario.Tolerance
	if tolerance == 0 {
		tolerance = defaultTolerance
	}

	h := &Harness{
		clock:  testutil.NewStepClock(start, clockStep),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	ids := testutil.NewSequenceIDs("batch")

	h.station, err = h.openNode(filepath.Join(dir, "station.db"), scenario.Dimension, tolerance, ids)
	if err != nil {
		return nil, err
	}
	defer h.station.store.Close()

	h.authority, err = h.openNode(filepath.Join(dir, "authority.db"), scenario.Dimension, tolerance, ids)
	if err != nil {
		return nil, err
	}
	defer h.authority.store.Close()

	h.coordinator, err = reconcile.NewCoordinator(h.station.store,
		reconcile.LocalAuthority{Importer: h.authority.importer},
		reconcile.WithLogger(h.logger),
		reconcile.WithIDGenerator(ids),
		reconcile.WithClock(h.clock.Now),
		reconcile.WithStation(scenario.Name),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step, result)
	}
	for i, a := range scenario.Assertions {
		if err := h.evaluate(ctx, a); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d] (%s): %v", i, a.Type, err))
		}
	}
	return result, nil
}

func (h *Harness) openNode(path string, dim int, tolerance float64, ids reconcile.IDGenerator) (*node, error) {
	s, err := store.Open(path, store.Options{
		Dimension: dim,
		Location:  time.UTC,
		Now:       h.clock.Current,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", filepath.Base(path), err)
	}

	importer, err := reconcile.NewImporter(s,
		reconcile.WithLogger(h.logger),
		reconcile.WithIDGenerator(ids),
		reconcile.WithClock(h.clock.Now),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create importer: %w", err)
	}

	st := station.New(s, station.Config{Tolerance: tolerance, Workers: 2}, nil, h.logger).WithClock(h.clock.Now)
	return &node{
		store:     s,
		station:   st,
		importer:  importer,
		reindexer: reindex.New(s, h.logger),
	}, nil
}

func (h *Harness) node(target string) *node {
	if target == targetAuthority {
		return h.authority
	}
	return h.station
}

func targetName(target string) string {
	if target == "" {
		return targetStation
	}
	return target
}

// executeStep runs one step, appends its trace event and checks its
// expectation.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) {
	event := TraceEvent{Seq: index + 1, Op: step.Op, Target: targetName(step.Target)}

	res, err := h.apply(ctx, h.node(step.Target), step)
	if err != nil {
		event.Error = ErrorName(err)
	} else {
		event.Result = res
	}
	result.Trace = append(result.Trace, event)

	for _, msg := range checkExpect(step, res, err) {
		result.AddError(fmt.Sprintf("steps[%d] (%s): %s", index, step.Op, msg))
	}
}

func (h *Harness) apply(ctx context.Context, n *node, step Step) (map[string]any, error) {
	switch step.Op {
	case OpEnroll:
		spec := step.Identity
		identity, err := n.station.Enroll(ctx, model.Identity{
			ID:        spec.ID,
			Roll:      spec.Roll,
			Name:      orDefault(spec.Name, "Student "+spec.Roll),
			Class:     spec.Class,
			Section:   spec.Section,
			Embedding: model.Embedding(spec.Embedding),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"identity": identity.ID}, nil

	case OpMatch:
		m, err := n.station.Match(ctx, model.Embedding(step.Embedding))
		if err != nil {
			return nil, err
		}
		out := map[string]any{"outcome": m.Outcome.String()}
		if m.Matched() {
			out["identity"] = m.Identity.ID
		}
		if m.Outcome != matcher.OutcomeNoEnrollment {
			out["distance"] = fmt.Sprintf("%.4f", m.Distance)
		}
		return out, nil

	case OpScan:
		at, err := h.stepTime(step)
		if err != nil {
			return nil, err
		}
		faces := make([]model.Embedding, len(step.Faces))
		for i, f := range step.Faces {
			faces[i] = model.Embedding(f)
		}
		results, err := n.station.Scan(ctx, faces, at)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(results))
		for i, r := range results {
			face := map[string]any{"outcome": r.Match.Outcome.String()}
			if r.Match.Matched() {
				face["identity"] = r.Match.Identity.ID
			}
			if r.Attendance != nil {
				face["status"] = r.Attendance.Status.String()
			}
			out[i] = face
		}
		return map[string]any{"faces": out}, nil

	case OpRecord:
		at, err := h.stepTime(step)
		if err != nil {
			return nil, err
		}
		rec, err := n.station.Record(ctx, step.ID, at)
		if err != nil {
			return nil, err
		}
		return recordResult(rec), nil

	case OpReindex:
		report, err := n.reindexer.ReassignIDs(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"identities": report.Identities, "moves": report.Moves}, nil

	case OpPush:
		report, err := h.coordinator.PushPending(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"batch_id":    report.BatchID,
			"enrollments": report.Enrollments,
			"entries":     report.Entries,
		}, nil

	case OpImport:
		ack, err := n.importer.ImportBatch(ctx, model.Batch{Station: "import", Entries: step.Entries})
		if err != nil {
			return nil, err
		}
		return map[string]any{"batch_id": ack.BatchID, "applied": ack.Applied}, nil
	}
	return nil, fmt.Errorf("unknown op %q", step.Op)
}

func recordResult(rec ledger.Result) map[string]any {
	return map[string]any{
		"status":        rec.Status.String(),
		"attendance_id": rec.Record.ID,
		"day":           rec.Record.Day,
	}
}

func (h *Harness) stepTime(step Step) (time.Time, error) {
	if step.At == "" {
		return h.clock.Now(), nil
	}
	return parseTime(step.At)
}

func parseTime(s string) (time.Time, error) {
	return model.ParseTimestamp(s, time.UTC)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// ErrorName maps an error to the snake_case name of the sentinel it wraps.
// Operation-level failures (reindex, sync batch) win over their causes.
func ErrorName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, model.ErrReindexFailure):
		return "reindex_failure"
	case errors.Is(err, model.ErrSyncBatchFailure):
		return "sync_batch_failure"
	case errors.Is(err, model.ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, model.ErrInvalidEmbedding):
		return "invalid_embedding"
	case errors.Is(err, model.ErrInvalidTolerance):
		return "invalid_tolerance"
	case errors.Is(err, model.ErrInvalidRecord):
		return "invalid_record"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrConflict):
		return "conflict"
	case errors.Is(err, model.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
