package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/store"
)

// PushReport describes one push attempt. A zero BatchID means there was
// nothing pending and nothing was sent.
type PushReport struct {
	BatchID     string           `json:"batch_id,omitempty"`
	Enrollments int              `json:"enrollments"`
	Entries     int              `json:"entries"`
	Digest      string           `json:"digest,omitempty"`
	Audit       model.AuditEntry `json:"audit"`
}

// Records is the number of records the batch carried.
func (r PushReport) Records() int {
	return r.Enrollments + r.Entries
}

// Coordinator pushes a station's pending rows to the authority.
type Coordinator struct {
	settings
	store     *store.Store
	authority Authority

	// One batch in flight at a time; a second push would resend the same
	// snapshot.
	mu sync.Mutex
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(s *store.Store, authority Authority, opts ...Option) (*Coordinator, error) {
	if s == nil {
		return nil, errors.New("store is required")
	}
	if authority == nil {
		return nil, errors.New("authority is required")
	}
	c := &Coordinator{settings: defaultSettings(), store: s, authority: authority}
	for _, opt := range opts {
		opt(&c.settings)
	}
	return c, nil
}

// snapshot is the set of pending rows selected for one batch.
type snapshot struct {
	batch         model.Batch
	identities    []store.SentIdentity
	attendanceIDs []int64
}

func (c *Coordinator) takeSnapshot(ctx context.Context) (snapshot, error) {
	var snap snapshot
	err := c.store.RunInTx(ctx, func(tx *store.Tx) error {
		snap = snapshot{}

		identities, err := tx.PendingIdentities(ctx)
		if err != nil {
			return err
		}
		for _, id := range identities {
			snap.batch.Enrollments = append(snap.batch.Enrollments, model.Enrollment{
				Roll:      id.Roll,
				Name:      id.Name,
				Class:     id.Class,
				Section:   id.Section,
				Embedding: id.Embedding,
			})
			snap.identities = append(snap.identities, store.SentIdentity{RowKey: id.RowKey, Roll: id.Roll})
		}

		pending, err := tx.PendingAttendance(ctx)
		if err != nil {
			return err
		}
		for _, p := range pending {
			snap.batch.Entries = append(snap.batch.Entries, p.Entry)
			snap.attendanceIDs = append(snap.attendanceIDs, p.Record.ID)
		}
		return nil
	})
	return snap, err
}

// PushPending sends every pending identity and attendance record to the
// authority as one batch.
//
// On acknowledgement exactly the sent rows become synced and one audit
// entry records the batch size. Rows created after the snapshot stay
// pending. If the authority fails or acknowledges a different batch, no
// row changes state and the error wraps model.ErrSyncBatchFailure.
func (c *Coordinator) PushPending(ctx context.Context) (PushReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := c.takeSnapshot(ctx)
	if err != nil {
		return PushReport{}, fmt.Errorf("push: snapshot pending: %w", err)
	}
	if snap.batch.Len() == 0 {
		c.logger.Debug("push skipped, nothing pending")
		return PushReport{}, nil
	}

	batch := snap.batch
	batch.ID = c.ids.Generate()
	batch.Station = c.station
	digest, err := model.BatchDigest(batch)
	if err != nil {
		return PushReport{}, fmt.Errorf("push: %w", err)
	}
	report := PushReport{
		BatchID:     batch.ID,
		Enrollments: len(batch.Enrollments),
		Entries:     len(batch.Entries),
		Digest:      digest,
	}

	ack, err := c.authority.Push(ctx, batch)
	if err == nil {
		err = checkAck(batch, ack)
	}
	if err != nil {
		c.metrics.ObserveSync(string(model.DirectionPush), false, 0)
		c.logger.Warn("push failed", "batch_id", batch.ID, "records", batch.Len(), "error", err)
		return PushReport{}, fmt.Errorf("push batch %s: %w: %w", batch.ID, model.ErrSyncBatchFailure, err)
	}

	err = c.store.RunInTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.MarkIdentitiesSynced(ctx, snap.identities); err != nil {
			return err
		}
		if _, err := tx.MarkAttendanceSynced(ctx, snap.attendanceIDs); err != nil {
			return err
		}
		audit, err := tx.AppendAudit(ctx, model.AuditEntry{
			BatchID:       batch.ID,
			Direction:     model.DirectionPush,
			Timestamp:     c.now().UTC(),
			RecordsSynced: batch.Len(),
			Digest:        digest,
		})
		report.Audit = audit
		return err
	})
	if err != nil {
		// The authority has the batch but local rows stay pending; the next
		// push resends them.
		c.metrics.ObserveSync(string(model.DirectionPush), false, 0)
		c.logger.Error("push acknowledged but not recorded", "batch_id", batch.ID, "error", err)
		return PushReport{}, fmt.Errorf("push batch %s: record ack: %w: %w", batch.ID, model.ErrSyncBatchFailure, err)
	}

	c.metrics.ObserveSync(string(model.DirectionPush), true, batch.Len())
	c.logger.Info("push",
		"batch_id", batch.ID,
		"enrollments", report.Enrollments,
		"entries", report.Entries,
		"digest", digest)
	return report, nil
}

func checkAck(batch model.Batch, ack model.Ack) error {
	if ack.BatchID != batch.ID {
		return fmt.Errorf("ack for batch %q, sent %q", ack.BatchID, batch.ID)
	}
	if ack.Applied != batch.Len() {
		return fmt.Errorf("authority applied %d of %d records", ack.Applied, batch.Len())
	}
	return nil
}

// Run pushes pending rows every interval until ctx is cancelled. Failed
// pushes are logged and retried on the next tick.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sync interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.PushPending(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("scheduled push failed", "error", err)
			}
		}
	}
}
