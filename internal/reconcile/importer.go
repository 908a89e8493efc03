package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/store"
)

// Importer applies batches on the authority side.
type Importer struct {
	settings
	store *store.Store
}

// NewImporter creates an Importer.
func NewImporter(s *store.Store, opts ...Option) (*Importer, error) {
	if s == nil {
		return nil, errors.New("store is required")
	}
	im := &Importer{settings: defaultSettings(), store: s}
	for _, opt := range opts {
		opt(&im.settings)
	}
	return im, nil
}

// ImportBatch applies batch in one transaction.
//
// Enrollments create identities that are missing and attach embeddings to
// identities that lack one. Each entry resolves its identity by roll,
// creating one without an embedding when none exists, and adds an
// attendance record. Imported rows arrive synced. Any malformed record or
// constraint failure rolls the whole batch back and the error wraps
// model.ErrSyncBatchFailure.
//
// Entries are not deduplicated: importing the same batch twice stores its
// attendance twice.
func (im *Importer) ImportBatch(ctx context.Context, batch model.Batch) (model.Ack, error) {
	if batch.ID == "" {
		batch.ID = im.ids.Generate()
	}
	ack, err := im.apply(ctx, batch)
	if err != nil {
		im.metrics.ObserveSync(string(model.DirectionImport), false, 0)
		im.logger.Warn("import failed", "batch_id", batch.ID, "station", batch.Station, "error", err)
		return model.Ack{}, fmt.Errorf("import batch %s: %w: %w", batch.ID, model.ErrSyncBatchFailure, err)
	}

	im.metrics.ObserveSync(string(model.DirectionImport), true, ack.Applied)
	im.logger.Info("import",
		"batch_id", batch.ID,
		"station", batch.Station,
		"enrollments", len(batch.Enrollments),
		"entries", len(batch.Entries))
	return ack, nil
}

func (im *Importer) apply(ctx context.Context, batch model.Batch) (model.Ack, error) {
	if batch.Len() == 0 {
		return model.Ack{BatchID: batch.ID}, nil
	}

	digest, err := model.BatchDigest(batch)
	if err != nil {
		return model.Ack{}, err
	}

	err = im.store.RunInTx(ctx, func(tx *store.Tx) error {
		for i, en := range batch.Enrollments {
			if err := importEnrollment(ctx, tx, en); err != nil {
				return fmt.Errorf("enrollment %d (roll %q): %w", i, en.Roll, err)
			}
		}
		for i, e := range batch.Entries {
			if err := importEntry(ctx, tx, e); err != nil {
				return fmt.Errorf("entry %d (roll %q): %w", i, e.Roll, err)
			}
		}
		_, err := tx.AppendAudit(ctx, model.AuditEntry{
			BatchID:       batch.ID,
			Direction:     model.DirectionImport,
			Timestamp:     im.now().UTC(),
			RecordsSynced: batch.Len(),
			Digest:        digest,
		})
		return err
	})
	if err != nil {
		return model.Ack{}, err
	}
	return model.Ack{BatchID: batch.ID, Applied: batch.Len()}, nil
}

func importEnrollment(ctx context.Context, tx *store.Tx, en model.Enrollment) error {
	if model.NormalizeKey(en.Roll) == "" {
		return fmt.Errorf("%w: empty roll", model.ErrInvalidRecord)
	}
	var embedding model.Embedding
	if len(en.Embedding) > 0 {
		embedding = en.Embedding
	}

	existing, err := tx.IdentityByRoll(ctx, en.Roll)
	if errors.Is(err, model.ErrNotFound) {
		_, err = tx.InsertIdentity(ctx, model.Identity{
			Name:      en.Name,
			Roll:      en.Roll,
			Class:     en.Class,
			Section:   en.Section,
			Embedding: embedding,
			SyncState: model.Synced,
		})
		return err
	}
	if err != nil {
		return err
	}

	if embedding == nil || existing.Enrolled() {
		return nil
	}
	return tx.SetEmbedding(ctx, existing.ID, embedding)
}

func importEntry(ctx context.Context, tx *store.Tx, e model.Entry) error {
	if model.NormalizeKey(e.Roll) == "" {
		return fmt.Errorf("%w: empty roll", model.ErrInvalidRecord)
	}
	ts, err := model.ParseTimestamp(e.Timestamp, tx.Location())
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidRecord, err)
	}

	identity, err := tx.IdentityByRoll(ctx, e.Roll)
	if errors.Is(err, model.ErrNotFound) {
		identity, err = tx.InsertIdentity(ctx, model.Identity{
			Name:      e.Name,
			Roll:      e.Roll,
			Class:     e.Class,
			Section:   e.Section,
			SyncState: model.Synced,
		})
	}
	if err != nil {
		return err
	}

	_, _, err = tx.InsertAttendance(ctx, model.AttendanceRecord{
		IdentityID: identity.ID,
		Timestamp:  ts,
		Source:     model.SourceImport,
		SyncState:  model.Synced,
	})
	return err
}
