package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/rollcall/internal/model"
)

// querier is satisfied by *sql.DB and *sql.Tx so read helpers serve both.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is a write transaction. Obtain one through Store.RunInTx; it is only
// valid inside the callback.
type Tx struct {
	tx    *sql.Tx
	store *Store
}

// Location is the store's time zone.
func (t *Tx) Location() *time.Location {
	return t.store.loc
}

// Dimension is the store's embedding length.
func (t *Tx) Dimension() int {
	return t.store.dim
}

// RunInTx runs fn inside one IMMEDIATE transaction. fn's error rolls the
// transaction back and is returned unchanged. Lock contention (SQLITE_BUSY,
// SQLITE_LOCKED) retries the whole transaction up to MaxRetries times with
// doubling backoff, then fails with model.ErrStoreUnavailable.
//
// fn may run more than once and must not leak state between attempts.
func (s *Store) RunInTx(ctx context.Context, fn func(tx *Tx) error) error {
	delay := s.retryDelay
	var err error
	for attempt := 0; ; attempt++ {
		err = s.runOnce(ctx, fn)
		if err == nil || !isBusy(err) {
			return err
		}
		if attempt >= s.maxRetries {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", model.ErrStoreUnavailable, ctx.Err())
		case <-timer.C:
		}
		delay *= 2
	}
	return fmt.Errorf("%w: gave up after %d attempts: %v", model.ErrStoreUnavailable, s.maxRetries+1, err)
}

func (s *Store) runOnce(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&Tx{tx: sqlTx, store: s}); err != nil {
		sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("commit: %w: dangling identity reference", model.ErrConflict)
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
