// Package ledger records attendance with a once-per-day guarantee.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/store"
)

// Status tells whether Record wrote a row.
type Status int

const (
	// StatusRecorded: a new pending record was stored.
	StatusRecorded Status = iota
	// StatusAlreadyMarked: a record for the identity and day already
	// existed and was returned unchanged.
	StatusAlreadyMarked
)

func (s Status) String() string {
	switch s {
	case StatusRecorded:
		return "recorded"
	case StatusAlreadyMarked:
		return "already_marked"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Result is the record for the requested identity and day, tagged with
// whether this call created it.
type Result struct {
	Status Status
	Record model.AttendanceRecord
}

// Ledger is the attendance ledger over a Store.
type Ledger struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates a Ledger.
func New(s *store.Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: s, logger: logger}
}

// Record marks identityID present on the calendar day of ts (in the store
// location). The lookup and the insert run in one IMMEDIATE transaction, so
// concurrent calls for the same identity and day leave exactly one row and
// all but one of them report StatusAlreadyMarked.
//
// An unknown identity fails with model.ErrNotFound.
func (l *Ledger) Record(ctx context.Context, identityID int64, ts time.Time) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	day := model.CalendarDay(ts, l.store.Location())

	var res Result
	err := l.store.RunInTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.Identity(ctx, identityID); err != nil {
			return err
		}

		existing, err := tx.CaptureForDay(ctx, identityID, day)
		switch {
		case err == nil:
			res = Result{Status: StatusAlreadyMarked, Record: existing}
			return nil
		case !errors.Is(err, model.ErrNotFound):
			return err
		}

		rec, inserted, err := tx.InsertAttendance(ctx, model.AttendanceRecord{
			IdentityID: identityID,
			Timestamp:  ts,
			Source:     model.SourceCapture,
			SyncState:  model.Pending,
		})
		if err != nil {
			return err
		}
		if !inserted {
			// The unique index caught a row the lookup did not see.
			existing, err := tx.CaptureForDay(ctx, identityID, day)
			if err != nil {
				return err
			}
			res = Result{Status: StatusAlreadyMarked, Record: existing}
			return nil
		}
		res = Result{Status: StatusRecorded, Record: rec}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("record attendance for identity %d: %w", identityID, err)
	}

	l.logger.Info("attendance",
		"identity_id", identityID,
		"day", day,
		"status", res.Status.String(),
		"attendance_id", res.Record.ID)
	return res, nil
}

// ForDay lists the records of one calendar day.
func (l *Ledger) ForDay(ctx context.Context, day string) ([]model.AttendanceRecord, error) {
	return l.store.Attendance(ctx, store.AttendanceFilter{From: day, To: day})
}
