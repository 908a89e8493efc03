package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/rollcall/internal/model"
)

const attendanceColumns = `id, identity_id, timestamp, day, source, synced`

func scanAttendance(row rowScanner, loc *time.Location) (model.AttendanceRecord, error) {
	var (
		rec    model.AttendanceRecord
		ts     string
		source string
		synced int
	)
	if err := row.Scan(&rec.ID, &rec.IdentityID, &ts, &rec.Day, &source, &synced); err != nil {
		return model.AttendanceRecord{}, err
	}
	t, err := model.ParseTimestamp(ts, loc)
	if err != nil {
		return model.AttendanceRecord{}, fmt.Errorf("attendance %d: %w", rec.ID, err)
	}
	rec.Timestamp = t
	rec.Source = model.Source(source)
	rec.SyncState = syncStateOf(synced)
	return rec, nil
}

// AttendanceFilter narrows an attendance listing. Zero fields match all.
// From and To are inclusive calendar days (YYYY-MM-DD).
type AttendanceFilter struct {
	IdentityID int64
	From       string
	To         string
}

func (f AttendanceFilter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.IdentityID != 0 {
		clauses = append(clauses, "identity_id = ?")
		args = append(args, f.IdentityID)
	}
	if f.From != "" {
		clauses = append(clauses, "day >= ?")
		args = append(args, f.From)
	}
	if f.To != "" {
		clauses = append(clauses, "day <= ?")
		args = append(args, f.To)
	}
	return strings.Join(clauses, " AND "), args
}

func queryAttendance(ctx context.Context, q querier, loc *time.Location, where string, args ...any) ([]model.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` ORDER BY timestamp ASC, id ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendance(rows, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Attendance lists attendance records ordered by timestamp.
func (s *Store) Attendance(ctx context.Context, filter AttendanceFilter) ([]model.AttendanceRecord, error) {
	where, args := filter.where()
	out, err := queryAttendance(ctx, s.db, s.loc, where, args...)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return out, nil
}

// CaptureForDay returns the capture-sourced record of identityID on day,
// or model.ErrNotFound.
func (t *Tx) CaptureForDay(ctx context.Context, identityID int64, day string) (model.AttendanceRecord, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+attendanceColumns+` FROM attendance
		WHERE identity_id = ? AND day = ? AND source = 'capture'
	`, identityID, day)
	rec, err := scanAttendance(row, t.store.loc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AttendanceRecord{}, model.ErrNotFound
	}
	return rec, err
}

// InsertAttendance stores rec and reports whether a row was written.
// Day is derived from Timestamp in the store location. A capture record
// that collides with an existing one for the same identity and day is
// dropped: inserted is false and no error is returned.
func (t *Tx) InsertAttendance(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, bool, error) {
	if rec.Source == "" {
		rec.Source = model.SourceCapture
	}
	rec.Timestamp = rec.Timestamp.In(t.store.loc).Truncate(time.Second)
	rec.Day = model.CalendarDay(rec.Timestamp, t.store.loc)

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO attendance (identity_id, timestamp, day, source, synced)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		rec.IdentityID,
		model.FormatTimestamp(rec.Timestamp, t.store.loc),
		rec.Day,
		string(rec.Source),
		syncFlag(rec.SyncState),
	)
	if err != nil {
		return model.AttendanceRecord{}, false, fmt.Errorf("insert attendance: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return model.AttendanceRecord{}, false, fmt.Errorf("insert attendance: %w", err)
	}
	if n == 0 {
		return model.AttendanceRecord{}, false, nil
	}

	rec.ID, err = res.LastInsertId()
	if err != nil {
		return model.AttendanceRecord{}, false, fmt.Errorf("insert attendance: %w", err)
	}
	return rec, true, nil
}
