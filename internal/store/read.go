package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/rollcall/internal/model"
)

// Count is a labelled tally used by stats and analytics.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Stats summarizes the store for the status view.
type Stats struct {
	Day               string     `json:"day"`
	Identities        int        `json:"identities"`
	Enrolled          int        `json:"enrolled"`
	PresentToday      int        `json:"present_today"`
	TotalAttendance   int        `json:"total_attendance"`
	PendingIdentities int        `json:"pending_identities"`
	SyncedIdentities  int        `json:"synced_identities"`
	PendingAttendance int        `json:"pending_attendance"`
	SyncedAttendance  int        `json:"synced_attendance"`
	LastSync          *time.Time `json:"last_sync,omitempty"`
	ByClassToday      []Count    `json:"by_class_today"`
}

// Stats computes counts for day (YYYY-MM-DD). An empty day means today in
// the store location.
func (s *Store) Stats(ctx context.Context, day string) (Stats, error) {
	if day == "" {
		day = model.CalendarDay(s.now(), s.loc)
	}
	st := Stats{Day: day}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(embedding IS NOT NULL), 0),
		       COALESCE(SUM(synced = 0), 0),
		       COALESCE(SUM(synced = 1), 0)
		FROM identities
	`).Scan(&st.Identities, &st.Enrolled, &st.PendingIdentities, &st.SyncedIdentities)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: identities: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(synced = 0), 0),
		       COALESCE(SUM(synced = 1), 0),
		       COUNT(DISTINCT CASE WHEN day = ? THEN identity_id END)
		FROM attendance
	`, day).Scan(&st.TotalAttendance, &st.PendingAttendance, &st.SyncedAttendance, &st.PresentToday)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: attendance: %w", err)
	}

	st.ByClassToday, err = s.counts(ctx, `
		SELECT i.class, COUNT(DISTINCT a.identity_id)
		FROM attendance a JOIN identities i ON i.id = a.identity_id
		WHERE a.day = ?
		GROUP BY i.class ORDER BY i.class ASC
	`, day)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: by class: %w", err)
	}

	last, err := s.LastSync(ctx)
	switch {
	case err == nil:
		st.LastSync = &last.Timestamp
	case !errors.Is(err, model.ErrNotFound):
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// ReportFilter selects rows for a daily report. Day is required; Class and
// Section narrow it when set.
type ReportFilter struct {
	Day     string
	Class   string
	Section string
}

// ReportRow is one attendance record joined with its identity.
type ReportRow struct {
	AttendanceID int64           `json:"attendance_id"`
	IdentityID   int64           `json:"identity_id"`
	Name         string          `json:"name"`
	Roll         string          `json:"roll"`
	Class        string          `json:"class"`
	Section      string          `json:"section"`
	Timestamp    string          `json:"timestamp"`
	Source       model.Source    `json:"source"`
	SyncState    model.SyncState `json:"-"`
}

// DailyReport lists the attendance of one day, ordered by timestamp.
func (s *Store) DailyReport(ctx context.Context, filter ReportFilter) ([]ReportRow, error) {
	if filter.Day == "" {
		return nil, fmt.Errorf("daily report: %w: day is required", model.ErrInvalidRecord)
	}
	clauses := []string{"a.day = ?"}
	args := []any{filter.Day}
	if filter.Class != "" {
		clauses = append(clauses, "i.class = ?")
		args = append(args, filter.Class)
	}
	if filter.Section != "" {
		clauses = append(clauses, "i.section = ?")
		args = append(args, filter.Section)
	}

	rows, err := s.reportRows(ctx, strings.Join(clauses, " AND "), args...)
	if err != nil {
		return nil, fmt.Errorf("daily report: %w", err)
	}
	return rows, nil
}

// AttendanceRows lists joined attendance rows between two inclusive days.
// Empty bounds are open.
func (s *Store) AttendanceRows(ctx context.Context, from, to string) ([]ReportRow, error) {
	var (
		clauses []string
		args    []any
	)
	if from != "" {
		clauses = append(clauses, "a.day >= ?")
		args = append(args, from)
	}
	if to != "" {
		clauses = append(clauses, "a.day <= ?")
		args = append(args, to)
	}

	rows, err := s.reportRows(ctx, strings.Join(clauses, " AND "), args...)
	if err != nil {
		return nil, fmt.Errorf("attendance rows: %w", err)
	}
	return rows, nil
}

func (s *Store) reportRows(ctx context.Context, where string, args ...any) ([]ReportRow, error) {
	query := `
		SELECT a.id, a.identity_id, i.name, i.roll, i.class, i.section,
		       a.timestamp, a.source, a.synced
		FROM attendance a JOIN identities i ON i.id = a.identity_id`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` ORDER BY a.timestamp ASC, a.id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReportRow
	for rows.Next() {
		var (
			r      ReportRow
			source string
			synced int
		)
		if err := rows.Scan(&r.AttendanceID, &r.IdentityID, &r.Name, &r.Roll, &r.Class, &r.Section, &r.Timestamp, &source, &synced); err != nil {
			return nil, err
		}
		r.Source = model.Source(source)
		r.SyncState = syncStateOf(synced)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Analytics aggregates attendance between two inclusive days.
type Analytics struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	Daily     []Count `json:"daily"`
	ByClass   []Count `json:"by_class"`
	BySection []Count `json:"by_section"`
	Hourly    []Count `json:"hourly"`
}

// Analytics computes daily, per-class, per-section and hourly counts.
func (s *Store) Analytics(ctx context.Context, from, to string) (Analytics, error) {
	if from == "" || to == "" || from > to {
		return Analytics{}, fmt.Errorf("analytics: %w: invalid range %q..%q", model.ErrInvalidRecord, from, to)
	}
	out := Analytics{From: from, To: to}

	var err error
	out.Daily, err = s.counts(ctx, `
		SELECT day, COUNT(*) FROM attendance
		WHERE day BETWEEN ? AND ?
		GROUP BY day ORDER BY day ASC
	`, from, to)
	if err != nil {
		return Analytics{}, fmt.Errorf("analytics: daily: %w", err)
	}

	out.ByClass, err = s.counts(ctx, `
		SELECT i.class, COUNT(*) FROM attendance a JOIN identities i ON i.id = a.identity_id
		WHERE a.day BETWEEN ? AND ?
		GROUP BY i.class ORDER BY i.class ASC
	`, from, to)
	if err != nil {
		return Analytics{}, fmt.Errorf("analytics: by class: %w", err)
	}

	out.BySection, err = s.counts(ctx, `
		SELECT i.section, COUNT(*) FROM attendance a JOIN identities i ON i.id = a.identity_id
		WHERE a.day BETWEEN ? AND ?
		GROUP BY i.section ORDER BY i.section ASC
	`, from, to)
	if err != nil {
		return Analytics{}, fmt.Errorf("analytics: by section: %w", err)
	}

	// timestamp is "YYYY-MM-DDTHH:MM:SS"; characters 12-13 are the hour.
	out.Hourly, err = s.counts(ctx, `
		SELECT substr(timestamp, 12, 2) AS hour, COUNT(*) FROM attendance
		WHERE day BETWEEN ? AND ?
		GROUP BY hour ORDER BY hour ASC
	`, from, to)
	if err != nil {
		return Analytics{}, fmt.Errorf("analytics: hourly: %w", err)
	}
	return out, nil
}

func (s *Store) counts(ctx context.Context, query string, args ...any) ([]Count, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Count{}
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
