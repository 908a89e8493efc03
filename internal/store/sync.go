package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/rollcall/internal/model"
)

// markChunk bounds the number of bound parameters per UPDATE.
const markChunk = 500

// PendingAttendance is a pending attendance record joined with the fields
// of its identity that travel in a batch.
type PendingAttendance struct {
	Record model.AttendanceRecord
	Entry  model.Entry
}

// PendingIdentities returns identities not yet acknowledged by the authority.
func (t *Tx) PendingIdentities(ctx context.Context) ([]model.Identity, error) {
	out, err := queryIdentities(ctx, t.tx, `synced = 0`)
	if err != nil {
		return nil, fmt.Errorf("pending identities: %w", err)
	}
	return out, nil
}

// PendingAttendance returns attendance records not yet acknowledged by the
// authority, ordered by timestamp. Entry timestamps carry the station's
// UTC offset.
func (t *Tx) PendingAttendance(ctx context.Context) ([]PendingAttendance, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT a.id, a.identity_id, a.timestamp, a.day, a.source, a.synced,
		       i.roll, i.name, i.class, i.section
		FROM attendance a
		JOIN identities i ON i.id = a.identity_id
		WHERE a.synced = 0
		ORDER BY a.timestamp ASC, a.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("pending attendance: %w", err)
	}
	defer rows.Close()

	var out []PendingAttendance
	for rows.Next() {
		var (
			p      PendingAttendance
			ts     string
			source string
			synced int
		)
		if err := rows.Scan(
			&p.Record.ID, &p.Record.IdentityID, &ts, &p.Record.Day, &source, &synced,
			&p.Entry.Roll, &p.Entry.Name, &p.Entry.Class, &p.Entry.Section,
		); err != nil {
			return nil, fmt.Errorf("pending attendance: %w", err)
		}
		p.Record.Timestamp, err = model.ParseTimestamp(ts, t.store.loc)
		if err != nil {
			return nil, fmt.Errorf("pending attendance %d: %w", p.Record.ID, err)
		}
		p.Record.Source = model.Source(source)
		p.Record.SyncState = syncStateOf(synced)
		p.Entry.Timestamp = model.FormatWireTimestamp(p.Record.Timestamp, t.store.loc)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending attendance: %w", err)
	}
	return out, nil
}

// SentIdentity names an identity row as it was placed in a batch.
type SentIdentity struct {
	RowKey string
	Roll   string
}

// MarkIdentitiesSynced flips the given identity rows from pending to synced
// and returns how many rows changed. A row matches only if both its row key
// and its roll are unchanged since it was sent, so a re-enrolled roll or a
// roll edited after the send stays pending.
func (t *Tx) MarkIdentitiesSynced(ctx context.Context, sent []SentIdentity) (int, error) {
	total := 0
	for start := 0; start < len(sent); start += markChunk {
		end := min(start+markChunk, len(sent))
		chunk := sent[start:end]

		args := make([]any, 0, 2*len(chunk))
		for _, s := range chunk {
			args = append(args, s.RowKey, model.NormalizeKey(s.Roll))
		}
		values := strings.TrimSuffix(strings.Repeat("(?, ?),", len(chunk)), ",")
		query := `UPDATE identities SET synced = 1 WHERE synced = 0 AND (row_key, roll) IN (VALUES ` + values + `)`
		res, err := t.tx.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("mark identities synced: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("mark identities synced: %w", err)
		}
		total += int(n)
	}
	return total, nil
}

// MarkAttendanceSynced flips the given attendance ids from pending to
// synced and returns how many rows changed.
func (t *Tx) MarkAttendanceSynced(ctx context.Context, ids []int64) (int, error) {
	total := 0
	for start := 0; start < len(ids); start += markChunk {
		end := min(start+markChunk, len(ids))
		chunk := make([]any, 0, end-start)
		for _, id := range ids[start:end] {
			chunk = append(chunk, id)
		}

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		query := `UPDATE attendance SET synced = 1 WHERE synced = 0 AND id IN (` + placeholders + `)`
		res, err := t.tx.ExecContext(ctx, query, chunk...)
		if err != nil {
			return total, fmt.Errorf("mark attendance synced: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("mark attendance synced: %w", err)
		}
		total += int(n)
	}
	return total, nil
}

// AppendAudit appends one entry to the sync log.
func (t *Tx) AppendAudit(ctx context.Context, entry model.AuditEntry) (model.AuditEntry, error) {
	if entry.RecordsSynced < 0 {
		return model.AuditEntry{}, fmt.Errorf("append audit: negative record count %d", entry.RecordsSynced)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = t.store.timeNow()
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO sync_log (batch_id, direction, sync_timestamp, records_synced, digest)
		VALUES (?, ?, ?, ?, ?)
	`, entry.BatchID, string(entry.Direction), formatInstant(entry.Timestamp), entry.RecordsSynced, entry.Digest)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("append audit: %w", err)
	}
	entry.ID, err = res.LastInsertId()
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("append audit: %w", err)
	}
	return entry, nil
}

func scanAudit(row rowScanner) (model.AuditEntry, error) {
	var (
		e         model.AuditEntry
		direction string
		ts        string
	)
	if err := row.Scan(&e.ID, &e.BatchID, &direction, &ts, &e.RecordsSynced, &e.Digest); err != nil {
		return model.AuditEntry{}, err
	}
	t, err := parseInstant(ts)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("audit %d: %w", e.ID, err)
	}
	e.Timestamp = t
	e.Direction = model.Direction(direction)
	return e, nil
}

// AuditLog returns sync log entries oldest first. limit <= 0 returns all.
func (s *Store) AuditLog(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	query := `SELECT id, batch_id, direction, sync_timestamp, records_synced, digest FROM sync_log ORDER BY id ASC`
	var args []any
	if limit > 0 {
		query = `SELECT * FROM (
			SELECT id, batch_id, direction, sync_timestamp, records_synced, digest
			FROM sync_log ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("audit log: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}
	return out, nil
}

// LastSync returns the most recent sync log entry, or model.ErrNotFound.
func (s *Store) LastSync(ctx context.Context) (model.AuditEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, batch_id, direction, sync_timestamp, records_synced, digest
		FROM sync_log ORDER BY id DESC LIMIT 1
	`)
	e, err := scanAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AuditEntry{}, model.ErrNotFound
	}
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("last sync: %w", err)
	}
	return e, nil
}
