package store

import (
	"context"
	"fmt"
)

// IdentityIDs returns every identity id in ascending order.
func (t *Tx) IdentityIDs(ctx context.Context) ([]int64, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT id FROM identities ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RemapIdentities renumbers identities and their attendance links by
// mapping (old id to new id). Entries with old == new are skipped.
//
// Rows move through negative ids first so a new id may equal another row's
// old id. The attendance foreign key is deferred, so links are only checked
// once the transaction commits.
func (t *Tx) RemapIdentities(ctx context.Context, mapping map[int64]int64) error {
	for oldID, newID := range mapping {
		if oldID == newID {
			continue
		}
		if newID <= 0 {
			return fmt.Errorf("remap identity %d: target id %d must be positive", oldID, newID)
		}
		if _, err := t.tx.ExecContext(ctx, `UPDATE identities SET id = ? WHERE id = ?`, -newID, oldID); err != nil {
			return fmt.Errorf("remap identity %d: %w", oldID, err)
		}
		if _, err := t.tx.ExecContext(ctx, `UPDATE attendance SET identity_id = ? WHERE identity_id = ?`, -newID, oldID); err != nil {
			return fmt.Errorf("remap attendance of identity %d: %w", oldID, err)
		}
	}

	if _, err := t.tx.ExecContext(ctx, `UPDATE identities SET id = -id WHERE id < 0`); err != nil {
		return fmt.Errorf("settle identity ids: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, `UPDATE attendance SET identity_id = -identity_id WHERE identity_id < 0`); err != nil {
		return fmt.Errorf("settle attendance links: %w", err)
	}
	return nil
}

// ResetIdentitySequence sets the AUTOINCREMENT counter of identities so the
// next enrolled identity gets n+1.
func (t *Tx) ResetIdentitySequence(ctx context.Context, n int64) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE sqlite_sequence SET seq = ? WHERE name = 'identities'`, n)
	if err != nil {
		return fmt.Errorf("reset identity sequence: %w", err)
	}
	updated, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reset identity sequence: %w", err)
	}
	if updated == 0 && n > 0 {
		if _, err := t.tx.ExecContext(ctx, `INSERT INTO sqlite_sequence (name, seq) VALUES ('identities', ?)`, n); err != nil {
			return fmt.Errorf("reset identity sequence: %w", err)
		}
	}
	return nil
}

// IdentitySequence reads the AUTOINCREMENT counter of identities.
func (s *Store) IdentitySequence(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM sqlite_sequence WHERE name = 'identities'`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("read identity sequence: %w", err)
	}
	return seq, nil
}
