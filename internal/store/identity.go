package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/rollcall/internal/model"
)

const identityColumns = `id, name, roll, class, section, embedding, embedding_dim, synced, created_at, row_key`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (model.Identity, error) {
	var (
		id        model.Identity
		blob      []byte
		dim       sql.NullInt64
		synced    int
		createdAt string
	)
	if err := row.Scan(&id.ID, &id.Name, &id.Roll, &id.Class, &id.Section, &blob, &dim, &synced, &createdAt, &id.RowKey); err != nil {
		return model.Identity{}, err
	}
	if dim.Valid {
		vec, err := decodeEmbedding(blob, int(dim.Int64))
		if err != nil {
			return model.Identity{}, fmt.Errorf("identity %d: %w", id.ID, err)
		}
		id.Embedding = vec
	}
	created, err := parseInstant(createdAt)
	if err != nil {
		return model.Identity{}, fmt.Errorf("identity %d: %w", id.ID, err)
	}
	id.CreatedAt = created
	id.SyncState = syncStateOf(synced)
	return id, nil
}

func queryIdentities(ctx context.Context, q querier, where string, args ...any) ([]model.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` ORDER BY id ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Identity
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func getIdentity(ctx context.Context, q querier, where string, args ...any) (model.Identity, error) {
	row := q.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE `+where, args...)
	id, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Identity{}, model.ErrNotFound
	}
	return id, err
}

// PutIdentity enrolls a new identity with its embedding. The embedding must
// match the store dimension. A zero ID lets the store assign one.
//
// The write is a single INSERT: a rejected identity leaves no row behind.
func (s *Store) PutIdentity(ctx context.Context, identity model.Identity) (model.Identity, error) {
	if err := identity.Embedding.Validate(s.dim); err != nil {
		return model.Identity{}, fmt.Errorf("put identity: %w", err)
	}

	var out model.Identity
	err := s.RunInTx(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.InsertIdentity(ctx, identity)
		return err
	})
	if err != nil {
		return model.Identity{}, fmt.Errorf("put identity: %w", err)
	}
	return out, nil
}

// AttachEmbedding enrolls an identity that was created without a vector,
// typically by an import. Embeddings are immutable: an identity that
// already has one yields model.ErrConflict.
func (s *Store) AttachEmbedding(ctx context.Context, id int64, vec model.Embedding) (model.Identity, error) {
	if err := vec.Validate(s.dim); err != nil {
		return model.Identity{}, fmt.Errorf("attach embedding: %w", err)
	}

	var out model.Identity
	err := s.RunInTx(ctx, func(tx *Tx) error {
		if err := tx.SetEmbedding(ctx, id, vec); err != nil {
			return err
		}
		var err error
		out, err = tx.Identity(ctx, id)
		return err
	})
	if err != nil {
		return model.Identity{}, fmt.Errorf("attach embedding %d: %w", id, err)
	}
	return out, nil
}

// UpdateIdentity edits the mutable fields of an identity. The sync state is
// left as it is.
func (s *Store) UpdateIdentity(ctx context.Context, id int64, patch model.IdentityPatch) (model.Identity, error) {
	var out model.Identity
	err := s.RunInTx(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.UpdateIdentity(ctx, id, patch)
		return err
	})
	if err != nil {
		return model.Identity{}, fmt.Errorf("update identity %d: %w", id, err)
	}
	return out, nil
}

// RemoveIdentity deletes an identity together with its attendance records
// in one transaction and returns how many attendance records went with it.
func (s *Store) RemoveIdentity(ctx context.Context, id int64) (int, error) {
	var removed int
	err := s.RunInTx(ctx, func(tx *Tx) error {
		var err error
		removed, err = tx.DeleteIdentity(ctx, id)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("remove identity %d: %w", id, err)
	}
	return removed, nil
}

// Identity returns one identity or model.ErrNotFound.
func (s *Store) Identity(ctx context.Context, id int64) (model.Identity, error) {
	out, err := getIdentity(ctx, s.db, `id = ?`, id)
	if err != nil {
		return model.Identity{}, fmt.Errorf("get identity %d: %w", id, err)
	}
	return out, nil
}

// IdentityByRoll resolves the natural key. The roll is normalized first.
func (s *Store) IdentityByRoll(ctx context.Context, roll string) (model.Identity, error) {
	out, err := getIdentity(ctx, s.db, `roll = ?`, model.NormalizeKey(roll))
	if err != nil {
		return model.Identity{}, fmt.Errorf("get identity by roll %q: %w", roll, err)
	}
	return out, nil
}

// Identities returns every identity ordered by id, enrolled or not.
func (s *Store) Identities(ctx context.Context) ([]model.Identity, error) {
	out, err := queryIdentities(ctx, s.db, "")
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	return out, nil
}

// Enrolled returns every identity that carries an embedding. Results are
// ordered by id but callers must not depend on it.
func (s *Store) Enrolled(ctx context.Context) ([]model.Identity, error) {
	out, err := queryIdentities(ctx, s.db, `embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("list enrolled: %w", err)
	}
	return out, nil
}

// InsertIdentity inserts identity as given. A nil embedding is allowed here
// for identities created by import; a present one must be valid.
// Duplicate rolls or ids yield model.ErrConflict.
func (t *Tx) InsertIdentity(ctx context.Context, identity model.Identity) (model.Identity, error) {
	identity.Roll = model.NormalizeKey(identity.Roll)
	identity.Name = strings.TrimSpace(identity.Name)
	if identity.Roll == "" {
		return model.Identity{}, fmt.Errorf("insert identity: %w: empty roll", model.ErrInvalidRecord)
	}
	if identity.Name == "" {
		return model.Identity{}, fmt.Errorf("insert identity %q: %w: empty name", identity.Roll, model.ErrInvalidRecord)
	}

	var (
		blob any
		dim  any
	)
	if identity.Embedding != nil {
		if err := identity.Embedding.Validate(t.store.dim); err != nil {
			return model.Identity{}, fmt.Errorf("insert identity %q: %w", identity.Roll, err)
		}
		blob = encodeEmbedding(identity.Embedding)
		dim = len(identity.Embedding)
	}

	identity.CreatedAt = t.store.timeNow()
	identity.RowKey = uuid.Must(uuid.NewV7()).String()
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO identities (id, name, roll, class, section, embedding, embedding_dim, synced, created_at, row_key)
		VALUES (NULLIF(?, 0), ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		identity.ID,
		identity.Name,
		identity.Roll,
		strings.TrimSpace(identity.Class),
		strings.TrimSpace(identity.Section),
		blob,
		dim,
		syncFlag(identity.SyncState),
		formatInstant(identity.CreatedAt),
		identity.RowKey,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Identity{}, fmt.Errorf("insert identity %q: %w: roll or id already exists", identity.Roll, model.ErrConflict)
		}
		return model.Identity{}, fmt.Errorf("insert identity %q: %w", identity.Roll, err)
	}

	newID, err := res.LastInsertId()
	if err != nil {
		return model.Identity{}, fmt.Errorf("insert identity %q: %w", identity.Roll, err)
	}
	identity.ID = newID
	identity.Class = strings.TrimSpace(identity.Class)
	identity.Section = strings.TrimSpace(identity.Section)
	identity.Embedding = identity.Embedding.Clone()
	return identity, nil
}

// Identity reads one identity inside the transaction.
func (t *Tx) Identity(ctx context.Context, id int64) (model.Identity, error) {
	return getIdentity(ctx, t.tx, `id = ?`, id)
}

// IdentityByRoll resolves a normalized roll inside the transaction.
func (t *Tx) IdentityByRoll(ctx context.Context, roll string) (model.Identity, error) {
	return getIdentity(ctx, t.tx, `roll = ?`, model.NormalizeKey(roll))
}

// SetEmbedding stores vec for an identity that has none.
func (t *Tx) SetEmbedding(ctx context.Context, id int64, vec model.Embedding) error {
	if err := vec.Validate(t.store.dim); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE identities SET embedding = ?, embedding_dim = ?
		WHERE id = ? AND embedding IS NULL
	`, encodeEmbedding(vec), len(vec), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	if _, err := t.Identity(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: identity %d already has an embedding", model.ErrConflict, id)
}

// UpdateIdentity applies patch and returns the updated identity.
func (t *Tx) UpdateIdentity(ctx context.Context, id int64, patch model.IdentityPatch) (model.Identity, error) {
	current, err := t.Identity(ctx, id)
	if err != nil {
		return model.Identity{}, err
	}
	if patch.Name != nil {
		current.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Roll != nil {
		current.Roll = model.NormalizeKey(*patch.Roll)
	}
	if patch.Class != nil {
		current.Class = strings.TrimSpace(*patch.Class)
	}
	if patch.Section != nil {
		current.Section = strings.TrimSpace(*patch.Section)
	}
	if current.Name == "" || current.Roll == "" {
		return model.Identity{}, fmt.Errorf("%w: name and roll must not be empty", model.ErrInvalidRecord)
	}

	_, err = t.tx.ExecContext(ctx, `
		UPDATE identities SET name = ?, roll = ?, class = ?, section = ?
		WHERE id = ?
	`, current.Name, current.Roll, current.Class, current.Section, id)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Identity{}, fmt.Errorf("%w: roll %q already exists", model.ErrConflict, current.Roll)
		}
		return model.Identity{}, err
	}
	return current, nil
}

// DeleteIdentity removes the identity and its attendance records and
// returns the number of attendance records removed.
func (t *Tx) DeleteIdentity(ctx context.Context, id int64) (int, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM attendance WHERE identity_id = ?`, id)
	if err != nil {
		return 0, err
	}
	cascaded, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	res, err = t.tx.ExecContext(ctx, `DELETE FROM identities WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, model.ErrNotFound
	}
	return int(cascaded), nil
}
