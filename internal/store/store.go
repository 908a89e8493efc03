package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/rollcall/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - synced columns guaranteed on identities/attendance, pending indexes
// 2 - identities.row_key backfilled and unique
const currentSchemaVersion = 2

const (
	metaEmbeddingDim = "embedding_dim"

	defaultBusyTimeout = 5 * time.Second
	defaultMaxRetries  = 3
	defaultRetryDelay  = 50 * time.Millisecond
)

// Options configures a Store.
type Options struct {
	// Dimension is the embedding length accepted by the store. Required.
	Dimension int

	// BusyTimeout is how long SQLite waits on a locked database before
	// returning SQLITE_BUSY. Defaults to 5s.
	BusyTimeout time.Duration

	// MaxRetries bounds how often RunInTx retries a busy transaction.
	// Defaults to 3. Negative disables retries.
	MaxRetries int

	// RetryDelay is the first backoff delay; it doubles per retry.
	RetryDelay time.Duration

	// Location is the time zone used for wall-clock timestamps and
	// calendar days. Defaults to time.Local.
	Location *time.Location

	// Now overrides the clock used for created_at values (tests).
	Now func() time.Time
}

// Store provides durable storage for identities, attendance and the sync log.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db         *sql.DB
	dim        int
	loc        *time.Location
	maxRetries int
	retryDelay time.Duration
	now        func() time.Time
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically, then checks the
// recorded embedding dimension against opts.Dimension.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts Options) (*Store, error) {
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("open store: dimension must be positive, got %d", opts.Dimension)
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = defaultBusyTimeout
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	dsn := fmt.Sprintf("%s?_txlock=immediate&_busy_timeout=%d", path, opts.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, and an in-memory database
	// exists per connection, so keep exactly one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db, opts.BusyTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	if err := ensureDimension(db, opts.Dimension); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:         db,
		dim:        opts.Dimension,
		loc:        opts.Location,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		now:        opts.Now,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dimension is the fixed embedding length of this store.
func (s *Store) Dimension() int {
	return s.dim
}

// Location is the time zone used for timestamps and calendar days.
func (s *Store) Location() *time.Location {
	return s.loc
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB, busyTimeout time.Duration) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}
	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the synced flag to databases created before sync state
// existed, then indexes it for the pending scans.
func migrateToV1(db *sql.DB) error {
	for _, table := range []string{"identities", "attendance"} {
		has, err := hasColumn(db, table, "synced")
		if err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
		if has {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN synced INTEGER NOT NULL DEFAULT 0", table)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate to v1: add %s.synced: %w", table, err)
		}
	}

	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_identities_pending ON identities(synced);
		CREATE INDEX IF NOT EXISTS idx_attendance_pending ON attendance(synced);
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// migrateToV2 gives every identity a row key that push acknowledgements are
// matched against. Existing rows get random keys.
func migrateToV2(db *sql.DB) error {
	has, err := hasColumn(db, "identities", "row_key")
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	if !has {
		if _, err := db.Exec(`ALTER TABLE identities ADD COLUMN row_key TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("migrate to v2: add identities.row_key: %w", err)
		}
	}

	_, err = db.Exec(`
		UPDATE identities SET row_key = lower(hex(randomblob(16))) WHERE row_key = '';
		CREATE UNIQUE INDEX IF NOT EXISTS idx_identities_row_key ON identities(row_key);
	`)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// ensureDimension records the embedding dimension on first open and rejects
// a mismatched dimension afterwards.
func ensureDimension(db *sql.DB, dim int) error {
	var raw string
	err := db.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaEmbeddingDim).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = db.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`, metaEmbeddingDim, strconv.Itoa(dim))
		if err != nil {
			return fmt.Errorf("record embedding dimension: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read embedding dimension: %w", err)
	}

	stored, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("corrupt embedding dimension %q: %w", raw, err)
	}
	if stored != dim {
		return fmt.Errorf("%w: store was created with %d, opened with %d", model.ErrDimensionMismatch, stored, dim)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// timeNow is the store clock in UTC.
func (s *Store) timeNow() time.Time {
	return s.now().UTC()
}
