// Package store provides SQLite-backed durable storage for a rollcall
// station or authority.
//
// Tables:
//   - identities: enrolled people with an optional fixed-length embedding
//   - attendance: presence events linked to identities
//   - sync_log: append-only audit of synchronization batches
//   - meta: store-wide facts such as the embedding dimensionality
//
// # Invariants
//
// Embedding dimensionality is recorded in meta on first open and is fixed
// for the lifetime of the file. Opening with a different dimension fails.
//
// At most one capture-sourced attendance row exists per (identity_id, day),
// enforced by a partial UNIQUE index. Imported rows are exempt.
//
// attendance.identity_id is a foreign key checked at commit. Every
// transaction that commits leaves no dangling identity reference.
//
// synced only moves from 0 to 1.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout from Options (default 5s)
//   - foreign_keys=ON
//   - _txlock=immediate: every transaction takes the write lock up front, so
//     read-then-write sequences cannot interleave across processes
//
// Mutations go through RunInTx, which retries SQLITE_BUSY a bounded number
// of times and then reports model.ErrStoreUnavailable.
package store
