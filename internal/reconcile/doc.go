// Package reconcile synchronizes pending identities and attendance between
// a capture station and the central authority.
//
// A station pushes with Coordinator.PushPending: it snapshots every pending
// row, sends them as one model.Batch, and only after the authority
// acknowledges the batch marks exactly the snapshot rows synced and appends
// one audit entry. A failed push changes nothing and can be retried.
//
// The authority applies batches with Importer.ImportBatch in a single
// transaction. Imports are not deduplicated: applying the same batch twice
// stores its attendance twice.
//
// Sync state only moves from pending to synced. Rows are matched on ack by
// attendance id and identity roll, so a reindex that runs while a batch is
// in flight does not misdirect the acknowledgement.
package reconcile
