// Package model defines the records shared by every rollcall component.
//
// The three persisted records are:
//   - Identity: an enrolled person keyed by a stable integer id and a
//     natural key (roll), optionally carrying a fixed-length embedding
//   - AttendanceRecord: one presence event linked to an Identity
//   - AuditEntry: one completed synchronization batch
//
// Batch and Ack describe the data contract exchanged between a capture
// station and the authority. The transport that carries them is not part of
// this package.
//
// Sync state is one-way: Pending records become Synced only as a side effect
// of a successful batch and never go back.
package model
