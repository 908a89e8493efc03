package model

import (
	"fmt"
	"math"
	"time"
)

// SyncState tracks whether a record has been reconciled with the authority.
type SyncState int

const (
	// Pending records have not been acknowledged by the authority.
	Pending SyncState = iota
	// Synced records were part of an acknowledged batch. Terminal.
	Synced
)

func (s SyncState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Synced:
		return "synced"
	default:
		return fmt.Sprintf("SyncState(%d)", int(s))
	}
}

// Source records how an attendance row entered the ledger.
type Source string

const (
	// SourceCapture rows come from a local biometric match and are
	// deduplicated per identity and day.
	SourceCapture Source = "capture"
	// SourceImport rows come from an imported batch and are never deduplicated.
	SourceImport Source = "import"
)

// Direction distinguishes audit entries written by a station push from
// entries written by an authority import.
type Direction string

const (
	DirectionPush   Direction = "push"
	DirectionImport Direction = "import"
)

// Embedding is a fixed-length feature vector produced by the external
// extractor for one detected face.
type Embedding []float64

// Validate rejects vectors whose length differs from dim or that contain
// NaN or infinite components.
func (e Embedding) Validate(dim int) error {
	if len(e) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(e), dim)
	}
	for i, v := range e {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: component %d is %v", ErrInvalidEmbedding, i, v)
		}
	}
	return nil
}

// Clone returns a copy that does not alias e.
func (e Embedding) Clone() Embedding {
	if e == nil {
		return nil
	}
	out := make(Embedding, len(e))
	copy(out, e)
	return out
}

// Identity is an enrolled person.
type Identity struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Roll      string    `json:"roll"`
	Class     string    `json:"class"`
	Section   string    `json:"section"`
	Embedding Embedding `json:"-"`
	SyncState SyncState `json:"-"`
	CreatedAt time.Time `json:"created_at"`

	// RowKey identifies this row for its whole lifetime. Unlike ID it
	// survives a reindex, and unlike Roll it is never reused.
	RowKey string `json:"-"`
}

// Enrolled reports whether the identity can be matched biometrically.
func (i Identity) Enrolled() bool {
	return len(i.Embedding) > 0
}

// IdentityPatch carries an edit of the mutable identity fields.
// Nil fields are left unchanged.
type IdentityPatch struct {
	Name    *string
	Roll    *string
	Class   *string
	Section *string
}

// AttendanceRecord is one presence event. At most one capture-sourced
// record exists per (IdentityID, Day).
type AttendanceRecord struct {
	ID         int64     `json:"id"`
	IdentityID int64     `json:"identity_id"`
	Timestamp  time.Time `json:"timestamp"`
	Day        string    `json:"day"`
	Source     Source    `json:"source"`
	SyncState  SyncState `json:"-"`
}

// AuditEntry is one row of the append-only synchronization log.
type AuditEntry struct {
	ID            int64     `json:"id"`
	BatchID       string    `json:"batch_id"`
	Direction     Direction `json:"direction"`
	Timestamp     time.Time `json:"timestamp"`
	RecordsSynced int       `json:"records_synced"`
	Digest        string    `json:"digest"`
}

// Entry is one attendance tuple of a sync batch.
type Entry struct {
	Roll      string `json:"roll"`
	Name      string `json:"name"`
	Class     string `json:"class"`
	Section   string `json:"section"`
	Timestamp string `json:"timestamp"`
}

// Enrollment carries an identity that is new to the authority, optionally
// with its embedding.
type Enrollment struct {
	Roll      string    `json:"roll"`
	Name      string    `json:"name"`
	Class     string    `json:"class"`
	Section   string    `json:"section"`
	Embedding Embedding `json:"embedding,omitempty"`
}

// Batch is the unit exchanged between a station and the authority.
type Batch struct {
	ID          string       `json:"batch_id"`
	Station     string       `json:"station"`
	Enrollments []Enrollment `json:"enrollments,omitempty"`
	Entries     []Entry      `json:"attendance_records"`
}

// Len is the number of records carried by the batch.
func (b Batch) Len() int {
	return len(b.Enrollments) + len(b.Entries)
}

// Ack is the authority's response to an applied batch.
type Ack struct {
	BatchID string `json:"batch_id"`
	Applied int    `json:"applied"`
}
