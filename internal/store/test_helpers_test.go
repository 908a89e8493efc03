package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/rollcall/internal/model"
)

const testDim = 4

var testNow = time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

// createTestStore creates a temporary store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	return openTestStore(t, filepath.Join(t.TempDir(), "test.db"))
}

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, Options{
		Dimension: testDim,
		Location:  time.UTC,
		Now:       func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func vec(v ...float64) model.Embedding {
	return model.Embedding(v)
}

// mustPut enrolls an identity with the given roll and embedding.
func mustPut(t *testing.T, s *Store, id int64, roll string, e model.Embedding) model.Identity {
	t.Helper()
	out, err := s.PutIdentity(context.Background(), model.Identity{
		ID:        id,
		Name:      "Student " + roll,
		Roll:      roll,
		Class:     "10",
		Section:   "A",
		Embedding: e,
	})
	if err != nil {
		t.Fatalf("PutIdentity(%q) failed: %v", roll, err)
	}
	return out
}

// mustAttend inserts a capture record at ts (UTC).
func mustAttend(t *testing.T, s *Store, identityID int64, ts string) model.AttendanceRecord {
	t.Helper()
	at, err := model.ParseTimestamp(ts, time.UTC)
	if err != nil {
		t.Fatalf("ParseTimestamp(%q) failed: %v", ts, err)
	}
	var rec model.AttendanceRecord
	err = s.RunInTx(context.Background(), func(tx *Tx) error {
		var err error
		rec, _, err = tx.InsertAttendance(context.Background(), model.AttendanceRecord{
			IdentityID: identityID,
			Timestamp:  at,
		})
		return err
	})
	if err != nil {
		t.Fatalf("InsertAttendance(%d, %q) failed: %v", identityID, ts, err)
	}
	return rec
}
