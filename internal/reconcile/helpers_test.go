package reconcile

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/store"
)

const testDim = 3

var testNow = time.Date(2024, 1, 10, 18, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock() time.Time {
	return testNow
}

func createTestStore(t *testing.T, name string) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), name+".db"), store.Options{
		Dimension: testDim,
		Location:  time.UTC,
		Now:       fixedClock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func enroll(t *testing.T, s *store.Store, id int64, roll string) model.Identity {
	t.Helper()
	out, err := s.PutIdentity(context.Background(), model.Identity{
		ID:        id,
		Name:      "Name " + roll,
		Roll:      roll,
		Class:     "10",
		Section:   "A",
		Embedding: model.Embedding{float64(id), 0.5, -1},
	})
	require.NoError(t, err)
	return out
}

func attend(t *testing.T, s *store.Store, identityID int64, ts string) model.AttendanceRecord {
	t.Helper()
	at, err := model.ParseTimestamp(ts, time.UTC)
	require.NoError(t, err)
	var rec model.AttendanceRecord
	err = s.RunInTx(context.Background(), func(tx *store.Tx) error {
		var err error
		rec, _, err = tx.InsertAttendance(context.Background(), model.AttendanceRecord{IdentityID: identityID, Timestamp: at})
		return err
	})
	require.NoError(t, err)
	return rec
}

func pendingCounts(t *testing.T, s *store.Store) (identities, attendance int) {
	t.Helper()
	st, err := s.Stats(context.Background(), "2024-01-10")
	require.NoError(t, err)
	return st.PendingIdentities, st.PendingAttendance
}
