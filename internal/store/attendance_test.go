package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollcall/internal/model"
)

func TestInsertAttendance_CaptureDedupPerDay(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := mustPut(t, s, 0, "R1", vec(1, 0, 0, 0))

	first := mustAttend(t, s, a.ID, "2024-01-10T09:00:00")
	assert.Equal(t, "2024-01-10", first.Day)
	assert.Equal(t, model.SourceCapture, first.Source)

	err := s.RunInTx(ctx, func(tx *Tx) error {
		at := time.Date(2024, 1, 10, 17, 30, 0, 0, time.UTC)
		_, inserted, err := tx.InsertAttendance(ctx, model.AttendanceRecord{IdentityID: a.ID, Timestamp: at})
		assert.False(t, inserted)
		return err
	})
	require.NoError(t, err)

	existing := mustFindCapture(t, s, a.ID, "2024-01-10")
	assert.Equal(t, first.ID, existing.ID)

	mustAttend(t, s, a.ID, "2024-01-11T09:00:00")
	all, err := s.Attendance(ctx, AttendanceFilter{IdentityID: a.ID})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestInsertAttendance_ImportNotDeduplicated(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := mustPut(t, s, 0, "R1", vec(1, 0, 0, 0))
	at := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		err := s.RunInTx(ctx, func(tx *Tx) error {
			_, inserted, err := tx.InsertAttendance(ctx, model.AttendanceRecord{
				IdentityID: a.ID,
				Timestamp:  at,
				Source:     model.SourceImport,
				SyncState:  model.Synced,
			})
			assert.True(t, inserted)
			return err
		})
		require.NoError(t, err)
	}

	all, err := s.Attendance(ctx, AttendanceFilter{From: "2024-02-01", To: "2024-02-01"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.NotEqual(t, all[0].ID, all[1].ID)
	assert.Equal(t, model.Synced, all[0].SyncState)
}

func TestInsertAttendance_DayInStoreLocation(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	s, err := Open(filepath.Join(t.TempDir(), "tz.db"), Options{Dimension: testDim, Location: loc})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	a, err := s.PutIdentity(ctx, model.Identity{Name: "A", Roll: "R1", Embedding: vec(1, 0, 0, 0)})
	require.NoError(t, err)

	// 21:00 UTC on Jan 10 is 02:00 on Jan 11 at UTC+5.
	var rec model.AttendanceRecord
	err = s.RunInTx(ctx, func(tx *Tx) error {
		var err error
		rec, _, err = tx.InsertAttendance(ctx, model.AttendanceRecord{
			IdentityID: a.ID,
			Timestamp:  time.Date(2024, 1, 10, 21, 0, 0, 0, time.UTC),
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-11", rec.Day)

	all, err := s.Attendance(ctx, AttendanceFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Timestamp.Equal(rec.Timestamp))
}

func TestInsertAttendance_UnknownIdentityFailsAtCommit(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.RunInTx(ctx, func(tx *Tx) error {
		_, _, err := tx.InsertAttendance(ctx, model.AttendanceRecord{IdentityID: 99, Timestamp: testNow})
		return err
	})
	assert.ErrorIs(t, err, model.ErrConflict)

	all, err := s.Attendance(ctx, AttendanceFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func mustFindCapture(t *testing.T, s *Store, identityID int64, day string) model.AttendanceRecord {
	t.Helper()
	var rec model.AttendanceRecord
	err := s.RunInTx(context.Background(), func(tx *Tx) error {
		var err error
		rec, err = tx.CaptureForDay(context.Background(), identityID, day)
		return err
	})
	require.NoError(t, err)
	return rec
}
