package station

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollcall/internal/ledger"
	"github.com/roach88/rollcall/internal/matcher"
	"github.com/roach88/rollcall/internal/metrics"
	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/store"
)

var captureTime = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

func createTestStation(t *testing.T) (*Station, *store.Store, *metrics.Metrics) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "station.db"), store.Options{
		Dimension: 2,
		Location:  time.UTC,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	m := metrics.New()
	st := New(s, Config{Tolerance: 0.6, Workers: 2}, m, slog.New(slog.NewTextHandler(io.Discard, nil)))
	st.WithClock(func() time.Time { return captureTime })
	return st, s, m
}

func TestScan_MultipleFaces(t *testing.T) {
	st, s, m := createTestStation(t)
	ctx := context.Background()

	a, err := st.Enroll(ctx, model.Identity{Name: "A", Roll: "R1", Embedding: model.Embedding{0, 0}})
	require.NoError(t, err)
	b, err := st.Enroll(ctx, model.Identity{Name: "B", Roll: "R2", Embedding: model.Embedding{5, 5}})
	require.NoError(t, err)

	results, err := st.Scan(ctx, []model.Embedding{{0.1, 0}, {2.5, 2.5}, {5, 5.2}, {0, 0.1}}, time.Time{})
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, a.ID, results[0].Match.Identity.ID)
	require.NotNil(t, results[0].Attendance)
	assert.Equal(t, ledger.StatusRecorded, results[0].Attendance.Status)

	assert.Equal(t, matcher.OutcomeNoMatch, results[1].Match.Outcome)
	assert.Nil(t, results[1].Attendance)

	assert.Equal(t, b.ID, results[2].Match.Identity.ID)
	assert.Equal(t, ledger.StatusRecorded, results[2].Attendance.Status)

	// Same person twice in one frame.
	assert.Equal(t, ledger.StatusAlreadyMarked, results[3].Attendance.Status)

	recs, err := s.Attendance(ctx, store.AttendanceFilter{From: "2024-01-10", To: "2024-01-10"})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.MatchOutcome.WithLabelValues("matched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Attendance.WithLabelValues("already_marked")))
}

func TestScan_NoEnrollment(t *testing.T) {
	st, _, _ := createTestStation(t)

	results, err := st.Scan(context.Background(), []model.Embedding{{0, 0}}, captureTime)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, matcher.OutcomeNoEnrollment, results[0].Match.Outcome)
	assert.Nil(t, results[0].Attendance)
}

func TestScan_CancelledHasNoSideEffect(t *testing.T) {
	st, s, _ := createTestStation(t)
	_, err := st.Enroll(context.Background(), model.Identity{Name: "A", Roll: "R1", Embedding: model.Embedding{0, 0}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = st.Scan(ctx, []model.Embedding{{0, 0}}, captureTime)
	require.Error(t, err)

	recs, err := s.Attendance(context.Background(), store.AttendanceFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestScan_DimensionMismatch(t *testing.T) {
	st, _, _ := createTestStation(t)

	_, err := st.Scan(context.Background(), []model.Embedding{{0, 0, 0}}, captureTime)
	assert.ErrorIs(t, err, model.ErrDimensionMismatch)
}

func TestRecord_Direct(t *testing.T) {
	st, _, _ := createTestStation(t)
	ctx := context.Background()
	a, err := st.Enroll(ctx, model.Identity{Name: "A", Roll: "R1", Embedding: model.Embedding{0, 0}})
	require.NoError(t, err)

	res, err := st.Record(ctx, a.ID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRecorded, res.Status)
	assert.Equal(t, "2024-01-10", res.Record.Day)
}
