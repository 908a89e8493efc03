package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollcall/internal/metrics"
	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/reconcile"
	"github.com/roach88/rollcall/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func createTestStore(t *testing.T, name string) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), name+".db"), store.Options{
		Dimension: 2,
		Location:  time.UTC,
		Now:       func() time.Time { return time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// startAuthority serves an authority over a fresh store.
func startAuthority(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	s := createTestStore(t, "authority")
	m := metrics.New()
	im, err := reconcile.NewImporter(s, reconcile.WithLogger(quietLogger()), reconcile.WithMetrics(m))
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(NewHandler(im, s, quietLogger()), m))
	t.Cleanup(srv.Close)
	return srv, s
}

func TestClient_PushAppliesBatch(t *testing.T) {
	srv, authority := startAuthority(t)
	client, err := NewClient(srv.URL+"/", 5*time.Second)
	require.NoError(t, err)
	ctx := context.Background()

	batch := model.Batch{
		ID:      "b-1",
		Station: "gate-1",
		Enrollments: []model.Enrollment{
			{Roll: "R1", Name: "A", Class: "X", Section: "1", Embedding: model.Embedding{0.125, -3.5}},
		},
		Entries: []model.Entry{
			{Roll: "R1", Name: "A", Class: "X", Section: "1", Timestamp: "2024-02-01T08:00:00"},
		},
	}
	ack, err := client.Push(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, model.Ack{BatchID: "b-1", Applied: 2}, ack)

	got, err := authority.IdentityByRoll(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, model.Embedding{0.125, -3.5}, got.Embedding)

	st, err := client.Status(ctx, "2024-02-01")
	require.NoError(t, err)
	assert.Equal(t, 1, st.PresentToday)
	assert.Equal(t, 1, st.SyncedAttendance)
	require.NotNil(t, st.LastSync)
}

func TestClient_RejectedBatch(t *testing.T) {
	srv, authority := startAuthority(t)
	client, err := NewClient(srv.URL, 5*time.Second)
	require.NoError(t, err)

	_, err = client.Push(context.Background(), model.Batch{ID: "b-bad", Entries: []model.Entry{
		{Roll: "R1", Name: "A", Timestamp: "not a time"},
	}})
	var serr *StatusError
	require.True(t, errors.As(err, &serr), "got %v", err)
	assert.Equal(t, http.StatusUnprocessableEntity, serr.StatusCode)
	assert.Equal(t, codeRejected, serr.Code)

	ids, err := authority.Identities(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestHandler_MalformedJSON(t *testing.T) {
	srv, _ := startAuthority(t)

	resp, err := http.Post(srv.URL+PathBatches, "application/json", strings.NewReader(`{"batch_id": 7}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2, err := http.Post(srv.URL+PathBatches, "application/json", strings.NewReader(`{"unknown": true}`))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	srv, _ := startAuthority(t)

	resp, err := http.Get(srv.URL + PathHealth)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	client, err := NewClient(srv.URL, time.Second)
	require.NoError(t, err)
	_, err = client.Push(context.Background(), model.Batch{ID: "b-1", Entries: []model.Entry{
		{Roll: "R1", Name: "A", Timestamp: "2024-02-01T08:00:00"},
	}})
	require.NoError(t, err)

	resp, err = http.Get(srv.URL + PathMetrics)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `rollcall_sync_batches_total{direction="import",result="success"} 1`)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{model.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{errors.Join(model.ErrSyncBatchFailure, model.ErrInvalidRecord), http.StatusUnprocessableEntity},
		{model.ErrSyncBatchFailure, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
	}
}

func TestNewClient_RequiresEndpoint(t *testing.T) {
	_, err := NewClient("  ", time.Second)
	assert.Error(t, err)
}

func TestCoordinatorOverHTTP(t *testing.T) {
	srv, authority := startAuthority(t)
	station := createTestStore(t, "station")
	ctx := context.Background()

	a, err := station.PutIdentity(ctx, model.Identity{Name: "A", Roll: "R1", Embedding: model.Embedding{1, 2}})
	require.NoError(t, err)
	err = station.RunInTx(ctx, func(tx *store.Tx) error {
		_, _, err := tx.InsertAttendance(ctx, model.AttendanceRecord{
			IdentityID: a.ID,
			Timestamp:  time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC),
		})
		return err
	})
	require.NoError(t, err)

	client, err := NewClient(srv.URL, 5*time.Second)
	require.NoError(t, err)
	coord, err := reconcile.NewCoordinator(station, client,
		reconcile.WithLogger(quietLogger()),
		reconcile.WithStation("gate-1"),
	)
	require.NoError(t, err)

	report, err := coord.PushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Records())

	st, err := station.Stats(ctx, "2024-02-01")
	require.NoError(t, err)
	assert.Zero(t, st.PendingAttendance)
	assert.Zero(t, st.PendingIdentities)

	remote, err := authority.AuditLog(ctx, 0)
	require.NoError(t, err)
	require.Len(t, remote, 1)
	assert.Equal(t, report.BatchID, remote[0].BatchID)
	assert.Equal(t, report.Digest, remote[0].Digest)

	srv.Close()
	_, err = station.PutIdentity(ctx, model.Identity{Name: "B", Roll: "R2", Embedding: model.Embedding{3, 4}})
	require.NoError(t, err)
	_, err = coord.PushPending(ctx)
	assert.ErrorIs(t, err, model.ErrSyncBatchFailure)
}
