package reconcile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollcall/internal/metrics"
	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/store"
)

func newTestImporter(t *testing.T, s *store.Store, opts ...Option) *Importer {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger()), WithClock(fixedClock)}, opts...)
	im, err := NewImporter(s, opts...)
	require.NoError(t, err)
	return im
}

func TestImportBatch_ScenarioD(t *testing.T) {
	s := createTestStore(t, "authority")
	im := newTestImporter(t, s)
	ctx := context.Background()

	batch := model.Batch{
		ID: "b-1",
		Entries: []model.Entry{{
			Roll: "R9", Name: "A", Class: "X", Section: "1", Timestamp: "2024-02-01T08:00:00",
		}},
	}

	for i := 0; i < 2; i++ {
		ack, err := im.ImportBatch(ctx, batch)
		require.NoError(t, err)
		assert.Equal(t, model.Ack{BatchID: "b-1", Applied: 1}, ack)
	}

	r9, err := s.IdentityByRoll(ctx, "R9")
	require.NoError(t, err)
	assert.False(t, r9.Enrolled(), "imported identities carry no embedding")
	assert.Equal(t, model.Synced, r9.SyncState)

	recs, err := s.Attendance(ctx, store.AttendanceFilter{IdentityID: r9.ID})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.NotEqual(t, recs[0].ID, recs[1].ID)
	for _, r := range recs {
		assert.Equal(t, model.SourceImport, r.Source)
		assert.Equal(t, model.Synced, r.SyncState)
		assert.Equal(t, "2024-02-01", r.Day)
	}

	ids, err := s.Identities(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 1, "the second import resolves the identity created by the first")

	audit, err := s.AuditLog(ctx, 0)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.Equal(t, model.DirectionImport, audit[0].Direction)
	assert.Equal(t, 1, audit[0].RecordsSynced)
}

func TestImportBatch_ResolvesExistingIdentity(t *testing.T) {
	s := createTestStore(t, "authority")
	im := newTestImporter(t, s)
	ctx := context.Background()
	existing := enroll(t, s, 0, "R1")

	_, err := im.ImportBatch(ctx, model.Batch{ID: "b-1", Entries: []model.Entry{
		{Roll: " R1", Name: "ignored", Timestamp: "2024-02-01 08:00:00"},
	}})
	require.NoError(t, err)

	recs, err := s.Attendance(ctx, store.AttendanceFilter{IdentityID: existing.ID})
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	got, err := s.Identity(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "Name R1", got.Name)
}

func TestImportBatch_EnrollmentsAttachEmbeddings(t *testing.T) {
	s := createTestStore(t, "authority")
	im := newTestImporter(t, s)
	ctx := context.Background()

	_, err := im.ImportBatch(ctx, model.Batch{ID: "b-1", Entries: []model.Entry{
		{Roll: "R1", Name: "A", Timestamp: "2024-02-01T08:00:00"},
	}})
	require.NoError(t, err)

	ack, err := im.ImportBatch(ctx, model.Batch{ID: "b-2", Enrollments: []model.Enrollment{
		{Roll: "R1", Name: "A", Embedding: model.Embedding{1, 2, 3}},
		{Roll: "R2", Name: "B", Class: "9", Embedding: model.Embedding{3, 2, 1}},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, ack.Applied)

	enrolled, err := s.Enrolled(ctx)
	require.NoError(t, err)
	require.Len(t, enrolled, 2)
	assert.Equal(t, model.Embedding{1, 2, 3}, enrolled[0].Embedding)
	assert.Equal(t, "9", enrolled[1].Class)
}

func TestImportBatch_AllOrNothing(t *testing.T) {
	s := createTestStore(t, "authority")
	m := metrics.New()
	im := newTestImporter(t, s, WithMetrics(m))
	ctx := context.Background()

	cases := map[string]model.Batch{
		"malformed timestamp": {ID: "bad-ts", Entries: []model.Entry{
			{Roll: "R1", Name: "A", Timestamp: "2024-02-01T08:00:00"},
			{Roll: "R2", Name: "B", Timestamp: "yesterday"},
		}},
		"empty roll": {ID: "bad-roll", Entries: []model.Entry{
			{Roll: "R1", Name: "A", Timestamp: "2024-02-01T08:00:00"},
			{Roll: "  ", Name: "B", Timestamp: "2024-02-01T08:00:00"},
		}},
		"missing name for new identity": {ID: "bad-name", Entries: []model.Entry{
			{Roll: "R1", Name: "A", Timestamp: "2024-02-01T08:00:00"},
			{Roll: "R2", Timestamp: "2024-02-01T08:00:00"},
		}},
		"wrong embedding dimension": {ID: "bad-dim", Enrollments: []model.Enrollment{
			{Roll: "R1", Name: "A", Embedding: model.Embedding{1, 2}},
		}},
	}

	for name, batch := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := im.ImportBatch(ctx, batch)
			assert.ErrorIs(t, err, model.ErrSyncBatchFailure)

			ids, err := s.Identities(ctx)
			require.NoError(t, err)
			assert.Empty(t, ids)
			recs, err := s.Attendance(ctx, store.AttendanceFilter{})
			require.NoError(t, err)
			assert.Empty(t, recs)
			audit, err := s.AuditLog(ctx, 0)
			require.NoError(t, err)
			assert.Empty(t, audit)
		})
	}

	assert.Equal(t, float64(len(cases)), testutil.ToFloat64(m.SyncBatches.WithLabelValues("import", "failure")))
}

func TestImportBatch_EmptyBatch(t *testing.T) {
	s := createTestStore(t, "authority")
	im := newTestImporter(t, s, WithIDGenerator(NewFixedGenerator("generated")))

	ack, err := im.ImportBatch(context.Background(), model.Batch{})
	require.NoError(t, err)
	assert.Equal(t, model.Ack{BatchID: "generated"}, ack)

	audit, err := s.AuditLog(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, audit)
}

func TestLocalAuthority_StationToAuthority(t *testing.T) {
	ctx := context.Background()
	station := createTestStore(t, "station")
	authority := createTestStore(t, "authority")

	a := enroll(t, station, 0, "R1")
	attend(t, station, a.ID, "2024-01-10T09:00:00")

	coord, err := NewCoordinator(station, LocalAuthority{Importer: newTestImporter(t, authority)},
		WithLogger(quietLogger()),
		WithIDGenerator(NewFixedGenerator("batch-1")),
		WithClock(fixedClock),
	)
	require.NoError(t, err)

	report, err := coord.PushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Records())

	remote, err := authority.IdentityByRoll(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, a.Embedding, remote.Embedding)

	recs, err := authority.Attendance(ctx, store.AttendanceFilter{IdentityID: remote.ID})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "2024-01-10", recs[0].Day)

	stationAudit, err := station.AuditLog(ctx, 0)
	require.NoError(t, err)
	authorityAudit, err := authority.AuditLog(ctx, 0)
	require.NoError(t, err)
	require.Len(t, stationAudit, 1)
	require.Len(t, authorityAudit, 1)
	assert.Equal(t, stationAudit[0].Digest, authorityAudit[0].Digest)
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", gen.Generate())
	assert.Equal(t, "b", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}

func TestUUIDv7Generator(t *testing.T) {
	gen := UUIDv7Generator{}
	first := gen.Generate()
	second := gen.Generate()
	assert.Len(t, first, 36)
	assert.NotEqual(t, first, second)
	assert.Less(t, first, second, "UUIDv7 ids sort by creation time")
}

func TestPush_AuthorityInAnotherZoneKeepsInstant(t *testing.T) {
	ctx := context.Background()
	ist := time.FixedZone("IST", 5*3600+1800)

	station, err := store.Open(filepath.Join(t.TempDir(), "station.db"), store.Options{
		Dimension: testDim,
		Location:  ist,
		Now:       fixedClock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { station.Close() })
	authority := createTestStore(t, "authority")

	a := enroll(t, station, 0, "R1")
	captured := time.Date(2024, 1, 10, 9, 0, 0, 0, ist)
	err = station.RunInTx(ctx, func(tx *store.Tx) error {
		_, _, err := tx.InsertAttendance(ctx, model.AttendanceRecord{IdentityID: a.ID, Timestamp: captured})
		return err
	})
	require.NoError(t, err)

	coord, err := NewCoordinator(station, LocalAuthority{Importer: newTestImporter(t, authority)},
		WithLogger(quietLogger()),
		WithIDGenerator(NewFixedGenerator("batch-tz")),
		WithClock(fixedClock),
	)
	require.NoError(t, err)
	_, err = coord.PushPending(ctx)
	require.NoError(t, err)

	r1, err := authority.IdentityByRoll(ctx, "R1")
	require.NoError(t, err)
	recs, err := authority.Attendance(ctx, store.AttendanceFilter{IdentityID: r1.ID})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Timestamp.Equal(captured), "got %s, want %s", recs[0].Timestamp, captured)
	assert.Equal(t, "2024-01-10", recs[0].Day)
}
