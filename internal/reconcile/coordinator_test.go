package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/roach88/rollcall/internal/metrics"
	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/reconcile/mocks"
	"github.com/roach88/rollcall/internal/reindex"
	"github.com/roach88/rollcall/internal/store"
)

// =============================================================================
// Coordinator Test Suite
// =============================================================================
// The authority is mocked so each test controls exactly what is acknowledged
// and can mutate the station store while a batch is in flight.

type CoordinatorSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	authority *mocks.MockAuthority
	store     *store.Store
	metrics   *metrics.Metrics
	coord     *Coordinator
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.authority = mocks.NewMockAuthority(s.ctrl)
	s.store = createTestStore(s.T(), "station")
	s.metrics = metrics.New()
	s.newCoordinator("batch-1", "batch-2", "batch-3")
}

func (s *CoordinatorSuite) newCoordinator(ids ...string) {
	var err error
	s.coord, err = NewCoordinator(s.store, s.authority,
		WithLogger(quietLogger()),
		WithIDGenerator(NewFixedGenerator(ids...)),
		WithClock(fixedClock),
		WithStation("gate-1"),
		WithMetrics(s.metrics),
	)
	s.Require().NoError(err)
}

func (s *CoordinatorSuite) TearDownTest() {
	s.ctrl.Finish()
}

// ackAll acknowledges every batch in full.
func ackAll(_ context.Context, b model.Batch) (model.Ack, error) {
	return model.Ack{BatchID: b.ID, Applied: b.Len()}, nil
}

func (s *CoordinatorSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := NewCoordinator(nil, s.authority)
		s.ErrorContains(err, "store is required")
	})

	s.Run("nil authority returns error", func() {
		_, err := NewCoordinator(s.store, nil)
		s.ErrorContains(err, "authority is required")
	})
}

func (s *CoordinatorSuite) TestPushPending_NothingPending() {
	report, err := s.coord.PushPending(context.Background())
	s.Require().NoError(err)
	s.Empty(report.BatchID)

	audit, err := s.store.AuditLog(context.Background(), 0)
	s.Require().NoError(err)
	s.Empty(audit, "an empty snapshot is not a batch")
}

func (s *CoordinatorSuite) TestPushPending_MarksBatchSyncedAndAudits() {
	ctx := context.Background()
	a := enroll(s.T(), s.store, 0, "R1")
	enroll(s.T(), s.store, 0, "R2")
	attend(s.T(), s.store, a.ID, "2024-01-10T09:00:00")

	var sent model.Batch
	s.authority.EXPECT().Push(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, b model.Batch) (model.Ack, error) {
			sent = b
			return ackAll(ctx, b)
		})

	report, err := s.coord.PushPending(ctx)
	s.Require().NoError(err)

	s.Equal("batch-1", sent.ID)
	s.Equal("gate-1", sent.Station)
	s.Require().Len(sent.Enrollments, 2)
	s.Equal(a.Embedding, sent.Enrollments[0].Embedding)
	s.Equal([]model.Entry{{
		Roll: "R1", Name: "Name R1", Class: "10", Section: "A", Timestamp: "2024-01-10T09:00:00Z",
	}}, sent.Entries)

	s.Equal(3, report.Records())
	digest, err := model.BatchDigest(sent)
	s.Require().NoError(err)
	s.Equal(digest, report.Digest)

	pi, pa := pendingCounts(s.T(), s.store)
	s.Zero(pi)
	s.Zero(pa)

	audit, err := s.store.AuditLog(ctx, 0)
	s.Require().NoError(err)
	s.Require().Len(audit, 1)
	s.Equal("batch-1", audit[0].BatchID)
	s.Equal(model.DirectionPush, audit[0].Direction)
	s.Equal(3, audit[0].RecordsSynced)
	s.Equal(digest, audit[0].Digest)
	s.True(audit[0].Timestamp.Equal(testNow))
}

func (s *CoordinatorSuite) TestPushPending_TransmissionFailureChangesNothing() {
	ctx := context.Background()
	a := enroll(s.T(), s.store, 0, "R1")
	attend(s.T(), s.store, a.ID, "2024-01-10T09:00:00")

	s.authority.EXPECT().Push(gomock.Any(), gomock.Any()).
		Return(model.Ack{}, errors.New("connection refused"))

	_, err := s.coord.PushPending(ctx)
	s.ErrorIs(err, model.ErrSyncBatchFailure)

	pi, pa := pendingCounts(s.T(), s.store)
	s.Equal(1, pi)
	s.Equal(1, pa)
	audit, err := s.store.AuditLog(ctx, 0)
	s.Require().NoError(err)
	s.Empty(audit)

	s.Run("retry sends the same records under a new batch id", func() {
		var sent model.Batch
		s.authority.EXPECT().Push(gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, b model.Batch) (model.Ack, error) {
				sent = b
				return ackAll(ctx, b)
			})

		report, err := s.coord.PushPending(ctx)
		s.Require().NoError(err)
		s.Equal("batch-2", sent.ID)
		s.Equal(2, report.Records())
	})
}

func (s *CoordinatorSuite) TestPushPending_BadAckIsFailure() {
	ctx := context.Background()
	a := enroll(s.T(), s.store, 0, "R1")
	attend(s.T(), s.store, a.ID, "2024-01-10T09:00:00")

	s.Run("partial apply", func() {
		s.authority.EXPECT().Push(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, b model.Batch) (model.Ack, error) {
				return model.Ack{BatchID: b.ID, Applied: b.Len() - 1}, nil
			})
		_, err := s.coord.PushPending(ctx)
		s.ErrorIs(err, model.ErrSyncBatchFailure)
	})

	s.Run("other batch id", func() {
		s.authority.EXPECT().Push(gomock.Any(), gomock.Any()).
			Return(model.Ack{BatchID: "someone-else", Applied: 2}, nil)
		_, err := s.coord.PushPending(ctx)
		s.ErrorIs(err, model.ErrSyncBatchFailure)
	})

	pi, pa := pendingCounts(s.T(), s.store)
	s.Equal(1, pi)
	s.Equal(1, pa)
}

func (s *CoordinatorSuite) TestPushPending_RowsCreatedInFlightStayPending() {
	ctx := context.Background()
	a := enroll(s.T(), s.store, 0, "R1")
	attend(s.T(), s.store, a.ID, "2024-01-10T09:00:00")

	var late model.Identity
	s.authority.EXPECT().Push(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, b model.Batch) (model.Ack, error) {
			// Another scan lands while the batch is on the wire.
			late = enroll(s.T(), s.store, 0, "R2")
			attend(s.T(), s.store, late.ID, "2024-01-10T09:30:00")
			return ackAll(ctx, b)
		})

	report, err := s.coord.PushPending(ctx)
	s.Require().NoError(err)
	s.Equal(2, report.Records())

	first, err := s.store.IdentityByRoll(ctx, "R1")
	s.Require().NoError(err)
	s.Equal(model.Synced, first.SyncState)
	second, err := s.store.IdentityByRoll(ctx, "R2")
	s.Require().NoError(err)
	s.Equal(model.Pending, second.SyncState)

	pi, pa := pendingCounts(s.T(), s.store)
	s.Equal(1, pi)
	s.Equal(1, pa)

	var next model.Batch
	s.authority.EXPECT().Push(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, b model.Batch) (model.Ack, error) {
			next = b
			return ackAll(ctx, b)
		})
	_, err = s.coord.PushPending(ctx)
	s.Require().NoError(err)
	s.Require().Len(next.Enrollments, 1)
	s.Equal("R2", next.Enrollments[0].Roll)
	s.Require().Len(next.Entries, 1)
	s.Equal("R2", next.Entries[0].Roll)
}

func (s *CoordinatorSuite) TestPushPending_ReEnrolledRollInFlightStaysPending() {
	ctx := context.Background()
	first := enroll(s.T(), s.store, 0, "R1")

	var late model.Identity
	s.authority.EXPECT().Push(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, b model.Batch) (model.Ack, error) {
			// R1 is removed and a different person enrolled under the same
			// roll while the batch is on the wire.
			_, err := s.store.RemoveIdentity(ctx, first.ID)
			s.Require().NoError(err)
			late, err = s.store.PutIdentity(ctx, model.Identity{
				Name: "Other", Roll: "R1", Embedding: model.Embedding{9, 9, 9},
			})
			s.Require().NoError(err)
			return ackAll(ctx, b)
		})

	_, err := s.coord.PushPending(ctx)
	s.Require().NoError(err)

	got, err := s.store.Identity(ctx, late.ID)
	s.Require().NoError(err)
	s.Equal("Other", got.Name)
	s.Equal(model.Pending, got.SyncState, "the re-enrolled row was never transmitted")

	var next model.Batch
	s.authority.EXPECT().Push(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, b model.Batch) (model.Ack, error) {
			next = b
			return ackAll(ctx, b)
		})
	_, err = s.coord.PushPending(ctx)
	s.Require().NoError(err)
	s.Require().Len(next.Enrollments, 1)
	s.Equal("Other", next.Enrollments[0].Name)
}

func (s *CoordinatorSuite) TestPushPending_RollEditedInFlightStaysPending() {
	ctx := context.Background()
	a := enroll(s.T(), s.store, 0, "R1")

	s.authority.EXPECT().Push(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, b model.Batch) (model.Ack, error) {
			roll := "R1-NEW"
			_, err := s.store.UpdateIdentity(ctx, a.ID, model.IdentityPatch{Roll: &roll})
			s.Require().NoError(err)
			return ackAll(ctx, b)
		})

	_, err := s.coord.PushPending(ctx)
	s.Require().NoError(err)

	got, err := s.store.Identity(ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(model.Pending, got.SyncState, "the authority only knows the old roll")
}

func (s *CoordinatorSuite) TestPushPending_ReindexInFlight() {
	ctx := context.Background()
	a := enroll(s.T(), s.store, 5, "R5")
	b := enroll(s.T(), s.store, 9, "R9")
	attend(s.T(), s.store, a.ID, "2024-01-10T09:00:00")
	attend(s.T(), s.store, b.ID, "2024-01-10T09:10:00")

	s.authority.EXPECT().Push(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, batch model.Batch) (model.Ack, error) {
			_, err := reindex.New(s.store, quietLogger()).ReassignIDs(ctx)
			s.Require().NoError(err)
			return ackAll(ctx, batch)
		})

	_, err := s.coord.PushPending(ctx)
	s.Require().NoError(err)

	pi, pa := pendingCounts(s.T(), s.store)
	s.Zero(pi)
	s.Zero(pa)

	moved, err := s.store.IdentityByRoll(ctx, "R9")
	s.Require().NoError(err)
	s.Equal(int64(2), moved.ID)
}

func (s *CoordinatorSuite) TestRun_StopsOnCancel() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.coord.Run(ctx, 1)
	s.ErrorIs(err, context.Canceled)

	s.Error(s.coord.Run(context.Background(), 0))
}
