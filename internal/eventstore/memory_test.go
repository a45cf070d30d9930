package eventstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"chronicle/internal/eventstore"
	"chronicle/internal/sentinel"
	"chronicle/pkg/tenantcontext"
	"chronicle/pkg/testutil"
)

// MemoryStoreSuite tests the in-memory store's append-only and tenant
// isolation semantics, which mirror the PostgreSQL store.
type MemoryStoreSuite struct {
	suite.Suite

	store *eventstore.InMemoryStore
	ctx   context.Context
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = eventstore.NewInMemory()
	s.ctx = testutil.TenantContext()
}

func (s *MemoryStoreSuite) TestAppend() {
	aggregateID := testutil.TestIDs.AggregateID1

	s.Run("assigns contiguous versions from 1", func() {
		version, err := s.store.Append(s.ctx, "thing", aggregateID, []eventstore.Event{
			thingRenamed{Name: "a"},
			thingRenamed{Name: "b"},
		}, 0)
		s.Require().NoError(err)
		s.Equal(int64(2), version)

		events, err := s.store.Load(s.ctx, aggregateID)
		s.Require().NoError(err)
		s.Require().Len(events, 2)
		s.Equal(int64(1), events[0].Version)
		s.Equal(int64(2), events[1].Version)
	})

	s.Run("continues from the current version", func() {
		version, err := s.store.Append(s.ctx, "thing", aggregateID, []eventstore.Event{thingArchived{}}, 2)
		s.Require().NoError(err)
		s.Equal(int64(3), version)
	})

	s.Run("stale expected version conflicts", func() {
		_, err := s.store.Append(s.ctx, "thing", aggregateID, []eventstore.Event{thingArchived{}}, 1)
		s.Require().Error(err)
		s.True(eventstore.IsConflict(err))

		var conflict *eventstore.ConflictError
		s.Require().ErrorAs(err, &conflict)
		s.Equal(int64(1), conflict.Expected)
		s.Equal(int64(3), conflict.Actual)
	})

	s.Run("failed batch leaves no partial writes", func() {
		events, err := s.store.Load(s.ctx, aggregateID)
		s.Require().NoError(err)
		s.Len(events, 3)
	})

	s.Run("empty batch is invalid input", func() {
		_, err := s.store.Append(s.ctx, "thing", aggregateID, nil, 3)
		s.ErrorIs(err, sentinel.ErrInvalidInput)
	})

	s.Run("negative expected version is invalid input", func() {
		_, err := s.store.Append(s.ctx, "thing", aggregateID, []eventstore.Event{thingArchived{}}, -1)
		s.ErrorIs(err, sentinel.ErrInvalidInput)
		s.False(eventstore.IsConflict(err))
	})

	s.Run("missing tenant context is rejected", func() {
		_, err := s.store.Append(context.Background(), "thing", aggregateID, []eventstore.Event{thingArchived{}}, 3)
		s.ErrorIs(err, sentinel.ErrNoTenant)
	})
}

func (s *MemoryStoreSuite) TestConcurrentAppendExactlyOneWins() {
	aggregateID := testutil.TestIDs.AggregateID1
	_, err := s.store.Append(s.ctx, "thing", aggregateID, []eventstore.Event{thingRenamed{Name: "base"}}, 0)
	s.Require().NoError(err)

	result := testutil.RunConcurrent(10, func(idx int) error {
		_, err := s.store.Append(s.ctx, "thing", aggregateID, []eventstore.Event{thingArchived{}}, 1)
		return err
	})

	s.Equal(int32(1), result.Successes, "exactly one writer must win the version race")
	s.Equal(int32(9), result.Conflicts)
	s.Equal(int32(0), result.Errors)

	version, err := s.store.CurrentVersion(s.ctx, aggregateID)
	s.Require().NoError(err)
	s.Equal(int64(2), version)
}

func (s *MemoryStoreSuite) TestLoadFrom() {
	aggregateID := testutil.TestIDs.AggregateID1
	_, err := s.store.Append(s.ctx, "thing", aggregateID, []eventstore.Event{
		thingRenamed{Name: "a"},
		thingRenamed{Name: "b"},
		thingRenamed{Name: "c"},
	}, 0)
	s.Require().NoError(err)

	s.Run("returns events strictly after fromVersion", func() {
		events, err := s.store.LoadFrom(s.ctx, aggregateID, 1)
		s.Require().NoError(err)
		s.Require().Len(events, 2)
		s.Equal(int64(2), events[0].Version)
		s.Equal(int64(3), events[1].Version)
	})

	s.Run("fromVersion at head yields empty", func() {
		events, err := s.store.LoadFrom(s.ctx, aggregateID, 3)
		s.Require().NoError(err)
		s.Empty(events)
	})

	s.Run("negative fromVersion reads the full history", func() {
		var events []eventstore.StoredEvent
		s.NotPanics(func() {
			var err error
			events, err = s.store.LoadFrom(s.ctx, aggregateID, -1)
			s.Require().NoError(err)
		})
		s.Len(events, 3)
	})

	s.Run("unknown aggregate yields empty, not an error", func() {
		events, err := s.store.Load(s.ctx, testutil.TestIDs.AggregateID2)
		s.Require().NoError(err)
		s.Empty(events)
	})
}

func (s *MemoryStoreSuite) TestTenantIsolation() {
	aggregateID := testutil.TestIDs.AggregateID1
	_, err := s.store.Append(s.ctx, "thing", aggregateID, []eventstore.Event{thingRenamed{Name: "mine"}}, 0)
	s.Require().NoError(err)

	s.Run("another tenant sees nothing", func() {
		other := testutil.ContextFor(testutil.TestIDs.TenantID2)
		events, err := s.store.Load(other, aggregateID)
		s.Require().NoError(err)
		s.Empty(events)
	})

	s.Run("another tenant appends an independent stream", func() {
		other := testutil.ContextFor(testutil.TestIDs.TenantID2)
		version, err := s.store.Append(other, "thing", aggregateID, []eventstore.Event{thingRenamed{Name: "theirs"}}, 0)
		s.Require().NoError(err)
		s.Equal(int64(1), version)
	})

	s.Run("no tenant context reads fail closed to empty", func() {
		events, err := s.store.Load(context.Background(), aggregateID)
		s.Require().NoError(err)
		s.Empty(events)
	})
}

func (s *MemoryStoreSuite) TestStrictMode() {
	store := eventstore.NewInMemory(eventstore.WithStrictTenant())

	_, err := store.Load(context.Background(), testutil.TestIDs.AggregateID1)
	s.ErrorIs(err, sentinel.ErrNoTenant)

	_, err = store.CurrentVersion(context.Background(), testutil.TestIDs.AggregateID1)
	s.ErrorIs(err, sentinel.ErrNoTenant)
}

func (s *MemoryStoreSuite) TestMetadata() {
	ctx := tenantcontext.WithUser(s.ctx, testutil.TestIDs.UserID1)
	ctx = tenantcontext.WithCorrelation(ctx, testutil.TestIDs.CorrelationID1)

	_, err := s.store.Append(ctx, "thing", testutil.TestIDs.AggregateID1, []eventstore.Event{thingArchived{}}, 0)
	s.Require().NoError(err)

	events, err := s.store.Load(s.ctx, testutil.TestIDs.AggregateID1)
	s.Require().NoError(err)
	s.Require().Len(events, 1)

	meta := events[0].Metadata
	s.Equal(testutil.TestIDs.TenantID1, meta.TenantID)
	s.Equal(testutil.TestIDs.UserID1, meta.UserID)
	s.Equal(testutil.TestIDs.CorrelationID1, meta.CorrelationID)
	s.False(meta.OccurredAt.IsZero())
}
