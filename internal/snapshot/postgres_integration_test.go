//go:build integration

package snapshot_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/suite"

	"chronicle/internal/sentinel"
	"chronicle/internal/snapshot"
	"chronicle/internal/tenantguard"
	"chronicle/pkg/testutil"
	"chronicle/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite

	pc    *containers.PostgresContainer
	store *snapshot.PostgresStore
	ctx   context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pc = containers.GetManager().GetPostgres(s.T())
	s.store = snapshot.NewPostgres(tenantguard.New(s.pc.AppDB))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pc.TruncateAll(context.Background()))
	s.ctx = testutil.TenantContext()
}

func (s *PostgresStoreSuite) snapshotAt(version int64) *snapshot.Snapshot {
	return &snapshot.Snapshot{
		AggregateID:   testutil.TestIDs.AggregateID1,
		AggregateType: "account",
		Version:       version,
		State:         json.RawMessage(`{"balance":100}`),
	}
}

func (s *PostgresStoreSuite) TestSaveAndLoad() {
	s.Require().NoError(s.store.Save(s.ctx, s.snapshotAt(10)))

	snap, err := s.store.Load(s.ctx, testutil.TestIDs.AggregateID1)
	s.Require().NoError(err)
	s.Equal(int64(10), snap.Version)
	s.Equal("account", snap.AggregateType)
	s.JSONEq(`{"balance":100}`, string(snap.State))
	s.Equal(testutil.TestIDs.TenantID1, snap.TenantID)
}

func (s *PostgresStoreSuite) TestUpsertReplacesOlder() {
	s.Require().NoError(s.store.Save(s.ctx, s.snapshotAt(10)))
	s.Require().NoError(s.store.Save(s.ctx, s.snapshotAt(20)))

	snap, err := s.store.Load(s.ctx, testutil.TestIDs.AggregateID1)
	s.Require().NoError(err)
	s.Equal(int64(20), snap.Version)

	var count int
	s.Require().NoError(s.pc.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM snapshots`).Scan(&count))
	s.Equal(1, count, "at most one snapshot row per (tenant, aggregate)")
}

func (s *PostgresStoreSuite) TestNotFound() {
	_, err := s.store.Load(s.ctx, testutil.TestIDs.AggregateID2)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestTenantIsolation() {
	s.Require().NoError(s.store.Save(s.ctx, s.snapshotAt(10)))

	s.Run("another tenant gets not found", func() {
		other := testutil.ContextFor(testutil.TestIDs.TenantID2)
		_, err := s.store.Load(other, testutil.TestIDs.AggregateID1)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("no tenant context fails closed to not found", func() {
		_, err := s.store.Load(context.Background(), testutil.TestIDs.AggregateID1)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("save without tenant context is rejected", func() {
		err := s.store.Save(context.Background(), s.snapshotAt(11))
		s.ErrorIs(err, sentinel.ErrNoTenant)
	})
}
