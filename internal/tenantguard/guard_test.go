package tenantguard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"chronicle/internal/sentinel"
)

type BinderSuite struct {
	suite.Suite
}

func TestBinderSuite(t *testing.T) {
	suite.Run(t, new(BinderSuite))
}

// TestStrictModeRejectsBeforeCheckout verifies the strict binder fails on a
// missing tenant before any connection is checked out: with no pool at all,
// Acquire must still return ErrNoTenant rather than touch the database.
// Behavior against a real pool is covered by the integration tests.
func (s *BinderSuite) TestStrictModeRejectsBeforeCheckout() {
	binder := New(nil, WithMode(ModeStrict))

	_, err := binder.Acquire(context.Background())
	s.ErrorIs(err, sentinel.ErrNoTenant)
}

func (s *BinderSuite) TestDefaultModeFailsClosed() {
	binder := New(nil)
	s.Equal(ModeFailClosed, binder.mode)
}
