// Package testutil provides shared fixtures and helpers for tests.
package testutil

import (
	"context"

	"github.com/google/uuid"

	"chronicle/pkg/domain"
	"chronicle/pkg/tenantcontext"
)

// TestIDs provides convenient pre-generated IDs for tests.
// Use these for deterministic test data.
var TestIDs = struct {
	TenantID1      domain.TenantID
	TenantID2      domain.TenantID
	AggregateID1   domain.AggregateID
	AggregateID2   domain.AggregateID
	UserID1        domain.UserID
	CorrelationID1 domain.CorrelationID
}{
	TenantID1:      domain.TenantID(uuid.MustParse("aaaa0000-0000-0000-0000-000000000001")),
	TenantID2:      domain.TenantID(uuid.MustParse("aaaa0000-0000-0000-0000-000000000002")),
	AggregateID1:   domain.AggregateID(uuid.MustParse("bbbb0000-0000-0000-0000-000000000001")),
	AggregateID2:   domain.AggregateID(uuid.MustParse("bbbb0000-0000-0000-0000-000000000002")),
	UserID1:        domain.UserID(uuid.MustParse("11111111-1111-1111-1111-111111111111")),
	CorrelationID1: domain.CorrelationID(uuid.MustParse("cccc0000-0000-0000-0000-000000000001")),
}

// TenantContext returns a background context carrying TestIDs.TenantID1.
func TenantContext() context.Context {
	return tenantcontext.WithTenant(context.Background(), TestIDs.TenantID1)
}

// ContextFor returns a background context carrying the given tenant.
func ContextFor(tenantID domain.TenantID) context.Context {
	return tenantcontext.WithTenant(context.Background(), tenantID)
}
