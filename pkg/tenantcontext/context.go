// Package tenantcontext carries the current tenant identity (and related
// request metadata) through context.Context.
//
// The carrier is an explicit context value, never a thread-local: it survives
// goroutine hand-offs and suspension points because every call in the storage
// path threads the same ctx. Any code path that reaches the storage boundary
// without a tenant attached is treated as having no tenant at all - the
// storage layer then fails closed (zero rows) or loudly (strict mode).
package tenantcontext

import (
	"context"
	"fmt"

	"chronicle/internal/sentinel"
	"chronicle/pkg/domain"
)

type tenantKey struct{}
type userKey struct{}
type correlationKey struct{}

// WithTenant returns a context carrying the given tenant identity.
func WithTenant(ctx context.Context, tenantID domain.TenantID) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// FromContext extracts the tenant identity, reporting whether one is bound.
// A nil tenant ID is treated as unbound.
func FromContext(ctx context.Context) (domain.TenantID, bool) {
	tenantID, ok := ctx.Value(tenantKey{}).(domain.TenantID)
	if !ok || tenantID.IsNil() {
		return domain.TenantID{}, false
	}
	return tenantID, true
}

// Require extracts the tenant identity or fails with sentinel.ErrNoTenant.
// Use at entry points that must never operate tenant-unscoped.
func Require(ctx context.Context) (domain.TenantID, error) {
	tenantID, ok := FromContext(ctx)
	if !ok {
		return domain.TenantID{}, fmt.Errorf("tenant context: %w", sentinel.ErrNoTenant)
	}
	return tenantID, nil
}

// WithUser returns a context carrying the acting user for event metadata.
func WithUser(ctx context.Context, userID domain.UserID) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext extracts the acting user, if any.
func UserFromContext(ctx context.Context) (domain.UserID, bool) {
	userID, ok := ctx.Value(userKey{}).(domain.UserID)
	if !ok || userID.IsNil() {
		return domain.UserID{}, false
	}
	return userID, true
}

// WithCorrelation returns a context carrying a correlation ID for event metadata.
func WithCorrelation(ctx context.Context, correlationID domain.CorrelationID) context.Context {
	return context.WithValue(ctx, correlationKey{}, correlationID)
}

// CorrelationFromContext extracts the correlation ID, if any.
func CorrelationFromContext(ctx context.Context) (domain.CorrelationID, bool) {
	correlationID, ok := ctx.Value(correlationKey{}).(domain.CorrelationID)
	if !ok || correlationID.IsNil() {
		return domain.CorrelationID{}, false
	}
	return correlationID, true
}
