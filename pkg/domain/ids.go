// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"fmt"

	"github.com/google/uuid"

	"chronicle/internal/sentinel"
)

// Distinct ID types - compiler prevents passing a UserID where a TenantID is expected.
type (
	TenantID      uuid.UUID
	AggregateID   uuid.UUID
	UserID        uuid.UUID
	CorrelationID uuid.UUID
)

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseTenantID(s string) (TenantID, error) {
	id, err := parseUUID(s, "tenant ID")
	return TenantID(id), err
}

func ParseAggregateID(s string) (AggregateID, error) {
	id, err := parseUUID(s, "aggregate ID")
	return AggregateID(id), err
}

func ParseUserID(s string) (UserID, error) {
	id, err := parseUUID(s, "user ID")
	return UserID(id), err
}

func ParseCorrelationID(s string) (CorrelationID, error) {
	id, err := parseUUID(s, "correlation ID")
	return CorrelationID(id), err
}

// New functions - for freshly minted identifiers.

func NewTenantID() TenantID           { return TenantID(uuid.New()) }
func NewAggregateID() AggregateID     { return AggregateID(uuid.New()) }
func NewUserID() UserID               { return UserID(uuid.New()) }
func NewCorrelationID() CorrelationID { return CorrelationID(uuid.New()) }

// String methods - for logging and debugging.

func (id TenantID) String() string      { return uuid.UUID(id).String() }
func (id AggregateID) String() string   { return uuid.UUID(id).String() }
func (id UserID) String() string        { return uuid.UUID(id).String() }
func (id CorrelationID) String() string { return uuid.UUID(id).String() }

// IsNil checks - used for service-layer validation.

func (id TenantID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id AggregateID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id CorrelationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// parseUUID is the shared validation logic.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, fmt.Errorf("%s cannot be empty: %w", label, sentinel.ErrInvalidInput)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s format: %w", label, sentinel.ErrInvalidInput)
	}
	return id, nil
}
