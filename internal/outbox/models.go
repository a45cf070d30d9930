// Package outbox implements the transactional outbox for committed events.
//
// Event appends write outbox rows in the same transaction as the event rows;
// a polling worker relays them to Kafka so downstream read models can react
// to commits without ever observing an uncommitted event.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"chronicle/pkg/domain"
)

// Entry is one committed event awaiting publication.
type Entry struct {
	ID            uuid.UUID
	TenantID      domain.TenantID
	AggregateType string
	AggregateID   domain.AggregateID
	EventType     string
	Version       int64
	Payload       json.RawMessage
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

// NewEntry builds an unprocessed entry for a freshly committed event.
func NewEntry(tenantID domain.TenantID, aggregateType string, aggregateID domain.AggregateID, eventType string, version int64, payload json.RawMessage, createdAt time.Time) *Entry {
	return &Entry{
		ID:            uuid.New(),
		TenantID:      tenantID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Version:       version,
		Payload:       payload,
		CreatedAt:     createdAt,
	}
}
