package persistence

import (
	"context"
	"time"
)

// MessageRecord is the persisted form of a routed message. Body holds
// the serialized message content; the store never interprets it.
type MessageRecord struct {
	ID        string     `json:"id"`
	Topic     string     `json:"topic,omitempty"`
	From      string     `json:"from"`
	To        string     `json:"to,omitempty"`
	Type      string     `json:"type"`
	Body      []byte     `json:"body,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	AckedAt   *time.Time `json:"acked_at,omitempty"`
	Retries   int        `json:"retries,omitempty"`
}

// MessageStore persists routed messages for audit and redelivery.
type MessageStore interface {
	Store

	// SaveMessage persists a record.
	SaveMessage(ctx context.Context, rec *MessageRecord) error

	// GetMessage retrieves a record by ID.
	GetMessage(ctx context.Context, id string) (*MessageRecord, error)

	// ListByTopic returns up to limit most recent records on a topic,
	// oldest first.
	ListByTopic(ctx context.Context, topic string, limit int) ([]*MessageRecord, error)

	// AckMessage marks a record as processed.
	AckMessage(ctx context.Context, id string) error

	// IncrementRetry bumps the delivery retry counter.
	IncrementRetry(ctx context.Context, id string) error

	// Cleanup deletes acknowledged records older than the given age and
	// returns the number removed.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)
}
