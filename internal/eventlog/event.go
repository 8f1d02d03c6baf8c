package eventlog

import (
	"time"

	"github.com/google/uuid"

	"github.com/titan-aas/titan/pkg/aas"
)

// EventKind is the mutation type carried by an event.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// Event is one durable mutation record. Events are appended by HTTP write
// handlers and consumed only by the single-writer worker; they are the sole
// path by which the store changes.
type Event struct {
	ID         string
	Timestamp  time.Time
	Kind       EventKind
	EntityKind aas.Kind
	EntityID   string

	// ETagBefore, when set, makes the apply conditional on the current
	// stored etag. ETagAfter is the etag of the payload being written.
	ETagBefore string
	ETagAfter  string
	// CreateOnly makes the apply fail when the entity already exists.
	CreateOnly bool

	CorrelationID string

	// Payload is the canonical byte form for created/updated, empty for
	// deleted. Large payloads travel by reference, transparently to
	// consumers.
	Payload []byte
}

// NewEvent stamps identity and time on a mutation record.
func NewEvent(kind EventKind, entityKind aas.Kind, entityID string) Event {
	return Event{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Kind:       kind,
		EntityKind: entityKind,
		EntityID:   entityID,
	}
}

// Delivered is an event read from a consumer group, with its redelivery
// bookkeeping.
type Delivered struct {
	// StreamID is the Redis stream entry id, used to ack.
	StreamID string
	// Retries counts deliveries beyond the first.
	Retries int64
	Event   Event
}
