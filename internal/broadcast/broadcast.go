// Package broadcast fans applied mutations out to in-process subscribers
// (SSE and websocket streams). Delivery is best effort: a slow subscriber
// drops events and learns it lagged, and publishing never blocks the
// writer.
package broadcast

import (
	"sync"
	"time"

	"github.com/titan-aas/titan/internal/eventlog"
	"github.com/titan-aas/titan/pkg/aas"
	"github.com/titan-aas/titan/pkg/telemetry"
)

// Notification is the externally visible record of one applied mutation.
// It carries no payload; consumers re-fetch the entity if they need the
// body.
type Notification struct {
	EventID       string             `json:"eventId"`
	Kind          eventlog.EventKind `json:"kind"`
	EntityKind    aas.Kind           `json:"entityKind"`
	EntityID      string             `json:"entityId"`
	ETag          string             `json:"etag,omitempty"`
	CorrelationID string             `json:"correlationId,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
}

// Filter narrows a subscription. Zero fields match everything.
type Filter struct {
	EntityKind aas.Kind
	EntityID   string
	EventKind  eventlog.EventKind
}

func (f Filter) matches(n Notification) bool {
	if f.EntityKind != "" && f.EntityKind != n.EntityKind {
		return false
	}
	if f.EntityID != "" && f.EntityID != n.EntityID {
		return false
	}
	if f.EventKind != "" && f.EventKind != n.Kind {
		return false
	}
	return true
}

// Subscriber receives notifications on C until Close.
type Subscriber struct {
	// C delivers matching notifications. Closed by Close, never by the
	// broadcaster.
	C chan Notification

	b      *Broadcaster
	filter Filter

	mu     sync.Mutex
	lagged bool
	closed bool
}

// Lagged reports and clears the drop flag. Stream handlers surface it to
// the client so it can resynchronize with a fresh read.
func (s *Subscriber) Lagged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.lagged
	s.lagged = false
	return v
}

// Close detaches the subscriber and closes C.
func (s *Subscriber) Close() {
	s.b.remove(s)
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.C)
	}
	s.mu.Unlock()
}

// Broadcaster is the process-wide fan-out point. Only the single-writer
// worker publishes.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[*Subscriber]struct{}
	queue   int
	metrics *telemetry.Metrics
}

// New builds a broadcaster with per-subscriber queue capacity queueLen.
func New(queueLen int, m *telemetry.Metrics) *Broadcaster {
	if queueLen <= 0 {
		queueLen = 1024
	}
	return &Broadcaster{
		subs:    map[*Subscriber]struct{}{},
		queue:   queueLen,
		metrics: m,
	}
}

// Subscribe registers a new subscriber for notifications matching f.
func (b *Broadcaster) Subscribe(f Filter) *Subscriber {
	s := &Subscriber{
		C:      make(chan Notification, b.queue),
		b:      b,
		filter: f,
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *Broadcaster) remove(s *Subscriber) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Publish delivers n to every matching subscriber without blocking. A full
// queue drops the notification and flags the subscriber as lagged.
func (b *Broadcaster) Publish(n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !s.filter.matches(n) {
			continue
		}
		select {
		case s.C <- n:
			if b.metrics != nil {
				b.metrics.BroadcastDelivered.Inc()
			}
		default:
			s.mu.Lock()
			s.lagged = true
			s.mu.Unlock()
			if b.metrics != nil {
				b.metrics.BroadcastDropped.Inc()
			}
		}
	}
}

// Subscribers reports the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
