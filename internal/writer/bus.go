package writer

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const resultsChannel = "titan:writer:results"

// Status is the terminal outcome of one event.
type Status string

const (
	// StatusApplied means the store changed.
	StatusApplied Status = "applied"
	// StatusNoOp means the event was a replay of an already applied write.
	StatusNoOp Status = "noop"
	// StatusConflict means a precondition failed: create-only on an
	// existing entity, or a stale etag.
	StatusConflict Status = "conflict"
	// StatusFailed means the event was dead-lettered.
	StatusFailed Status = "failed"
)

// Result is what a write handler waits for: the terminal outcome of the
// event it appended.
type Result struct {
	EventID string `json:"event_id"`
	Status  Status `json:"status"`
	ETag    string `json:"etag,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Bus carries apply results from the writer to waiting handlers. Results
// travel over Redis pub/sub so a handler gets its answer no matter which
// instance holds the writer lease.
type Bus struct {
	rdb *redis.Client
	log *zap.Logger

	mu      sync.Mutex
	waiters map[string]chan Result
}

// NewBus connects the result bus.
func NewBus(url string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		rdb:     redis.NewClient(opts),
		log:     logger,
		waiters: map[string]chan Result{},
	}, nil
}

// Close releases the client.
func (b *Bus) Close() error { return b.rdb.Close() }

// Run subscribes and dispatches results to local waiters until ctx ends.
func (b *Bus) Run(ctx context.Context) {
	sub := b.rdb.Subscribe(ctx, resultsChannel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var r Result
			if err := json.Unmarshal([]byte(msg.Payload), &r); err != nil {
				b.log.Warn("undecodable result", zap.Error(err))
				continue
			}
			b.fulfill(r)
		}
	}
}

// Register opens a waiter for an event id. Must be called before the event
// is appended; cancel releases the slot when the caller gives up.
func (b *Bus) Register(eventID string) (<-chan Result, func()) {
	ch := make(chan Result, 1)
	b.mu.Lock()
	b.waiters[eventID] = ch
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.waiters, eventID)
		b.mu.Unlock()
	}
}

func (b *Bus) fulfill(r Result) {
	b.mu.Lock()
	ch, ok := b.waiters[r.EventID]
	if ok {
		delete(b.waiters, r.EventID)
	}
	b.mu.Unlock()
	if ok {
		ch <- r
	}
}

// Publish announces a terminal outcome. Fulfills local waiters directly so
// a single-instance deployment works even if pub/sub lags.
func (b *Bus) Publish(ctx context.Context, r Result) {
	b.fulfill(r)
	payload, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := b.rdb.Publish(ctx, resultsChannel, payload).Err(); err != nil {
		b.log.Warn("result publish failed", zap.String("event_id", r.EventID), zap.Error(err))
	}
}
