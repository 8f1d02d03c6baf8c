// Package writer is the single mutation path of the system. One instance
// at a time (under the writer lease) consumes the event log and is the
// only code that writes the store or invalidates the cache.
//
// Apply order per event: validate preconditions against the store, apply,
// invalidate cache, broadcast, publish the result, ack. Cache and
// broadcast failures never block the ack; the store is the source of
// truth and the cache heals by TTL.
package writer

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/titan-aas/titan/internal/broadcast"
	"github.com/titan-aas/titan/internal/cache"
	"github.com/titan-aas/titan/internal/eventlog"
	"github.com/titan-aas/titan/internal/store"
	"github.com/titan-aas/titan/pkg/aas"
	"github.com/titan-aas/titan/pkg/canonical"
	"github.com/titan-aas/titan/pkg/idcodec"
	"github.com/titan-aas/titan/pkg/telemetry"
)

// Group is the consumer group name of the writer.
const Group = "titan-writer"

const (
	backoffBase = 100 * time.Millisecond
	backoffCap  = 30 * time.Second
	readBlock   = 2 * time.Second
)

// Writer consumes the event log and applies mutations.
type Writer struct {
	events *eventlog.Log
	store  *store.Store
	cache  *cache.Cache
	bcast  *broadcast.Broadcaster
	bus    *Bus

	consumer     string
	maxRetries   int
	claimTimeout time.Duration
	batch        int
	depthLimit   int

	log     *zap.Logger
	metrics *telemetry.Metrics
}

// Options configures New. Cache and Broadcaster may be nil in tests.
type Options struct {
	Events       *eventlog.Log
	Store        *store.Store
	Cache        *cache.Cache
	Broadcaster  *broadcast.Broadcaster
	Bus          *Bus
	Consumer     string
	MaxRetries   int
	ClaimTimeout time.Duration
	Batch        int
	// DepthLimit is the element depth cap payloads were validated under
	// (0 means the default).
	DepthLimit int
	Logger     *zap.Logger
	Metrics    *telemetry.Metrics
}

// New builds a writer.
func New(opts Options) *Writer {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.ClaimTimeout <= 0 {
		opts.ClaimTimeout = 30 * time.Second
	}
	if opts.Batch <= 0 {
		opts.Batch = 64
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Writer{
		events:       opts.Events,
		store:        opts.Store,
		cache:        opts.Cache,
		bcast:        opts.Broadcaster,
		bus:          opts.Bus,
		consumer:     opts.Consumer,
		maxRetries:   opts.MaxRetries,
		claimTimeout: opts.ClaimTimeout,
		batch:        opts.Batch,
		depthLimit:   opts.DepthLimit,
		log:          opts.Logger,
		metrics:      opts.Metrics,
	}
}

// Run consumes every partition until ctx ends. One goroutine per partition
// keeps per-entity ordering: an entity's events all live in one partition
// and partitions are applied strictly in sequence.
func (w *Writer) Run(ctx context.Context) {
	if err := w.events.EnsureGroup(ctx, Group); err != nil {
		w.log.Error("consumer group setup failed", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	for p := 0; p < w.events.Partitions(); p++ {
		wg.Add(1)
		go func(partition int) {
			defer wg.Done()
			w.runPartition(ctx, partition)
		}(p)
	}
	wg.Wait()
}

func (w *Writer) runPartition(ctx context.Context, partition int) {
	for ctx.Err() == nil {
		// First take over anything a dead consumer left pending.
		claimed, err := w.events.Claim(ctx, Group, w.consumer, partition, w.claimTimeout, w.batch)
		if err != nil {
			w.waitRetry(ctx, 0)
			continue
		}
		for _, d := range claimed {
			w.applyOne(ctx, partition, d)
		}

		batch, err := w.events.Read(ctx, Group, w.consumer, partition, w.batch, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("event read failed", zap.Int("partition", partition), zap.Error(err))
			w.waitRetry(ctx, 0)
			continue
		}
		for _, d := range batch {
			w.applyOne(ctx, partition, d)
		}
	}
}

// applyOne drives one delivered event to a terminal outcome. Store outages
// retry in place with exponential backoff; everything else resolves on the
// first attempt.
func (w *Writer) applyOne(ctx context.Context, partition int, d eventlog.Delivered) {
	attempt := int(d.Retries)
	for {
		res, err := w.apply(ctx, d.Event)
		if err == nil {
			w.finish(ctx, partition, d, res)
			return
		}
		if !errors.Is(err, store.ErrUnavailable) {
			// Unapplicable event: park it where an operator can see it.
			w.deadLetter(ctx, partition, d, err.Error())
			return
		}

		attempt++
		if w.metrics != nil {
			w.metrics.EventsRetried.Inc()
		}
		if attempt > w.maxRetries {
			w.deadLetter(ctx, partition, d, "store unavailable after retries")
			return
		}
		w.log.Warn("apply failed, backing off",
			zap.String("event_id", d.Event.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if !w.waitRetry(ctx, attempt) {
			return
		}
	}
}

// apply performs the store mutation. A conflict is a terminal result, not
// an error; only dependency faults return errors.
func (w *Writer) apply(ctx context.Context, ev eventlog.Event) (Result, error) {
	res := Result{EventID: ev.ID}

	switch ev.Kind {
	case eventlog.EventCreated, eventlog.EventUpdated:
		doc, err := w.parsePayload(ev)
		if err != nil {
			return Result{}, err
		}
		rec := store.RecordOf(doc, ev.Payload, ev.ETagAfter)
		out, err := w.store.Upsert(ctx, rec, store.Condition{
			CreateOnly: ev.CreateOnly,
			ETagBefore: ev.ETagBefore,
		})
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				res.Status = StatusConflict
				res.Reason = "precondition failed"
				return res, nil
			}
			return Result{}, err
		}
		res.ETag = out.ETag
		if out.NoOp {
			res.Status = StatusNoOp
		} else {
			res.Status = StatusApplied
		}
		return res, nil

	case eventlog.EventDeleted:
		if ev.ETagBefore != "" {
			etag, ok, err := w.store.CurrentETag(ctx, ev.EntityKind, ev.EntityID)
			if err != nil {
				return Result{}, err
			}
			if ok && etag != ev.ETagBefore {
				res.Status = StatusConflict
				res.Reason = "precondition failed"
				return res, nil
			}
		}
		removed, err := w.store.Delete(ctx, ev.EntityKind, ev.EntityID)
		if err != nil {
			return Result{}, err
		}
		if removed {
			res.Status = StatusApplied
		} else {
			res.Status = StatusNoOp
		}
		return res, nil
	}
	return Result{}, errors.New("unknown event kind " + string(ev.Kind))
}

// finish runs the post-apply chain: invalidate, broadcast, publish, ack.
func (w *Writer) finish(ctx context.Context, partition int, d eventlog.Delivered, res Result) {
	ev := d.Event

	if res.Status == StatusApplied && w.cache != nil {
		token := idcodec.Encode(ev.EntityID)
		_ = w.cache.DeleteEntity(ctx, ev.EntityKind, token)
		_ = w.cache.InvalidateLists(ctx, ev.EntityKind)
	}

	if res.Status == StatusApplied && w.bcast != nil {
		w.bcast.Publish(broadcast.Notification{
			EventID:       ev.ID,
			Kind:          ev.Kind,
			EntityKind:    ev.EntityKind,
			EntityID:      ev.EntityID,
			ETag:          res.ETag,
			CorrelationID: ev.CorrelationID,
			Timestamp:     time.Now().UTC(),
		})
	}

	if w.bus != nil {
		w.bus.Publish(ctx, res)
	}

	if err := w.events.Ack(ctx, Group, partition, d); err != nil {
		// Redelivery will hit the replay no-op path.
		w.log.Warn("ack failed", zap.String("event_id", ev.ID), zap.Error(err))
		return
	}
	if w.metrics != nil && res.Status == StatusApplied {
		w.metrics.EventsApplied.Inc()
	}
}

func (w *Writer) deadLetter(ctx context.Context, partition int, d eventlog.Delivered, reason string) {
	w.log.Error("event dead-lettered",
		zap.String("event_id", d.Event.ID),
		zap.String("entity_id", d.Event.EntityID),
		zap.String("reason", reason))
	if err := w.events.MoveToDLQ(ctx, Group, partition, d, reason); err != nil {
		w.log.Error("dlq move failed", zap.String("event_id", d.Event.ID), zap.Error(err))
	}
	if w.metrics != nil {
		w.metrics.EventsDeadLettered.Inc()
	}
	if w.bus != nil {
		w.bus.Publish(ctx, Result{EventID: d.Event.ID, Status: StatusFailed, Reason: reason})
	}
}

// waitRetry sleeps the backoff for attempt. Returns false when ctx ended.
func (w *Writer) waitRetry(ctx context.Context, attempt int) bool {
	delay := backoffBase << uint(attempt)
	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}
	// Jitter up to 20% keeps competing retries from aligning.
	delay += time.Duration(rand.Int63n(int64(delay)/5 + 1))
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// parsePayload rebuilds the document header from event payload bytes. The
// payload was canonicalized before append, so a failure here means the
// event is corrupt and belongs on the DLQ.
func (w *Writer) parsePayload(ev eventlog.Event) (*aas.Document, error) {
	if len(ev.Payload) == 0 {
		return nil, errors.New("event payload missing")
	}
	root, err := canonical.Decode(ev.Payload, canonical.DecodeDepthFor(w.depthLimit))
	if err != nil {
		return nil, errors.New("event payload unparseable: " + err.Error())
	}
	return aas.ExtractHeader(ev.EntityKind, root), nil
}
