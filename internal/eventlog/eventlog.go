// Package eventlog is the durable mutation log on Redis streams.
//
// Writes append here first; the store only changes when the single-writer
// worker applies an event. Events are partitioned by entity id across a
// fixed set of streams so ordering holds per entity while partitions apply
// in parallel. Delivery is at-least-once via consumer groups; consumers
// must tolerate redelivery.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/titan-aas/titan/pkg/aas"
)

const (
	streamPrefix  = "titan:events:"
	dlqStream     = "titan:events:dlq"
	payloadPrefix = "titan:payload:"
)

// ErrUnavailable indicates the log cannot be reached. Callers surface this
// as a retryable service error; writes are never accepted without a
// durable append.
var ErrUnavailable = errors.New("eventlog: unavailable")

// Log is a handle on the partitioned stream set.
type Log struct {
	rdb        *redis.Client
	partitions int
	// inlineThreshold is the payload size above which the body is stored
	// out of band and the stream entry carries a reference.
	inlineThreshold int
}

// Options configures New.
type Options struct {
	URL             string
	Partitions      int
	InlineThreshold int
}

// New connects to the log.
func New(opts Options) (*Log, error) {
	ropts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("eventlog: parse url: %w", err)
	}
	if opts.Partitions <= 0 {
		opts.Partitions = 8
	}
	if opts.InlineThreshold <= 0 {
		opts.InlineThreshold = 64 * 1024
	}
	return &Log{
		rdb:             redis.NewClient(ropts),
		partitions:      opts.Partitions,
		inlineThreshold: opts.InlineThreshold,
	}, nil
}

// Close releases the client.
func (l *Log) Close() error { return l.rdb.Close() }

// Ping probes connectivity.
func (l *Log) Ping(ctx context.Context) error {
	if err := l.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Partitions returns the configured partition count.
func (l *Log) Partitions() int { return l.partitions }

// Partition maps an entity id to its stream. All events of one entity land
// in one partition, which is what makes per-entity ordering hold.
func (l *Log) Partition(entityID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(entityID))
	return int(h.Sum32() % uint32(l.partitions))
}

func streamName(partition int) string {
	return streamPrefix + strconv.Itoa(partition)
}

// EnsureGroup creates the consumer group on every partition stream and the
// DLQ stream. Idempotent; safe to call from every instance at startup.
func (l *Log) EnsureGroup(ctx context.Context, group string) error {
	streams := make([]string, 0, l.partitions+1)
	for p := 0; p < l.partitions; p++ {
		streams = append(streams, streamName(p))
	}
	streams = append(streams, dlqStream)
	for _, s := range streams {
		err := l.rdb.XGroupCreateMkStream(ctx, s, group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("%w: create group on %s: %v", ErrUnavailable, s, err)
		}
	}
	return nil
}

// Append durably appends an event to its partition stream and returns the
// stream entry id. Payloads above the inline threshold are stored under a
// side key referenced from the entry; Ack removes the side key.
func (l *Log) Append(ctx context.Context, ev Event) (string, error) {
	values := map[string]any{
		"id":          ev.ID,
		"ts":          ev.Timestamp.UTC().Format(time.RFC3339Nano),
		"kind":        string(ev.Kind),
		"entity_kind": string(ev.EntityKind),
		"entity_id":   ev.EntityID,
	}
	if ev.ETagBefore != "" {
		values["etag_before"] = ev.ETagBefore
	}
	if ev.ETagAfter != "" {
		values["etag_after"] = ev.ETagAfter
	}
	if ev.CreateOnly {
		values["create_only"] = "1"
	}
	if ev.CorrelationID != "" {
		values["correlation_id"] = ev.CorrelationID
	}

	if len(ev.Payload) > 0 {
		if len(ev.Payload) > l.inlineThreshold {
			ref := payloadPrefix + ev.ID
			if err := l.rdb.Set(ctx, ref, ev.Payload, 0).Err(); err != nil {
				return "", fmt.Errorf("%w: store payload: %v", ErrUnavailable, err)
			}
			values["payload_ref"] = ref
		} else {
			values["payload"] = string(ev.Payload)
		}
	}

	id, err := l.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName(l.Partition(ev.EntityID)),
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("%w: append: %v", ErrUnavailable, err)
	}
	return id, nil
}

// Read blocks up to block for new events on one partition as consumer in
// group. Returns an empty slice on timeout.
func (l *Log) Read(ctx context.Context, group, consumer string, partition, count int, block time.Duration) ([]Delivered, error) {
	res, err := l.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{streamName(partition), ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read: %v", ErrUnavailable, err)
	}

	var out []Delivered
	for _, stream := range res {
		for _, msg := range stream.Messages {
			d, err := l.decode(ctx, msg)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
	}
	return out, nil
}

// Claim takes over entries pending on other consumers of the group for
// longer than minIdle, so a crashed instance's in-flight events get
// reapplied. Retries on the result reflect the delivery count.
func (l *Log) Claim(ctx context.Context, group, consumer string, partition int, minIdle time.Duration, count int) ([]Delivered, error) {
	msgs, _, err := l.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   streamName(partition),
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    int64(count),
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: claim: %v", ErrUnavailable, err)
	}

	var out []Delivered
	for _, msg := range msgs {
		d, err := l.decode(ctx, msg)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}

	if len(out) > 0 {
		// XAUTOCLAIM does not report delivery counts; read them back.
		ids := make([]string, len(out))
		for i := range out {
			ids[i] = out[i].StreamID
		}
		pend, err := l.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: streamName(partition),
			Group:  group,
			Start:  ids[0],
			End:    ids[len(ids)-1],
			Count:  int64(len(ids)),
		}).Result()
		if err == nil {
			counts := make(map[string]int64, len(pend))
			for _, p := range pend {
				counts[p.ID] = p.RetryCount
			}
			for i := range out {
				if n, ok := counts[out[i].StreamID]; ok && n > 1 {
					out[i].Retries = n - 1
				}
			}
		}
	}
	return out, nil
}

// Ack acknowledges an applied entry and drops its out-of-band payload.
func (l *Log) Ack(ctx context.Context, group string, partition int, d Delivered) error {
	if err := l.rdb.XAck(ctx, streamName(partition), group, d.StreamID).Err(); err != nil {
		return fmt.Errorf("%w: ack: %v", ErrUnavailable, err)
	}
	l.rdb.Del(ctx, payloadPrefix+d.Event.ID)
	return nil
}

// MoveToDLQ parks an unapplicable event on the dead-letter stream and acks
// it on its origin partition so it stops blocking redelivery.
func (l *Log) MoveToDLQ(ctx context.Context, group string, partition int, d Delivered, reason string) error {
	values := map[string]any{
		"id":          d.Event.ID,
		"ts":          d.Event.Timestamp.UTC().Format(time.RFC3339Nano),
		"kind":        string(d.Event.Kind),
		"entity_kind": string(d.Event.EntityKind),
		"entity_id":   d.Event.EntityID,
		"partition":   strconv.Itoa(partition),
		"reason":      reason,
		"retries":     strconv.FormatInt(d.Retries, 10),
	}
	if len(d.Event.Payload) > 0 {
		values["payload"] = string(d.Event.Payload)
	}
	if err := l.rdb.XAdd(ctx, &redis.XAddArgs{Stream: dlqStream, Values: values}).Err(); err != nil {
		return fmt.Errorf("%w: dlq append: %v", ErrUnavailable, err)
	}
	return l.Ack(ctx, group, partition, d)
}

// PendingCount reports the pending entry count of one partition, for the
// retention trimmer and operational visibility.
func (l *Log) PendingCount(ctx context.Context, group string, partition int) (int64, error) {
	p, err := l.rdb.XPending(ctx, streamName(partition), group).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: pending: %v", ErrUnavailable, err)
	}
	return p.Count, nil
}

// Trim drops entries older than retention from every partition stream.
// Called only while holding the trimmer lease; partitions with pending
// entries are skipped entirely so nothing unacked is cut, even past the
// retention window.
func (l *Log) Trim(ctx context.Context, group string, retention time.Duration) error {
	minID := strconv.FormatInt(time.Now().Add(-retention).UnixMilli(), 10)
	for p := 0; p < l.partitions; p++ {
		n, err := l.PendingCount(ctx, group, p)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		if err := l.rdb.XTrimMinIDApprox(ctx, streamName(p), minID, 0).Err(); err != nil {
			return fmt.Errorf("%w: trim: %v", ErrUnavailable, err)
		}
	}
	return nil
}

func (l *Log) decode(ctx context.Context, msg redis.XMessage) (Delivered, error) {
	get := func(k string) string {
		if v, ok := msg.Values[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}

	ev := Event{
		ID:            get("id"),
		Kind:          EventKind(get("kind")),
		EntityKind:    aas.Kind(get("entity_kind")),
		EntityID:      get("entity_id"),
		ETagBefore:    get("etag_before"),
		ETagAfter:     get("etag_after"),
		CreateOnly:    get("create_only") == "1",
		CorrelationID: get("correlation_id"),
	}
	if ts := get("ts"); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			ev.Timestamp = t
		}
	}
	if p := get("payload"); p != "" {
		ev.Payload = []byte(p)
	} else if ref := get("payload_ref"); ref != "" {
		body, err := l.rdb.Get(ctx, ref).Bytes()
		if err != nil {
			return Delivered{}, fmt.Errorf("%w: payload ref %s: %v", ErrUnavailable, ref, err)
		}
		ev.Payload = body
	}
	return Delivered{StreamID: msg.ID, Event: ev}, nil
}
