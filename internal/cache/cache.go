// Package cache is the Redis read-through layer in front of the store.
//
// The cache is strictly an accelerator: every operation fails open, so a
// Redis outage degrades latency but never correctness or availability.
// Only the single-writer worker invalidates; readers only fill.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/titan-aas/titan/pkg/aas"
	"github.com/titan-aas/titan/pkg/idcodec"
	"github.com/titan-aas/titan/pkg/telemetry"
)

// Entry is a cached single entity: canonical bytes plus the etag and
// modification time needed to serve conditional requests without touching
// the store.
type Entry struct {
	ETag      string
	Bytes     []byte
	UpdatedAt time.Time
}

// Cache wraps the Redis client with the key schema and TTL policy.
type Cache struct {
	rdb       *redis.Client
	entityTTL time.Duration
	listTTL   time.Duration
	log       *zap.Logger
	metrics   *telemetry.Metrics
}

// Options configures New.
type Options struct {
	URL       string
	EntityTTL time.Duration
	ListTTL   time.Duration
	Logger    *zap.Logger
	Metrics   *telemetry.Metrics
}

// New connects to Redis. The connection is probed lazily; a down cache at
// startup is tolerated the same way as a mid-flight outage.
func New(opts Options) (*Cache, error) {
	ropts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse url: %w", err)
	}
	if opts.EntityTTL <= 0 {
		opts.EntityTTL = 600 * time.Second
	}
	if opts.ListTTL <= 0 {
		opts.ListTTL = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Cache{
		rdb:       redis.NewClient(ropts),
		entityTTL: opts.EntityTTL,
		listTTL:   opts.ListTTL,
		log:       opts.Logger,
		metrics:   opts.Metrics,
	}, nil
}

// Close releases the client.
func (c *Cache) Close() error { return c.rdb.Close() }

// Ping probes connectivity, for the readiness report.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// EntityKey is the cache key of one entity body.
func EntityKey(kind aas.Kind, idToken string) string {
	return "titan:" + string(kind) + ":" + idToken
}

// ListKey is the cache key of one serialized list page. filterKey and the
// limit are folded into a short hash so arbitrary filter values cannot grow
// the key.
func ListKey(kind aas.Kind, filterKey string, limit int, cursor string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", filterKey, limit)))
	h := hex.EncodeToString(sum[:8])
	if cursor == "" {
		cursor = "-"
	}
	return "titan:list:" + string(kind) + ":" + h + ":" + cursor
}

func listPrefix(kind aas.Kind) string {
	return "titan:list:" + string(kind) + ":"
}

// entity values are "<etag>\n<updated unix ns>\n<canonical bytes>". The
// etag is hex and never contains a newline.

// GetEntity returns the cached entry, or ok=false on miss or error.
func (c *Cache) GetEntity(ctx context.Context, kind aas.Kind, idToken string) (Entry, bool) {
	raw, err := c.rdb.Get(ctx, EntityKey(kind, idToken)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.failOpen("get entity", err)
		} else if c.metrics != nil {
			c.metrics.CacheMisses.WithLabelValues("entity").Inc()
		}
		return Entry{}, false
	}
	etag, rest, ok := strings.Cut(raw, "\n")
	ts, body, ok2 := strings.Cut(rest, "\n")
	ns, perr := strconv.ParseInt(ts, 10, 64)
	if !ok || !ok2 || etag == "" || perr != nil {
		// Unreadable value; drop it and treat as a miss.
		c.rdb.Del(ctx, EntityKey(kind, idToken))
		return Entry{}, false
	}
	entry := Entry{ETag: etag, Bytes: []byte(body)}
	if ns > 0 {
		entry.UpdatedAt = time.Unix(0, ns).UTC()
	}
	if c.metrics != nil {
		c.metrics.CacheHits.WithLabelValues("entity").Inc()
	}
	return entry, true
}

// SetEntity stores an entry under the entity TTL.
func (c *Cache) SetEntity(ctx context.Context, kind aas.Kind, idToken string, e Entry) {
	ns := int64(0)
	if !e.UpdatedAt.IsZero() {
		ns = e.UpdatedAt.UnixNano()
	}
	val := e.ETag + "\n" + strconv.FormatInt(ns, 10) + "\n" + string(e.Bytes)
	if err := c.rdb.Set(ctx, EntityKey(kind, idToken), val, c.entityTTL).Err(); err != nil {
		c.failOpen("set entity", err)
	}
}

// DeleteEntity removes one entity key. Returns the Redis error so the
// writer can log invalidation failures; callers still proceed.
func (c *Cache) DeleteEntity(ctx context.Context, kind aas.Kind, idToken string) error {
	if err := c.rdb.Del(ctx, EntityKey(kind, idToken)).Err(); err != nil {
		c.failOpen("delete entity", err)
		return err
	}
	return nil
}

// GetList returns a cached serialized list page.
func (c *Cache) GetList(ctx context.Context, key string) ([]byte, bool) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.failOpen("get list", err)
		} else if c.metrics != nil {
			c.metrics.CacheMisses.WithLabelValues("list").Inc()
		}
		return nil, false
	}
	if c.metrics != nil {
		c.metrics.CacheHits.WithLabelValues("list").Inc()
	}
	return raw, true
}

// SetList stores a serialized list page under the list TTL.
func (c *Cache) SetList(ctx context.Context, key string, body []byte) {
	if err := c.rdb.Set(ctx, key, body, c.listTTL).Err(); err != nil {
		c.failOpen("set list", err)
	}
}

// InvalidateLists removes every cached list page of a kind. Any mutation
// can change any page of that kind, so the whole prefix goes.
func (c *Cache) InvalidateLists(ctx context.Context, kind aas.Kind) error {
	var (
		cursor   uint64
		firstErr error
	)
	pattern := listPrefix(kind) + "*"
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			c.failOpen("scan lists", err)
			return err
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil && firstErr == nil {
				c.failOpen("delete lists", err)
				firstErr = err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return firstErr
}

// SweepEntities walks cached entity keys and deletes entries whose etag no
// longer matches the store. Invalidation is fail-open, so an entry written
// while Redis was flapping can outlive its entity; the sweep bounds that
// window below the TTL. current returns the live etag and whether the entity
// exists. Returns the number of entries removed.
func (c *Cache) SweepEntities(ctx context.Context, current func(ctx context.Context, kind aas.Kind, id string) (string, bool, error)) (int, error) {
	removed := 0
	for _, kind := range aas.Kinds() {
		prefix := "titan:" + string(kind) + ":"
		var cursor uint64
		for {
			keys, next, err := c.rdb.Scan(ctx, cursor, prefix+"*", 200).Result()
			if err != nil {
				c.failOpen("scan entities", err)
				return removed, err
			}
			for _, key := range keys {
				token := strings.TrimPrefix(key, prefix)
				id, err := idcodec.Decode(token)
				if err != nil {
					continue
				}
				raw, err := c.rdb.Get(ctx, key).Result()
				if err != nil {
					continue
				}
				cachedETag, _, ok := strings.Cut(raw, "\n")
				if !ok {
					continue
				}
				live, exists, err := current(ctx, kind, id)
				if err != nil {
					return removed, err
				}
				if exists && live == cachedETag {
					continue
				}
				if err := c.rdb.Del(ctx, key).Err(); err != nil {
					c.failOpen("sweep delete", err)
					continue
				}
				removed++
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}
	return removed, nil
}

func (c *Cache) failOpen(op string, err error) {
	if c.metrics != nil {
		c.metrics.CacheErrors.Inc()
	}
	c.log.Warn("cache operation failed open", zap.String("op", op), zap.Error(err))
}
