// Package election provides lease-based leader election on Redis for
// singleton background roles (log trimming, cache sweeping). One lease key
// per role; whoever holds the key runs the role. Renewal and release are
// compare-and-set scripts so a lease lost to expiry can never be stolen
// back.
package election

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/titan-aas/titan/pkg/telemetry"
)

// renewScript extends the lease only while we still hold it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lease only while we still hold it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Elector campaigns for role leases on behalf of one instance.
type Elector struct {
	rdb     *redis.Client
	holder  string
	ttl     time.Duration
	renew   time.Duration
	log     *zap.Logger
	metrics *telemetry.Metrics
}

// Options configures New. TTL must exceed the renew interval.
type Options struct {
	URL        string
	InstanceID string
	TTL        time.Duration
	Renew      time.Duration
	Logger     *zap.Logger
	Metrics    *telemetry.Metrics
}

// New builds an elector. The holder token is the instance id plus a random
// suffix, so a restarted instance cannot confuse its old lease with its
// new one.
func New(opts Options) (*Elector, error) {
	ropts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Second
	}
	if opts.Renew <= 0 || opts.Renew >= opts.TTL {
		opts.Renew = opts.TTL / 3
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Elector{
		rdb:     redis.NewClient(ropts),
		holder:  opts.InstanceID + "/" + uuid.NewString(),
		ttl:     opts.TTL,
		renew:   opts.Renew,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}, nil
}

// Close releases the client.
func (e *Elector) Close() error { return e.rdb.Close() }

func leaseKey(role string) string { return "titan:lease:" + role }

// TryAcquire attempts to take the role lease.
func (e *Elector) TryAcquire(ctx context.Context, role string) (bool, error) {
	return e.rdb.SetNX(ctx, leaseKey(role), e.holder, e.ttl).Result()
}

// Renew extends the lease if still held.
func (e *Elector) Renew(ctx context.Context, role string) (bool, error) {
	n, err := renewScript.Run(ctx, e.rdb, []string{leaseKey(role)}, e.holder, e.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release gives the lease up if still held.
func (e *Elector) Release(ctx context.Context, role string) error {
	return releaseScript.Run(ctx, e.rdb, []string{leaseKey(role)}, e.holder).Err()
}

// Run campaigns for role until ctx ends. While leading it calls fn with a
// context that is cancelled the moment the lease is lost or cannot be
// renewed; fn is expected to return promptly on cancellation and may be
// invoked again on re-election.
func (e *Elector) Run(ctx context.Context, role string, fn func(ctx context.Context)) {
	gauge := func(v float64) {
		if e.metrics != nil {
			e.metrics.LeaderHeld.WithLabelValues(role).Set(v)
		}
	}
	gauge(0)

	for {
		ok, err := e.TryAcquire(ctx, role)
		if err != nil {
			e.log.Warn("lease acquire failed", zap.String("role", role), zap.Error(err))
		}
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.ttl):
				continue
			}
		}

		e.log.Info("lease acquired", zap.String("role", role))
		gauge(1)

		leadCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			fn(leadCtx)
		}()

		ticker := time.NewTicker(e.renew)
	hold:
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				cancel()
				<-done
				_ = e.Release(context.Background(), role)
				gauge(0)
				return
			case <-done:
				// Role function returned on its own; drop the lease and
				// campaign again.
				break hold
			case <-ticker.C:
				held, err := e.Renew(ctx, role)
				if err != nil || !held {
					e.log.Warn("lease lost", zap.String("role", role), zap.Error(err))
					break hold
				}
			}
		}
		ticker.Stop()
		cancel()
		<-done
		_ = e.Release(context.Background(), role)
		gauge(0)
		e.log.Info("lease released", zap.String("role", role))

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.renew):
		}
	}
}
