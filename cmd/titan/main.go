// Command titan runs one repository instance: the HTTP API plus, when this
// instance holds the writer lease, the single writer that drains the event
// log into the store. Every instance serves reads; exactly one applies
// writes.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/titan-aas/titan/internal/broadcast"
	"github.com/titan-aas/titan/internal/cache"
	"github.com/titan-aas/titan/internal/election"
	"github.com/titan-aas/titan/internal/eventlog"
	"github.com/titan-aas/titan/internal/httpapi"
	"github.com/titan-aas/titan/internal/store"
	"github.com/titan-aas/titan/internal/writer"
	"github.com/titan-aas/titan/pkg/config"
	"github.com/titan-aas/titan/pkg/telemetry"
)

const (
	shutdownGrace = 15 * time.Second
	submitTimeout = 10 * time.Second
	trimInterval  = time.Minute
	trimRetention = 24 * time.Hour
	sweepInterval = 10 * time.Minute
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}

	logger := telemetry.NewLogger("titan", cfg.LogLevel)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(registry)
	health := telemetry.NewHealth()

	st, err := store.Open(cfg.StoreURL, cfg.RecursionDepthLimit)
	if err != nil {
		return err
	}
	defer st.Close()

	schemaCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = st.EnsureSchema(schemaCtx)
	cancel()
	if err != nil {
		return err
	}

	ch, err := cache.New(cache.Options{
		URL:       cfg.CacheURL,
		EntityTTL: cfg.CacheEntityTTL(),
		ListTTL:   cfg.CacheListTTL(),
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}
	defer ch.Close()

	events, err := eventlog.New(eventlog.Options{
		URL:             cfg.EventLogURL,
		Partitions:      cfg.EventLogPartitions,
		InlineThreshold: cfg.InlinePayloadBytes,
	})
	if err != nil {
		return err
	}
	defer events.Close()

	bus, err := writer.NewBus(cfg.EventLogURL, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	elector, err := election.New(election.Options{
		URL:        cfg.EventLogURL,
		InstanceID: cfg.InstanceID,
		TTL:        cfg.LeaseTTL(),
		Renew:      cfg.LeaseRenew(),
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}
	defer elector.Close()

	bcast := broadcast.New(cfg.BroadcastQueueEvents, metrics)

	wr := writer.New(writer.Options{
		Events:       events,
		Store:        st,
		Cache:        ch,
		Broadcaster:  bcast,
		Bus:          bus,
		Consumer:     cfg.InstanceID,
		MaxRetries:   cfg.EventMaxRetries,
		ClaimTimeout: cfg.EventClaimTimeout(),
		Batch:        cfg.EventBatchSize,
		DepthLimit:   cfg.RecursionDepthLimit,
		Logger:       logger,
		Metrics:      metrics,
	})

	submitter := writer.NewSubmitter(events, bus, submitTimeout, metrics)

	health.Register("store", false, st.Ping)
	health.Register("eventlog", false, events.Ping)
	health.Register("cache", true, ch.Ping)

	api := httpapi.NewServer(httpapi.Options{
		Store:        st,
		Cache:        ch,
		Submitter:    submitter,
		Broadcaster:  bcast,
		Health:       health,
		MaxPageLimit: cfg.MaxPageLimit,
		MaxBodyBytes: cfg.MaxBodyBytes,
		DepthLimit:   cfg.RecursionDepthLimit,
		Logger:       logger,
		Metrics:      metrics,
		Registry:     registry,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		bus.Run(ctx)
	}()

	// The writer and the log trimmer are leased roles: any instance may hold
	// them, at most one at a time.
	wg.Add(1)
	go func() {
		defer wg.Done()
		elector.Run(ctx, "writer", wr.Run)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		elector.Run(ctx, "trimmer", func(ctx context.Context) {
			runTrimmer(ctx, events, logger)
		})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		elector.Run(ctx, "sweeper", func(ctx context.Context) {
			runSweeper(ctx, ch, st, logger)
		})
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("instance", cfg.InstanceID),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	health.SetLive(true)

	select {
	case err := <-errCh:
		stop()
		wg.Wait()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	health.SetLive(false)

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	wg.Wait()
	return nil
}

// runTrimmer periodically drops applied entries older than the retention
// window from the event log. Trim skips any partition with pending
// deliveries, so nothing unacked is lost.
func runTrimmer(ctx context.Context, events *eventlog.Log, logger *zap.Logger) {
	ticker := time.NewTicker(trimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := events.Trim(ctx, writer.Group, trimRetention); err != nil {
				logger.Warn("event log trim", zap.Error(err))
			}
		}
	}
}

// runSweeper periodically removes cached entities whose etag diverged from
// the store. Invalidation is fail-open, so a Redis outage during a write can
// leave a stale entry behind until its TTL; the sweep shortens that window.
func runSweeper(ctx context.Context, ch *cache.Cache, st *store.Store, logger *zap.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := ch.SweepEntities(ctx, st.CurrentETag)
			if err != nil {
				logger.Warn("cache sweep", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("cache sweep removed stale entries", zap.Int("removed", removed))
			}
		}
	}
}
