package writer

import (
	"context"
	"time"

	"github.com/titan-aas/titan/internal/eventlog"
	"github.com/titan-aas/titan/pkg/apierr"
	"github.com/titan-aas/titan/pkg/telemetry"
)

// Submitter is the write-side entry point for HTTP handlers: append the
// event durably, then wait for the writer to reach a terminal outcome so
// the response reflects the applied state (read-your-writes).
type Submitter struct {
	events  *eventlog.Log
	bus     *Bus
	timeout time.Duration
	metrics *telemetry.Metrics
}

// NewSubmitter builds a submitter. timeout bounds the wait for the apply;
// zero means 10s.
func NewSubmitter(events *eventlog.Log, bus *Bus, timeout time.Duration, m *telemetry.Metrics) *Submitter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Submitter{events: events, bus: bus, timeout: timeout, metrics: m}
}

// Submit appends ev and blocks until the writer resolves it. The waiter is
// registered before the append so the result cannot slip past. An append
// failure means the write was never accepted; a wait timeout means the
// write is durable but its outcome is unknown yet.
func (s *Submitter) Submit(ctx context.Context, ev eventlog.Event) (Result, error) {
	ch, cancel := s.bus.Register(ev.ID)
	defer cancel()

	if _, err := s.events.Append(ctx, ev); err != nil {
		return Result{}, apierr.Wrap(apierr.EventLogUnavailable, "cannot durably log the write", err)
	}
	if s.metrics != nil {
		s.metrics.EventsAppended.Inc()
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Result{}, apierr.Wrap(apierr.InternalTimeout, "write accepted but not yet applied", ctx.Err())
	case <-timer.C:
		return Result{}, apierr.New(apierr.InternalTimeout, "write accepted but not yet applied")
	case res := <-ch:
		return res, nil
	}
}
