package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Checker probes one dependency. It must respect ctx.
type Checker func(ctx context.Context) error

// Health aggregates liveness and readiness.
//
// Liveness is a switch the server flips once it is serving. Readiness runs
// the registered checkers; fail-open dependencies (the cache) register as
// optional so an outage shows up in the report without failing readiness.
type Health struct {
	mu       sync.RWMutex
	live     bool
	checkers map[string]Checker
	optional map[string]bool
}

func NewHealth() *Health {
	return &Health{
		checkers: map[string]Checker{},
		optional: map[string]bool{},
	}
}

// SetLive flips the liveness switch.
func (h *Health) SetLive(v bool) {
	h.mu.Lock()
	h.live = v
	h.mu.Unlock()
}

// Live reports the liveness switch.
func (h *Health) Live() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.live
}

// Register adds a readiness checker.
func (h *Health) Register(name string, optional bool, c Checker) {
	h.mu.Lock()
	h.checkers[name] = c
	h.optional[name] = optional
	h.mu.Unlock()
}

// Status is one checker outcome.
type Status struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Optional bool   `json:"optional,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Ready runs all checkers with a bounded deadline each and reports
// readiness plus per-checker detail, sorted by name for stable output.
func (h *Health) Ready(ctx context.Context) (bool, []Status) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	checkers := make(map[string]Checker, len(h.checkers))
	optional := make(map[string]bool, len(h.optional))
	for name, c := range h.checkers {
		names = append(names, name)
		checkers[name] = c
		optional[name] = h.optional[name]
	}
	h.mu.RUnlock()

	sort.Strings(names)

	ready := true
	out := make([]Status, 0, len(names))
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := checkers[name](cctx)
		cancel()

		st := Status{Name: name, OK: err == nil, Optional: optional[name]}
		if err != nil {
			st.Error = err.Error()
			if !optional[name] {
				ready = false
			}
		}
		out = append(out, st)
	}
	return ready, out
}
