// Package httpapi is the HTTP adapter: routing, request classification
// (fast byte-streaming path vs parsed slow path), conditional request
// handling, and translation between component sentinels and the wire error
// taxonomy. No business rule lives here.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/titan-aas/titan/internal/broadcast"
	"github.com/titan-aas/titan/internal/cache"
	"github.com/titan-aas/titan/internal/store"
	"github.com/titan-aas/titan/internal/writer"
	"github.com/titan-aas/titan/pkg/telemetry"
)

// Server binds the HTTP surface to the component stack.
type Server struct {
	store  *store.Store
	cache  *cache.Cache
	submit *writer.Submitter
	bcast  *broadcast.Broadcaster
	health *telemetry.Health

	maxPageLimit int
	maxBodyBytes int64
	depthLimit   int

	log      *zap.Logger
	metrics  *telemetry.Metrics
	registry *prometheus.Registry
}

// Options configures NewServer.
type Options struct {
	Store       *store.Store
	Cache       *cache.Cache
	Submitter   *writer.Submitter
	Broadcaster *broadcast.Broadcaster
	Health      *telemetry.Health

	MaxPageLimit int
	MaxBodyBytes int64
	DepthLimit   int

	Logger   *zap.Logger
	Metrics  *telemetry.Metrics
	Registry *prometheus.Registry
}

// NewServer builds the server.
func NewServer(opts Options) *Server {
	if opts.MaxPageLimit <= 0 {
		opts.MaxPageLimit = 500
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 4 << 20
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		store:        opts.Store,
		cache:        opts.Cache,
		submit:       opts.Submitter,
		bcast:        opts.Broadcaster,
		health:       opts.Health,
		maxPageLimit: opts.MaxPageLimit,
		maxBodyBytes: opts.MaxBodyBytes,
		depthLimit:   opts.DepthLimit,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		registry:     opts.Registry,
	}
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestID, s.recoverPanics, s.instrument)

	r.HandleFunc("/health/live", s.handleLive).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReady).Methods(http.MethodGet)
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	s.mountEntityRoutes(r)
	s.mountSubmodelRoutes(r)
	s.mountLookupRoutes(r)
	s.mountStreamRoutes(r)

	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)
	return r
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.health != nil && !s.health.Live() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	ready, detail := s.health.Ready(r.Context())
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":  ready,
		"checks": detail,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeErrorStatus(w, http.StatusNotFound, "entity.not_found", "no such route")
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeErrorStatus(w, http.StatusMethodNotAllowed, "validation.invalid", "method not allowed")
}

// retryAfter is the hint sent with 503 responses.
const retryAfter = 2 * time.Second
