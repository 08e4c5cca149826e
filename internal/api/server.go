// Package api exposes the HTTP interface: job submission and control,
// inspection, CSV export, and the live progress stream.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mapscout/placecrawler/internal/metrics"
	"github.com/mapscout/placecrawler/internal/progress/sinks"
	"github.com/mapscout/placecrawler/internal/scraper"
)

// Config tunes the HTTP surface and the job defaults applied at submission.
type Config struct {
	// APIKey, when set, gates every route behind X-API-Key.
	APIKey string
	// RequestTimeout bounds non-streaming handlers. Defaults to 60s.
	RequestTimeout time.Duration
	// DefaultResultCap applies when a submission omits result_cap_per_term.
	DefaultResultCap int
	// MaxResultCap clamps client-requested caps.
	MaxResultCap int
	// DefaultPacing fills omitted pacing fields.
	DefaultPacing scraper.Pacing
}

func (c *Config) applyDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.DefaultResultCap <= 0 {
		c.DefaultResultCap = 20
	}
	if c.MaxResultCap <= 0 {
		c.MaxResultCap = 200
	}
	if c.DefaultPacing.MinDelay <= 0 {
		c.DefaultPacing.MinDelay = 2 * time.Second
	}
	if c.DefaultPacing.MaxDelay <= 0 {
		c.DefaultPacing.MaxDelay = 5 * time.Second
	}
	if c.DefaultPacing.RestEvery <= 0 {
		c.DefaultPacing.RestEvery = 50
	}
	if c.DefaultPacing.RestDuration <= 0 {
		c.DefaultPacing.RestDuration = time.Minute
	}
}

// Server wires HTTP handlers to the stores, the queue, and the broadcaster.
type Server struct {
	router      chi.Router
	jobs        scraper.JobStore
	places      scraper.PlaceStore
	failures    scraper.FailureStore
	events      scraper.EventStore
	queue       scraper.Queue
	broadcaster *sinks.Broadcaster
	idGen       scraper.IDGenerator
	clock       scraper.Clock
	ready       func() error
	logger      *zap.Logger
	cfg         Config
}

// NewServer constructs a Server with middleware and routes. ready reports
// downstream health for /readyz; nil means always ready.
func NewServer(
	jobs scraper.JobStore,
	places scraper.PlaceStore,
	failures scraper.FailureStore,
	events scraper.EventStore,
	queue scraper.Queue,
	broadcaster *sinks.Broadcaster,
	idGen scraper.IDGenerator,
	clock scraper.Clock,
	ready func() error,
	logger *zap.Logger,
	cfg Config,
) *Server {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:        jobs,
		places:      places,
		failures:    failures,
		events:      events,
		queue:       queue,
		broadcaster: broadcaster,
		idGen:       idGen,
		clock:       clock,
		ready:       ready,
		logger:      logger,
		cfg:         cfg,
	}

	metrics.Init()
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(recoverMiddleware(logger))
	if cfg.APIKey != "" {
		r.Use(apiKeyMiddleware(cfg.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1/jobs", func(r chi.Router) {
		// Streaming routes sit outside the timeout handler: SSE and CSV
		// export hold the connection open for as long as the client stays.
		r.Get("/{job_id}/stream", s.streamJob)
		r.Get("/{job_id}/export", s.exportJob)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(cfg.RequestTimeout))
			r.Post("/", s.createJob)
			r.Get("/", s.listJobs)
			r.Get("/{job_id}", s.getJob)
			r.Post("/{job_id}/pause", s.pauseJob)
			r.Post("/{job_id}/resume", s.resumeJob)
			r.Delete("/{job_id}", s.deleteJob)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil {
		if err := s.ready(); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
