// Package httpapi exposes the monitor's loopback HTTP surface: the browser
// ingestion endpoint, the read-only stats API, and config management.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"netmonitor/config"
	"netmonitor/ingest"
	"netmonitor/query"
	"netmonitor/store"
)

// Status is what /health reports. The daemon fills it in.
type Status struct {
	Running           bool              `json:"running"`
	Degraded          bool              `json:"degraded"`
	TransientFailures int64             `json:"transient_failures"`
	InvariantFailures int64             `json:"invariant_failures"`
	Workers           []store.Heartbeat `json:"workers"`
	SchemaVersion     int               `json:"schema_version"`
}

// HealthReporter is implemented by the daemon supervisor.
type HealthReporter interface {
	Health(ctx context.Context) (Status, error)
}

// Server is the loopback HTTP server.
type Server struct {
	log      *slog.Logger
	store    *store.Store
	queries  *query.Engine
	recorder *ingest.Recorder
	cfg      *config.Manager
	health   HealthReporter

	http *http.Server
}

// NewServer wires the router. The server binds to loopback only; the
// process must never be reachable off-host.
func NewServer(log *slog.Logger, st *store.Store, q *query.Engine, rec *ingest.Recorder, cfg *config.Manager, health HealthReporter) *Server {
	s := &Server{
		log:      log,
		store:    st,
		queries:  q,
		recorder: rec,
		cfg:      cfg,
		health:   health,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	// Extensions post from privileged extension origins, not from our own.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Post("/browser/active-tab", s.handleActiveTab)
	r.Get("/browser/status", s.handleBrowserStatus)

	r.Route("/stats", func(r chi.Router) {
		r.Get("/summary", s.handleSummary)
		r.Get("/timeline", s.handleTimeline)
		r.Get("/bandwidth", s.handleBandwidth)
	})

	r.Route("/applications", func(r chi.Router) {
		r.Get("/", s.handleListApps)
		r.Get("/{appID}", s.handleGetApp)
		r.Get("/{appID}/timeline", s.handleAppTimeline)
	})

	r.Route("/domains", func(r chi.Router) {
		r.Get("/", s.handleListDomains)
		r.Get("/top/{n}", s.handleTopDomains)
		r.Get("/{domainID}", s.handleGetDomain)
	})

	r.Route("/config", func(r chi.Router) {
		r.Get("/", s.handleListConfig)
		r.Get("/{key}", s.handleGetConfig)
		r.Put("/{key}", s.handleSetConfig)
		r.Delete("/{key}", s.handleDeleteConfig)
		r.Post("/reload", s.handleReloadConfig)
	})

	r.Get("/health", s.handleHealth)

	s.http = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start listens on 127.0.0.1:port and serves until Shutdown. It returns once
// the listener is bound, so callers can treat a port conflict as a startup
// failure.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen %s: %w", addr, err)
	}
	s.log.Info("httpapi: listening", "addr", addr)

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("httpapi: serve failed", "error", err)
		}
	}()
	return nil
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}
