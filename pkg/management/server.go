// Package management serves the operational HTTP surface: liveness and
// readiness probes, Prometheus metrics and read-only dead-letter inspection
// endpoints.
package management

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetgrid/telemetry-deadletter/pkg/deadletter"
	"github.com/fleetgrid/telemetry-deadletter/pkg/health"
	"github.com/fleetgrid/telemetry-deadletter/pkg/observability/logger"
)

const (
	defaultPort         = 8091
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultIdleTimeout  = 60 * time.Second

	defaultListLimit = 50
	maxListLimit     = 500
)

// Config configures the management listener.
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c *Config) normalize() {
	if c.Port <= 0 {
		c.Port = defaultPort
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
}

// Server is the management HTTP server.
type Server struct {
	httpServer     *http.Server
	router         *mux.Router
	healthRegistry *health.Registry
	store          deadletter.Store
	log            logger.Logger
}

// NewServer builds the management server and registers its routes. store may
// be nil when inspection endpoints are not wanted, for example in the
// migrate subcommand.
func NewServer(cfg Config, healthRegistry *health.Registry, store deadletter.Store, log logger.Logger) (*Server, error) {
	if healthRegistry == nil {
		return nil, fmt.Errorf("health registry is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	cfg.normalize()

	s := &Server{
		router:         mux.NewRouter(),
		healthRegistry: healthRegistry,
		store:          store,
		log:            log,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	if s.store != nil {
		s.router.HandleFunc("/deadletter/pending", s.handlePendingCount).Methods(http.MethodGet)
		s.router.HandleFunc("/deadletter/next-imei", s.handleNextIMEI).Methods(http.MethodGet)
		s.router.HandleFunc("/deadletter/imei/{imei}", s.handleListByIMEI).Methods(http.MethodGet)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("management server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleHealth is the liveness probe; it never consults dependencies.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReady runs every registered dependency check and reports 503 when
// any fails.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	result := s.healthRegistry.Check(r.Context())
	status := http.StatusOK
	if !result.IsHealthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, result)
}

func (s *Server) handlePendingCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.CountPending(r.Context())
	if err != nil {
		s.log.Error("pending count failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"pending": count})
}

func (s *Server) handleNextIMEI(w http.ResponseWriter, r *http.Request) {
	imei, found, err := s.store.NextFailedIMEI(r.Context())
	if err != nil {
		s.log.Error("next failed imei lookup failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage unavailable"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no failed events"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"imei": imei})
}

func (s *Server) handleListByIMEI(w http.ResponseWriter, r *http.Request) {
	imei := mux.Vars(r)["imei"]

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	events, err := s.store.ListByIMEI(r.Context(), imei, limit)
	if err != nil {
		s.log.Error("list by imei failed", "imei", imei, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imei": imei, "events": events})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
