// Package api serves the read-only status surface of Intelify: liveness,
// Prometheus metrics, source health and related-IOC lookups.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/subrat243/Intelify/core"
	"github.com/subrat243/Intelify/threat"
)

const maxRelatedLimit = 100

// HealthReader lists the health projection of every source
type HealthReader interface {
	ListSourceHealth(ctx context.Context) ([]core.SourceHealth, error)
}

// RelatedFinder looks up IOCs related to one IOC
type RelatedFinder interface {
	FindRelated(ctx context.Context, iocID string, limit int) ([]threat.RelatedIOC, error)
}

// RunningChecker reports whether the scheduler is running
type RunningChecker interface {
	IsRunning() bool
}

// ServerConfig wires the server to its data sources
type ServerConfig struct {
	Health    HealthReader
	Related   RelatedFinder
	Scheduler RunningChecker
	// RatePerSecond bounds requests across all clients. Zero disables limiting.
	RatePerSecond float64
	Logger        *zap.SugaredLogger
}

// Server holds the status HTTP server
type Server struct {
	router    *mux.Router
	server    *http.Server
	health    HealthReader
	related   RelatedFinder
	scheduler RunningChecker
	limiter   *rate.Limiter
	logger    *zap.SugaredLogger
}

// NewServer creates a status server
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &Server{
		router:    mux.NewRouter(),
		health:    cfg.Health,
		related:   cfg.Related,
		scheduler: cfg.Scheduler,
		logger:    logger,
	}
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.rateLimitMiddleware)
	s.router.HandleFunc("/healthz", s.healthCheck).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/sources/health", s.getSourceHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/iocs/{id}/related", s.getRelatedIOCs).Methods(http.MethodGet)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and blocks until the server stops
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infow("Status API listening", "addr", addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if s.scheduler != nil && !s.scheduler.IsRunning() {
		status = "degraded"
	}
	s.respondJSON(w, map[string]string{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	}, http.StatusOK)
}

func (s *Server) getSourceHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Source health unavailable", nil)
		return
	}

	health, err := s.health.ListSourceHealth(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list source health", err)
		return
	}
	if health == nil {
		health = []core.SourceHealth{}
	}
	s.respondJSON(w, health, http.StatusOK)
}

func (s *Server) getRelatedIOCs(w http.ResponseWriter, r *http.Request) {
	if s.related == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Related lookup unavailable", nil)
		return
	}

	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid IOC id", nil)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRelatedLimit {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxRelatedLimit), nil)
			return
		}
		limit = n
	}

	related, err := s.related.FindRelated(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to find related IOCs", err)
		return
	}
	s.respondJSON(w, related, http.StatusOK)
}

// =============================================================================
// Helpers
// =============================================================================

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", data))
	}
}

// writeError logs the full error and returns only the message to the client
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string, err error) {
	if err != nil {
		s.logger.Errorw(message,
			"error", err,
			"status_code", statusCode)
	} else {
		s.logger.Debugw(message, "status_code", statusCode)
	}
	s.respondJSON(w, map[string]string{"error": message}, statusCode)
}
