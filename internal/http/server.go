package http

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"time"

	"go.uber.org/zap"

	"logdash/internal/config"
	"logdash/internal/connectors/events"
	"logdash/internal/dashboard"
)

// EventLog is the read side of a durable event store.
type EventLog interface {
	Recent(ctx context.Context, limit int) ([]events.Event, error)
	Summary(ctx context.Context) ([]events.Summary, error)
}

// Deps are the collaborators the server routes to. Events may be nil.
type Deps struct {
	Dashboard *dashboard.Service
	Events    EventLog
	Logger    *zap.Logger
}

// Server wraps an HTTP server and route handlers.
type Server struct {
	httpServer *nethttp.Server
	logger     *zap.Logger
}

// NewServer creates a configured HTTP server with the dashboard and v1 endpoints.
func NewServer(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	h := &handlers{
		svc:       deps.Dashboard,
		events:    deps.Events,
		logger:    logger,
		accept:    cfg.AcceptAttr(),
		maxUpload: cfg.UploadMaxBytes,
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/", h.dashboardPage)
	mux.HandleFunc("/favicon.ico", faviconHandler)
	mux.HandleFunc("/upload", h.formUpload)
	mux.HandleFunc("/upload/reopen", h.reopenUpload)
	mux.HandleFunc("/refresh", h.refresh)
	mux.Handle("/metrics", metricsHandler())
	mux.HandleFunc("/api/v1/metrics/app", appMetricsSummaryHandler())
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", h.ready)
	mux.HandleFunc("/api/v1/dashboard", h.dashboardJSON)
	mux.HandleFunc("/api/v1/upload", h.apiUpload)
	mux.HandleFunc("/api/v1/export.xlsx", h.exportXLSX)
	mux.HandleFunc("/api/v1/catalog", h.catalog)
	mux.HandleFunc("/api/v1/events", h.eventLog)

	httpServer := &nethttp.Server{
		Addr:         cfg.ListenAddr,
		Handler:      loggingMiddleware(logger, observabilityMiddleware(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{httpServer: httpServer, logger: logger}
}

// Handler exposes the routed handler chain.
func (s *Server) Handler() nethttp.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func healthHandler(w nethttp.ResponseWriter, _ *nethttp.Request) {
	writeJSON(w, nethttp.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func faviconHandler(w nethttp.ResponseWriter, _ *nethttp.Request) {
	w.WriteHeader(nethttp.StatusNoContent)
}

func loggingMiddleware(logger *zap.Logger, next nethttp.Handler) nethttp.Handler {
	return nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: nethttp.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w nethttp.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
