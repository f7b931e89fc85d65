// Package api provides the local HTTP API of the crash relay: report
// capture and submission, queue inspection, consent control and an event
// stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/config"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/events"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/journal"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/logging"
	"github.com/hugo-lorenzo-mato/crashrelay/internal/pipeline"
)

// DeliveryLister returns recently confirmed deliveries.
type DeliveryLister interface {
	Recent(ctx context.Context, limit int) ([]journal.Delivery, error)
}

// Server provides the HTTP endpoints.
type Server struct {
	router      chi.Router
	pipeline    *pipeline.Pipeline
	deliveries  DeliveryLister
	eventBus    *events.EventBus
	config      *config.Config
	logger      *logging.Logger
	corsOrigins []string
	instanceID  string
	started     time.Time
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEventBus enables the event stream.
func WithEventBus(bus *events.EventBus) ServerOption {
	return func(s *Server) {
		s.eventBus = bus
	}
}

// WithDeliveries enables the deliveries endpoint.
func WithDeliveries(d DeliveryLister) ServerOption {
	return func(s *Server) {
		s.deliveries = d
	}
}

// WithConfig exposes cfg on the config endpoint.
func WithConfig(cfg *config.Config) ServerOption {
	return func(s *Server) {
		s.config = cfg
	}
}

// WithCORSOrigins sets the origins allowed to call the API from a browser.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithInstanceID reports id on the health endpoint.
func WithInstanceID(id string) ServerOption {
	return func(s *Server) {
		s.instanceID = id
	}
}

// NewServer creates a new API server.
func NewServer(p *pipeline.Pipeline, opts ...ServerOption) *Server {
	s := &Server{
		pipeline: p,
		logger:   logging.NewNop(),
		started:  time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("api")

	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures Chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	origins := s.corsOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "If-None-Match", "X-Requested-With"},
		ExposedHeaders:   []string{"ETag", "Location"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			// Everything except the event stream is bounded.
			r.Use(middleware.Timeout(60 * time.Second))

			r.Route("/reports", func(r chi.Router) {
				r.Get("/", s.handleListReports)
				r.Post("/", s.handleCaptureReport)

				r.Route("/{reportID}", func(r chi.Router) {
					r.Get("/", s.handleGetReport)
					r.Delete("/", s.handlePurgeReport)
					r.Post("/submit", s.handleSubmitReport)
				})
			})

			r.Get("/queue", s.handleQueue)
			r.Get("/deliveries", s.handleDeliveries)

			r.Route("/consent", func(r chi.Router) {
				r.Get("/", s.handleConsentStatus)
				r.Post("/grant", s.handleConsentGrant)
				r.Post("/revoke", s.handleConsentRevoke)
			})

			r.Get("/config", s.handleGetConfig)
		})

		r.Get("/events", s.handleSSE)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// respondError sends a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]interface{}{
		"status":  "healthy",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"consent": s.pipeline.Gate().Enabled(),
	}
	if s.instanceID != "" {
		body["instance_id"] = s.instanceID
	}
	respondJSON(w, http.StatusOK, body)
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
