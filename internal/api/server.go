package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/PlainFunction/cardtokenly/internal/common/config"
	"github.com/PlainFunction/cardtokenly/internal/common/logging"
)

type Server struct {
	config  *config.Config
	router  *mux.Router
	handler *Handler
	logger  zerolog.Logger
	root    http.Handler
	http    *http.Server
}

func NewServer(cfg *config.Config, handler *Handler, logger zerolog.Logger) *Server {
	server := &Server{
		config:  cfg,
		router:  mux.NewRouter(),
		handler: handler,
		logger:  logging.Component(logger, "http"),
	}

	// Setup routes
	server.setupRoutes()

	// CORS wraps the router so preflights are answered before route matching
	server.root = corsMiddleware(server.router)

	server.http = &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      server.root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.HandleFunc("/health", s.handler.HealthCheck).Methods("GET")

	// API v1 routes
	api := s.router.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/network-tokens", s.handler.CreateNetworkToken).Methods("POST")
	api.HandleFunc("/instrument-identifiers", s.handler.CreateInstrumentIdentifier).Methods("POST")
	api.HandleFunc("/instrument-identifiers/{id}", s.handler.GetInstrumentIdentifier).Methods("GET")
	api.HandleFunc("/payment-credentials/{id}", s.handler.GetPaymentCredentials).Methods("GET")

	// Stored credentials
	api.HandleFunc("/credentials", s.handler.ListCredentials).Methods("GET")
	api.HandleFunc("/credentials/{paymentTokenId}", s.handler.GetCredential).Methods("GET")

	// Metrics endpoint (Prometheus)
	api.HandleFunc("/metrics", s.handler.Metrics).Methods("GET")

	// Audit logs endpoint
	api.HandleFunc("/audit/logs", s.handler.GetAuditLogs).Methods("GET")

	// Middleware
	s.router.Use(s.loggingMiddleware)
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.root
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("Starting HTTP server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Middleware functions
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
