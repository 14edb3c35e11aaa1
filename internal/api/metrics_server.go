package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/PlainFunction/cardtokenly/internal/common/logging"
)

// MetricsServer serves GET /metrics for processes that have no public HTTP
// surface, such as the gRPC tokenizer.
type MetricsServer struct {
	router *mux.Router
	http   *http.Server
	logger zerolog.Logger
}

func NewMetricsServer(port string, gatherer prometheus.Gatherer, logger zerolog.Logger) *MetricsServer {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	return &MetricsServer{
		router: router,
		http: &http.Server{
			Addr:         ":" + port,
			Handler:      router,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		logger: logging.Component(logger, "metrics"),
	}
}

func (m *MetricsServer) Handler() http.Handler {
	return m.router
}

// Start blocks until Shutdown is called.
func (m *MetricsServer) Start() error {
	m.logger.Info().Str("addr", m.http.Addr).Msg("Starting metrics server")
	if err := m.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.http.Shutdown(ctx)
}
