package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/PlainFunction/cardtokenly/internal/services"
)

func TestMetricsServerExposesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	// the same constructor the tokenizer process registers through
	services.NewMetrics(reg)
	persisted := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_tokenizer_events_total", Help: "test"})
	reg.MustRegister(persisted)
	persisted.Add(3)

	server := NewMetricsServer("0", reg, zerolog.Nop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_tokenizer_events_total 3")
	assert.Contains(t, rec.Body.String(), "tokenization_records_persisted_total")

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
