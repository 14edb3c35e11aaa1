package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/PlainFunction/cardtokenly/internal/common/logging"
	"github.com/PlainFunction/cardtokenly/internal/common/models"
	"github.com/PlainFunction/cardtokenly/internal/common/types"
)

// HealthChecker is implemented by dependencies that can report readiness,
// such as the postgres credential store.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type HandlerOptions struct {
	// Audit enables GET /v1/audit/logs when set
	Audit  types.AuditReader
	Health HealthChecker
	// Registry defaults to a fresh prometheus registry
	Registry *prometheus.Registry
	Logger   zerolog.Logger
}

type Handler struct {
	service types.TokenizationServiceInterface
	audit   types.AuditReader
	health  HealthChecker
	logger  zerolog.Logger

	gatherer prometheus.Gatherer

	// Prometheus metrics
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	tokenizeRequests prometheus.Counter
}

func NewHandler(service types.TokenizationServiceInterface, opts HandlerOptions) *Handler {
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	tokenizeRequests := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "api_tokenize_requests_total",
			Help: "Total number of successful network token requests",
		},
	)

	reg.MustRegister(requestsTotal, requestDuration, tokenizeRequests)

	return &Handler{
		service:          service,
		audit:            opts.Audit,
		health:           opts.Health,
		logger:           logging.Component(opts.Logger, "api"),
		gatherer:         reg,
		requestsTotal:    requestsTotal,
		requestDuration:  requestDuration,
		tokenizeRequests: tokenizeRequests,
	}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			h.writeJSON(w, r, start, "/health", http.StatusServiceUnavailable, models.ErrorResponse{
				Error:   "service_unavailable",
				Code:    "HEALTH_CHECK_FAILED",
				Message: "Health check failed: " + err.Error(),
			})
			return
		}
	}

	h.writeJSON(w, r, start, "/health", http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "cardtokenly",
		"timestamp": time.Now().UTC(),
	})
}

// CreateNetworkToken runs the full tokenization workflow.
func (h *Handler) CreateNetworkToken(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/v1/network-tokens"
	start := time.Now()

	var req models.TokenizeRequest
	if !h.decode(w, r, start, endpoint, &req) {
		return
	}

	result, err := h.service.Tokenize(r.Context(), req.AccountNumber, req.MerchantID)
	if err != nil {
		h.writeError(w, r, start, endpoint, "TOKENIZE_FAILED", err)
		return
	}

	h.tokenizeRequests.Inc()
	h.writeJSON(w, r, start, endpoint, http.StatusOK, result)
}

func (h *Handler) CreateInstrumentIdentifier(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/v1/instrument-identifiers"
	start := time.Now()

	var req models.TokenizeRequest
	if !h.decode(w, r, start, endpoint, &req) {
		return
	}

	body, err := h.service.CreateInstrumentIdentifier(r.Context(), req.AccountNumber, req.MerchantID)
	if err != nil {
		h.writeError(w, r, start, endpoint, "CREATE_INSTRUMENT_IDENTIFIER_FAILED", err)
		return
	}
	h.writeRaw(w, r, start, endpoint, body)
}

func (h *Handler) GetInstrumentIdentifier(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/v1/instrument-identifiers/{id}"
	start := time.Now()

	id := mux.Vars(r)["id"]
	body, err := h.service.GetInstrumentIdentifier(r.Context(), id, r.URL.Query().Get("merchantId"))
	if err != nil {
		h.writeError(w, r, start, endpoint, "GET_INSTRUMENT_IDENTIFIER_FAILED", err)
		return
	}
	h.writeRaw(w, r, start, endpoint, body)
}

func (h *Handler) GetPaymentCredentials(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/v1/payment-credentials/{id}"
	start := time.Now()

	id := mux.Vars(r)["id"]
	body, err := h.service.GetPaymentCredentials(r.Context(), id, r.URL.Query().Get("merchantId"))
	if err != nil {
		h.writeError(w, r, start, endpoint, "GET_PAYMENT_CREDENTIALS_FAILED", err)
		return
	}
	h.writeRaw(w, r, start, endpoint, body)
}

func (h *Handler) GetCredential(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/v1/credentials/{paymentTokenId}"
	start := time.Now()

	record, err := h.service.GetCredential(r.Context(), mux.Vars(r)["paymentTokenId"])
	if err != nil {
		h.writeError(w, r, start, endpoint, "GET_CREDENTIAL_FAILED", err)
		return
	}
	h.writeJSON(w, r, start, endpoint, http.StatusOK, record)
}

func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/v1/credentials"
	start := time.Now()

	records, err := h.service.ListCredentials(r.Context(), r.URL.Query().Get("merchantId"))
	if err != nil {
		h.writeError(w, r, start, endpoint, "LIST_CREDENTIALS_FAILED", err)
		return
	}
	if records == nil {
		records = []*models.CredentialRecord{}
	}
	h.writeJSON(w, r, start, endpoint, http.StatusOK, models.CredentialList{Records: records})
}

func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

func (h *Handler) GetAuditLogs(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/v1/audit/logs"
	start := time.Now()

	if h.audit == nil {
		h.writeJSON(w, r, start, endpoint, http.StatusNotImplemented, models.ErrorResponse{
			Error:   "not_implemented",
			Code:    "AUDIT_DISABLED",
			Message: "Audit log is not available in this deployment",
		})
		return
	}

	merchantID := r.URL.Query().Get("merchantId")
	if merchantID == "" {
		h.writeError(w, r, start, endpoint, "GET_AUDIT_LOGS_FAILED",
			&types.ValidationError{Field: "merchantId", Message: "is required"})
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			h.writeError(w, r, start, endpoint, "GET_AUDIT_LOGS_FAILED",
				&types.ValidationError{Field: "limit", Message: "must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	events, err := h.audit.ListEvents(r.Context(), merchantID, limit)
	if err != nil {
		h.writeError(w, r, start, endpoint, "GET_AUDIT_LOGS_FAILED", err)
		return
	}
	if events == nil {
		events = []*models.AuditEvent{}
	}
	h.writeJSON(w, r, start, endpoint, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, start time.Time, endpoint string, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeJSON(w, r, start, endpoint, http.StatusBadRequest, models.ErrorResponse{
			Error:   "bad_request",
			Code:    "INVALID_REQUEST_BODY",
			Message: "Invalid request body",
		})
		return false
	}
	return true
}

// statusFor maps an error kind onto the HTTP response.
func statusFor(err error, failureCode string) (int, models.ErrorResponse) {
	var apiErr *types.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		return status, models.ErrorResponse{
			Error:        "remote_api_error",
			Code:         "REMOTE_API_ERROR",
			Message:      err.Error(),
			StatusCode:   apiErr.StatusCode,
			ResponseBody: apiErr.Body,
		}
	}

	switch types.ErrorKind(err) {
	case types.KindValidation:
		return http.StatusBadRequest, models.ErrorResponse{Error: "bad_request", Code: "VALIDATION_FAILED", Message: err.Error()}
	case types.KindNotFound:
		return http.StatusNotFound, models.ErrorResponse{Error: "not_found", Code: "NOT_FOUND", Message: "Credential not found"}
	case types.KindNetwork:
		return http.StatusServiceUnavailable, models.ErrorResponse{Error: "service_unavailable", Code: "REMOTE_UNAVAILABLE", Message: err.Error()}
	default:
		return http.StatusInternalServerError, models.ErrorResponse{Error: "internal_server_error", Code: failureCode, Message: err.Error()}
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, start time.Time, endpoint, failureCode string, err error) {
	status, body := statusFor(err, failureCode)
	event := h.logger.Warn()
	if status >= http.StatusInternalServerError {
		event = h.logger.Error()
	}
	event.Err(err).
		Str("endpoint", endpoint).
		Str("kind", types.ErrorKind(err)).
		Int("status", status).
		Msg("Request failed")
	h.writeJSON(w, r, start, endpoint, status, body)
}

func (h *Handler) writeRaw(w http.ResponseWriter, r *http.Request, start time.Time, endpoint, body string) {
	h.observe(r.Method, endpoint, http.StatusOK, start)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, start time.Time, endpoint string, status int, v any) {
	h.observe(r.Method, endpoint, status, start)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to encode response")
	}
}

func (h *Handler) observe(method, endpoint string, status int, start time.Time) {
	h.requestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	h.requestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
}
