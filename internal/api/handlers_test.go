package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PlainFunction/cardtokenly/internal/common/config"
	"github.com/PlainFunction/cardtokenly/internal/common/models"
	"github.com/PlainFunction/cardtokenly/internal/common/types"
	"github.com/PlainFunction/cardtokenly/internal/services"
)

type stubService struct {
	result  *models.TokenizationResult
	body    string
	record  *models.CredentialRecord
	records []*models.CredentialRecord
	err     error

	gotID       string
	gotMerchant string
}

func (s *stubService) Tokenize(_ context.Context, _, merchantID string) (*models.TokenizationResult, error) {
	s.gotMerchant = merchantID
	return s.result, s.err
}

func (s *stubService) CreateInstrumentIdentifier(_ context.Context, _, merchantID string) (string, error) {
	s.gotMerchant = merchantID
	return s.body, s.err
}

func (s *stubService) GetInstrumentIdentifier(_ context.Context, id, merchantID string) (string, error) {
	s.gotID, s.gotMerchant = id, merchantID
	return s.body, s.err
}

func (s *stubService) GetPaymentCredentials(_ context.Context, id, merchantID string) (string, error) {
	s.gotID, s.gotMerchant = id, merchantID
	return s.body, s.err
}

func (s *stubService) GetCredential(_ context.Context, paymentTokenID string) (*models.CredentialRecord, error) {
	s.gotID = paymentTokenID
	return s.record, s.err
}

func (s *stubService) ListCredentials(_ context.Context, merchantID string) ([]*models.CredentialRecord, error) {
	s.gotMerchant = merchantID
	return s.records, s.err
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func newTestServer(t *testing.T, svc types.TokenizationServiceInterface, opts HandlerOptions) (http.Handler, *Handler) {
	t.Helper()
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	opts.Logger = zerolog.Nop()
	handler := NewHandler(svc, opts)
	server := NewServer(&config.Config{APIPort: "0"}, handler, zerolog.Nop())
	return server.Handler(), handler
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateNetworkToken(t *testing.T) {
	svc := &stubService{result: &models.TokenizationResult{
		NetworkToken:        "1234567890123456",
		Cryptogram:          "abc123",
		ElapsedMilliseconds: 42,
		PaymentTokenID:      "tok-1",
	}}
	h, handler := newTestServer(t, svc, HandlerOptions{})

	rec := do(t, h, http.MethodPost, "/v1/network-tokens", `{"accountNumber":"4111111111111111","merchantId":"m-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var result models.TokenizationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, *svc.result, result)
	assert.Equal(t, "m-1", svc.gotMerchant)

	assert.Equal(t, 1.0, testutil.ToFloat64(handler.tokenizeRequests))
	assert.Equal(t, 1.0, testutil.ToFloat64(handler.requestsTotal.WithLabelValues("POST", "/v1/network-tokens", "200")))
}

func TestCreateNetworkTokenInvalidBody(t *testing.T) {
	h, _ := newTestServer(t, &stubService{}, HandlerOptions{})

	rec := do(t, h, http.MethodPost, "/v1/network-tokens", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST_BODY", decodeError(t, rec).Code)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &types.ValidationError{Field: "merchantId", Message: "is required"}, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"remote api", &types.APIError{Op: "create", StatusCode: 400, Body: `{"message":"Invalid card number"}`}, http.StatusBadRequest, "REMOTE_API_ERROR"},
		{"remote api odd status", &types.APIError{Op: "create", StatusCode: 302, Body: ""}, http.StatusBadGateway, "REMOTE_API_ERROR"},
		{"network", &types.NetworkError{Op: "fetch", Err: context.DeadlineExceeded}, http.StatusServiceUnavailable, "REMOTE_UNAVAILABLE"},
		{"persistence", &types.PersistenceError{Op: "save", Err: errors.New("disk full")}, http.StatusInternalServerError, "TOKENIZE_FAILED"},
		{"orchestration", &types.OrchestrationError{Step: "parse_network_token", Message: "no cryptogram"}, http.StatusInternalServerError, "TOKENIZE_FAILED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, _ := newTestServer(t, &stubService{err: tc.err}, HandlerOptions{})

			rec := do(t, h, http.MethodPost, "/v1/network-tokens", `{"accountNumber":"4111111111111111","merchantId":"m-1"}`)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, decodeError(t, rec).Code)
		})
	}
}

func TestRemoteAPIErrorCarriesBody(t *testing.T) {
	body := `{"message":"Invalid card number"}`
	h, _ := newTestServer(t, &stubService{err: &types.APIError{Op: "create", StatusCode: 400, Body: body}}, HandlerOptions{})

	rec := do(t, h, http.MethodPost, "/v1/instrument-identifiers", `{"accountNumber":"4111111111111111","merchantId":"m-1"}`)
	resp := decodeError(t, rec)
	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, body, resp.ResponseBody)
}

func TestRawBodyEndpoints(t *testing.T) {
	svc := &stubService{body: `{"id":"7010000000016241111","state":"ACTIVE"}`}
	h, _ := newTestServer(t, svc, HandlerOptions{})

	rec := do(t, h, http.MethodPost, "/v1/instrument-identifiers", `{"accountNumber":"4111111111111111","merchantId":"m-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, svc.body, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/v1/instrument-identifiers/7010000000016241111?merchantId=m-2", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, svc.body, rec.Body.String())
	assert.Equal(t, "7010000000016241111", svc.gotID)
	assert.Equal(t, "m-2", svc.gotMerchant)

	rec = do(t, h, http.MethodGet, "/v1/payment-credentials/7010000000016241112?merchantId=m-3", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "7010000000016241112", svc.gotID)
	assert.Equal(t, "m-3", svc.gotMerchant)
}

func TestCredentialEndpoints(t *testing.T) {
	record := &models.CredentialRecord{ID: "rec-1", PaymentTokenID: "tok-1", Cryptogram: "abc123", MerchantID: "m-1"}
	svc := &stubService{record: record}
	h, _ := newTestServer(t, svc, HandlerOptions{})

	rec := do(t, h, http.MethodGet, "/v1/credentials/tok-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.CredentialRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "tok-1", got.PaymentTokenID)
	assert.Equal(t, "tok-1", svc.gotID)

	rec = do(t, h, http.MethodGet, "/v1/credentials?merchantId=m-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list models.CredentialList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.NotNil(t, list.Records)
	assert.Empty(t, list.Records)

	missing := &stubService{err: types.ErrNotFound}
	h, _ = newTestServer(t, missing, HandlerOptions{})
	rec = do(t, h, http.MethodGet, "/v1/credentials/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Code)
}

func TestAuditLogs(t *testing.T) {
	audit := services.NewMemoryAuditLog(10)
	ctx := context.Background()
	require.NoError(t, audit.LogEvent(ctx, &models.AuditEvent{Operation: "tokenize", MerchantID: "m-1", Status: "success"}))
	require.NoError(t, audit.LogEvent(ctx, &models.AuditEvent{Operation: "tokenize", MerchantID: "m-1", Status: "failure"}))
	require.NoError(t, audit.LogEvent(ctx, &models.AuditEvent{Operation: "tokenize", MerchantID: "m-2", Status: "success"}))

	h, _ := newTestServer(t, &stubService{}, HandlerOptions{Audit: audit})

	rec := do(t, h, http.MethodGet, "/v1/audit/logs?merchantId=m-1&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Events []models.AuditEvent `json:"events"`
		Count  int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "failure", resp.Events[0].Status)

	rec = do(t, h, http.MethodGet, "/v1/audit/logs", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/audit/logs?merchantId=m-1&limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	disabled, _ := newTestServer(t, &stubService{}, HandlerOptions{})
	rec = do(t, disabled, http.MethodGet, "/v1/audit/logs?merchantId=m-1", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	h, _ := newTestServer(t, &stubService{}, HandlerOptions{})

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = do(t, h, http.MethodGet, "/v1/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "api_requests_total")

	unhealthy, _ := newTestServer(t, &stubService{}, HandlerOptions{Health: failingPinger{}})
	rec = do(t, unhealthy, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "HEALTH_CHECK_FAILED", decodeError(t, rec).Code)
}

func TestCORSHeaders(t *testing.T) {
	h, _ := newTestServer(t, &stubService{}, HandlerOptions{})

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	for _, path := range []string{"/v1/network-tokens", "/v1/credentials/tok-1", "/v1/audit/logs"} {
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		req.Header.Set("Origin", "https://merchant.example")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code, path)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"), path)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST", path)
	}

	// error responses carry the headers too
	rec = do(t, h, http.MethodGet, "/v1/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
