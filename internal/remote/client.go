package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/PlainFunction/cardtokenly/internal/common/logging"
	"github.com/PlainFunction/cardtokenly/internal/common/types"
)

const (
	DefaultTimeout       = 30 * time.Second
	maxResponseBodyBytes = 10 << 20 // 10 MiB

	OpCreateInstrumentIdentifier = "create_instrument_identifier"
	OpGetInstrumentIdentifier    = "get_instrument_identifier"
	OpFetchNetworkToken          = "fetch_network_token"
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	BaseURL        string
	ResourcePrefix string
	APIKey         string
	KeyID          string
	Timeout        time.Duration
	HTTPClient     HTTPDoer
	Metrics        *Metrics
	Logger         zerolog.Logger
}

// Client talks to the remote tokenization API. Every request carries a
// freshly signed bearer token scoped to its resource path and method.
type Client struct {
	baseURL        string
	resourcePrefix string
	apiKey         string
	keyID          string
	timeout        time.Duration
	httpClient     HTTPDoer
	signer         types.RequestSigner
	metrics        *Metrics
	logger         zerolog.Logger
}

func NewClient(cfg Config, signer types.RequestSigner) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		resourcePrefix: normalizePrefix(cfg.ResourcePrefix),
		apiKey:         cfg.APIKey,
		keyID:          cfg.KeyID,
		timeout:        timeout,
		httpClient:     httpClient,
		signer:         signer,
		metrics:        cfg.Metrics,
		logger:         logging.Component(cfg.Logger, "remote-client"),
	}
}

type createInstrumentIdentifierBody struct {
	Card struct {
		Number string `json:"number"`
	} `json:"card"`
}

// CreateInstrumentIdentifier registers a card number with the remote API and
// returns the raw response body.
func (c *Client) CreateInstrumentIdentifier(ctx context.Context, accountNumber, merchantID string) (string, error) {
	var body createInstrumentIdentifierBody
	body.Card.Number = accountNumber

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode instrument identifier request: %w", err)
	}
	return c.do(ctx, OpCreateInstrumentIdentifier, http.MethodPost, "/instrumentidentifiers", merchantID, payload)
}

// GetInstrumentIdentifier retrieves an existing instrument identifier.
func (c *Client) GetInstrumentIdentifier(ctx context.Context, instrumentIdentifierID, merchantID string) (string, error) {
	resource := "/instrumentidentifiers/" + url.PathEscape(instrumentIdentifierID)
	return c.do(ctx, OpGetInstrumentIdentifier, http.MethodGet, resource, merchantID, nil)
}

// FetchNetworkToken retrieves the network token and cryptogram provisioned for
// an instrument identifier.
func (c *Client) FetchNetworkToken(ctx context.Context, instrumentIdentifierID, merchantID string) (string, error) {
	resource := "/instrumentidentifiers/" + url.PathEscape(instrumentIdentifierID) + "/networktokens"
	return c.do(ctx, OpFetchNetworkToken, http.MethodGet, resource, merchantID, nil)
}

func (c *Client) do(ctx context.Context, op, method, resource, merchantID string, payload []byte) (string, error) {
	start := time.Now()
	resourcePath := c.resourcePrefix + resource

	token, err := c.signer.Sign(merchantID, c.apiKey, c.keyID, resourcePath, method)
	if err != nil {
		c.metrics.observe(op, outcomeFor(err), time.Since(start))
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+resourcePath, reader)
	if err != nil {
		c.metrics.observe(op, outcomeError, time.Since(start))
		return "", fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("v-c-merchant-id", merchantID)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		netErr := &types.NetworkError{Op: op, Err: err}
		c.metrics.observe(op, outcomeFor(netErr), time.Since(start))
		c.logger.Warn().Err(err).Str("operation", op).Str("merchant_id", merchantID).Msg("Remote call failed")
		return "", netErr
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes+1))
	if err != nil {
		netErr := &types.NetworkError{Op: op, Err: fmt.Errorf("read response body: %w", err)}
		c.metrics.observe(op, outcomeFor(netErr), time.Since(start))
		return "", netErr
	}
	if len(raw) > maxResponseBodyBytes {
		netErr := &types.NetworkError{Op: op, Err: fmt.Errorf("response body exceeds %d bytes", maxResponseBodyBytes)}
		c.metrics.observe(op, outcomeFor(netErr), time.Since(start))
		return "", netErr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &types.APIError{Op: op, StatusCode: resp.StatusCode, Body: string(raw)}
		c.metrics.observe(op, outcomeFor(apiErr), time.Since(start))
		c.logger.Warn().
			Str("operation", op).
			Str("merchant_id", merchantID).
			Int("status", resp.StatusCode).
			Msg("Remote API returned an error status")
		return "", apiErr
	}

	c.metrics.observe(op, outcomeSuccess, time.Since(start))
	c.logger.Debug().
		Str("operation", op).
		Str("merchant_id", merchantID).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("Remote call succeeded")
	return string(raw), nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	return "/" + prefix
}
