package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/PlainFunction/cardtokenly/internal/common/logging"
	"github.com/PlainFunction/cardtokenly/internal/common/models"
	"github.com/PlainFunction/cardtokenly/internal/common/types"
)

// Steps reported in errors, logs and audit events.
const (
	StepValidate                   = "validate"
	StepCreateInstrumentIdentifier = "create_instrument_identifier"
	StepParseInstrumentIdentifier  = "parse_instrument_identifier"
	StepGetInstrumentIdentifier    = "get_instrument_identifier"
	StepFetchNetworkToken          = "fetch_network_token"
	StepParseNetworkToken          = "parse_network_token"
	StepPersist                    = "persist"
	StepLookup                     = "lookup"

	OperationTokenize = "tokenize"

	statusSuccess = "success"
	statusFailure = "failure"
)

type Options struct {
	Audit   types.AuditLogger
	Metrics *Metrics
	Logger  zerolog.Logger
	// Now and NewPaymentTokenID default to time.Now and uuid.NewString
	Now               func() time.Time
	NewPaymentTokenID func() string
}

// TokenizationService turns an account number into a network token and
// cryptogram through two dependent remote calls, then records the outcome.
// Instances hold no per-request state and are safe for concurrent use.
type TokenizationService struct {
	client  types.RemoteTokenizationClient
	store   types.CredentialStore
	audit   types.AuditLogger
	metrics *Metrics
	logger  zerolog.Logger
	now     func() time.Time
	newID   func() string
}

func NewTokenizationService(client types.RemoteTokenizationClient, store types.CredentialStore, opts Options) *TokenizationService {
	s := &TokenizationService{
		client:  client,
		store:   store,
		audit:   opts.Audit,
		metrics: opts.Metrics,
		logger:  logging.Component(opts.Logger, "orchestrator"),
		now:     opts.Now,
		newID:   opts.NewPaymentTokenID,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Tokenize runs the full workflow. Step two never starts unless step one
// produced an instrument identifier, and nothing is persisted unless step two
// produced a token and cryptogram.
func (s *TokenizationService) Tokenize(ctx context.Context, accountNumber, merchantID string) (*models.TokenizationResult, error) {
	start := s.now()
	logger := s.logger.With().
		Str("merchant_id", merchantID).
		Str("account", logging.MaskAccountNumber(accountNumber)).
		Logger()

	fail := func(step string, err error) (*models.TokenizationResult, error) {
		elapsed := s.now().Sub(start)
		logger.Error().Err(err).Str("step", step).Str("kind", types.ErrorKind(err)).Msg("Tokenization failed")
		s.metrics.observeTokenize(types.ErrorKind(err), elapsed)
		s.recordAudit(ctx, &models.AuditEvent{
			Operation:     OperationTokenize,
			MerchantID:    merchantID,
			AccountSuffix: logging.AccountSuffix(accountNumber),
			Status:        statusFailure,
			Step:          step,
			ErrorKind:     types.ErrorKind(err),
			ElapsedMillis: elapsed.Milliseconds(),
		})
		return nil, err
	}

	if err := validateTokenizeInput(accountNumber, merchantID); err != nil {
		return fail(StepValidate, err)
	}

	createBody, err := s.client.CreateInstrumentIdentifier(ctx, accountNumber, merchantID)
	if err != nil {
		return fail(StepCreateInstrumentIdentifier, classify(StepCreateInstrumentIdentifier, err))
	}
	instrumentIdentifierID, err := parseInstrumentIdentifierID(createBody)
	if err != nil {
		return fail(StepParseInstrumentIdentifier, err)
	}
	logger.Debug().Str("instrument_identifier_id", instrumentIdentifierID).Msg("Instrument identifier created")

	tokenBody, err := s.client.FetchNetworkToken(ctx, instrumentIdentifierID, merchantID)
	if err != nil {
		return fail(StepFetchNetworkToken, classify(StepFetchNetworkToken, err))
	}
	networkToken, cryptogram, err := parseNetworkToken(tokenBody)
	if err != nil {
		return fail(StepParseNetworkToken, err)
	}

	elapsed := s.now().Sub(start)

	if err := ctx.Err(); err != nil {
		return fail(StepPersist, &types.OrchestrationError{Step: StepPersist, Message: "cancelled before persistence", Err: err})
	}

	record, err := s.persist(ctx, merchantID, instrumentIdentifierID, tokenBody, cryptogram)
	if err != nil {
		return fail(StepPersist, err)
	}

	s.metrics.observeTokenize(statusSuccess, elapsed)
	s.recordAudit(ctx, &models.AuditEvent{
		Operation:     OperationTokenize,
		MerchantID:    merchantID,
		AccountSuffix: logging.AccountSuffix(accountNumber),
		Status:        statusSuccess,
		ElapsedMillis: elapsed.Milliseconds(),
		Metadata: map[string]string{
			"paymentTokenId":         record.PaymentTokenID,
			"instrumentIdentifierId": instrumentIdentifierID,
		},
	})
	logger.Info().
		Str("payment_token_id", record.PaymentTokenID).
		Int64("elapsed_ms", elapsed.Milliseconds()).
		Msg("Tokenization completed")

	return &models.TokenizationResult{
		NetworkToken:        networkToken,
		Cryptogram:          cryptogram,
		ElapsedMilliseconds: elapsed.Milliseconds(),
		PaymentTokenID:      record.PaymentTokenID,
	}, nil
}

// CreateInstrumentIdentifier forwards step one alone and returns the raw body.
func (s *TokenizationService) CreateInstrumentIdentifier(ctx context.Context, accountNumber, merchantID string) (string, error) {
	if err := validateTokenizeInput(accountNumber, merchantID); err != nil {
		return "", err
	}
	body, err := s.client.CreateInstrumentIdentifier(ctx, accountNumber, merchantID)
	if err != nil {
		s.logFailure(StepCreateInstrumentIdentifier, merchantID, err)
		return "", classify(StepCreateInstrumentIdentifier, err)
	}
	return body, nil
}

func (s *TokenizationService) GetInstrumentIdentifier(ctx context.Context, instrumentIdentifierID, merchantID string) (string, error) {
	if err := validateInstrumentInput(instrumentIdentifierID, merchantID); err != nil {
		return "", err
	}
	body, err := s.client.GetInstrumentIdentifier(ctx, instrumentIdentifierID, merchantID)
	if err != nil {
		s.logFailure(StepGetInstrumentIdentifier, merchantID, err)
		return "", classify(StepGetInstrumentIdentifier, err)
	}
	return body, nil
}

// GetPaymentCredentials fetches the network token for an existing instrument
// identifier, persists a credential record for it and returns the raw body.
func (s *TokenizationService) GetPaymentCredentials(ctx context.Context, instrumentIdentifierID, merchantID string) (string, error) {
	if err := validateInstrumentInput(instrumentIdentifierID, merchantID); err != nil {
		return "", err
	}

	body, err := s.client.FetchNetworkToken(ctx, instrumentIdentifierID, merchantID)
	if err != nil {
		s.logFailure(StepFetchNetworkToken, merchantID, err)
		return "", classify(StepFetchNetworkToken, err)
	}
	_, cryptogram, err := parseNetworkToken(body)
	if err != nil {
		s.logFailure(StepParseNetworkToken, merchantID, err)
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", &types.OrchestrationError{Step: StepPersist, Message: "cancelled before persistence", Err: err}
	}

	record, err := s.persist(ctx, merchantID, instrumentIdentifierID, body, cryptogram)
	if err != nil {
		s.logFailure(StepPersist, merchantID, err)
		return "", err
	}
	s.logger.Info().
		Str("merchant_id", merchantID).
		Str("payment_token_id", record.PaymentTokenID).
		Msg("Payment credentials persisted")
	return body, nil
}

// GetCredential returns the stored record or an error wrapping ErrNotFound.
func (s *TokenizationService) GetCredential(ctx context.Context, paymentTokenID string) (*models.CredentialRecord, error) {
	if paymentTokenID == "" {
		return nil, &types.ValidationError{Field: "paymentTokenId", Message: "is required"}
	}
	record, found, err := s.store.FindByPaymentTokenID(ctx, paymentTokenID)
	if err != nil {
		return nil, asPersistenceError(StepLookup, err)
	}
	if !found {
		return nil, types.ErrNotFound
	}
	return record, nil
}

func (s *TokenizationService) ListCredentials(ctx context.Context, merchantID string) ([]*models.CredentialRecord, error) {
	if merchantID == "" {
		return nil, &types.ValidationError{Field: "merchantId", Message: "is required"}
	}
	records, err := s.store.FindByMerchantID(ctx, merchantID)
	if err != nil {
		return nil, asPersistenceError(StepLookup, err)
	}
	return records, nil
}

func (s *TokenizationService) persist(ctx context.Context, merchantID, instrumentIdentifierID, apiResponse, cryptogram string) (*models.CredentialRecord, error) {
	record := &models.CredentialRecord{
		PaymentTokenID: s.newID(),
		Cryptogram:     cryptogram,
		MerchantID:     merchantID,
		Metadata: map[string]any{
			models.MetadataInstrumentIdentifierID: instrumentIdentifierID,
			models.MetadataAPIResponse:            apiResponse,
			models.MetadataCreationTimestamp:      s.now().UTC().Format(time.RFC3339Nano),
		},
	}

	saved, err := s.store.Save(ctx, record)
	if err != nil {
		return nil, asPersistenceError("save", err)
	}
	s.metrics.recordPersisted()
	return saved, nil
}

func (s *TokenizationService) recordAudit(ctx context.Context, event *models.AuditEvent) {
	if s.audit == nil {
		return
	}
	// outlives caller cancellation
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.audit.LogEvent(auditCtx, event); err != nil {
		s.logger.Warn().Err(err).Str("merchant_id", event.MerchantID).Msg("Failed to write audit event")
	}
}

func (s *TokenizationService) logFailure(step, merchantID string, err error) {
	s.logger.Error().
		Err(err).
		Str("step", step).
		Str("merchant_id", merchantID).
		Str("kind", types.ErrorKind(err)).
		Msg("Operation failed")
}

// classify keeps known error kinds and wraps anything else.
func classify(step string, err error) error {
	if types.ErrorKind(err) != types.KindInternal {
		return err
	}
	return &types.OrchestrationError{Step: step, Message: "unexpected failure", Err: err}
}

func asPersistenceError(op string, err error) error {
	var persistErr *types.PersistenceError
	if errors.As(err, &persistErr) {
		return err
	}
	return &types.PersistenceError{Op: op, Err: err}
}

func parseInstrumentIdentifierID(body string) (string, error) {
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return "", &types.OrchestrationError{Step: StepParseInstrumentIdentifier, Message: "unparseable instrument identifier response", Err: err}
	}
	if payload.ID == "" {
		return "", &types.OrchestrationError{Step: StepParseInstrumentIdentifier, Message: "instrument identifier response has no id"}
	}
	return payload.ID, nil
}

func parseNetworkToken(body string) (string, string, error) {
	var payload struct {
		NetworkToken *struct {
			Number     string `json:"number"`
			Cryptogram string `json:"cryptogram"`
		} `json:"networkToken"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return "", "", &types.OrchestrationError{Step: StepParseNetworkToken, Message: "unparseable network token response", Err: err}
	}
	if payload.NetworkToken == nil {
		return "", "", &types.OrchestrationError{Step: StepParseNetworkToken, Message: "network token response has no networkToken"}
	}
	if payload.NetworkToken.Number == "" {
		return "", "", &types.OrchestrationError{Step: StepParseNetworkToken, Message: "network token response has no number"}
	}
	if payload.NetworkToken.Cryptogram == "" {
		return "", "", &types.OrchestrationError{Step: StepParseNetworkToken, Message: "network token response has no cryptogram"}
	}
	return payload.NetworkToken.Number, payload.NetworkToken.Cryptogram, nil
}

func validateTokenizeInput(accountNumber, merchantID string) error {
	if merchantID == "" {
		return &types.ValidationError{Field: "merchantId", Message: "is required"}
	}
	if len(accountNumber) < 12 || len(accountNumber) > 19 {
		return &types.ValidationError{Field: "accountNumber", Message: "must be 12 to 19 digits"}
	}
	for _, r := range accountNumber {
		if r < '0' || r > '9' {
			return &types.ValidationError{Field: "accountNumber", Message: "must contain digits only"}
		}
	}
	return nil
}

func validateInstrumentInput(instrumentIdentifierID, merchantID string) error {
	if merchantID == "" {
		return &types.ValidationError{Field: "merchantId", Message: "is required"}
	}
	if instrumentIdentifierID == "" {
		return &types.ValidationError{Field: "instrumentIdentifierId", Message: "is required"}
	}
	return nil
}
