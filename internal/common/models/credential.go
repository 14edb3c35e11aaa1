package models

import "time"

// Metadata keys written on every persisted credential record.
const (
	MetadataInstrumentIdentifierID = "instrumentIdentifierId"
	MetadataAPIResponse            = "apiResponse"
	MetadataCreationTimestamp      = "creationTimestamp"
)

// CredentialRecord is the persisted outcome of a successful tokenization.
type CredentialRecord struct {
	ID             string         `json:"id"`
	PaymentTokenID string         `json:"paymentTokenId"`
	Cryptogram     string         `json:"cryptogram"`
	MerchantID     string         `json:"merchantId"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	Metadata       map[string]any `json:"metadata"`
}

// Clone returns a copy whose metadata map can be mutated independently.
func (r *CredentialRecord) Clone() *CredentialRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// TokenizationResult is returned to callers of a successful tokenization.
type TokenizationResult struct {
	NetworkToken        string `json:"networkToken"`
	Cryptogram          string `json:"cryptogram"`
	ElapsedMilliseconds int64  `json:"elapsedMilliseconds"`
	PaymentTokenID      string `json:"paymentTokenId"`
}

// TokenizeRequest is the inbound body for tokenization and instrument
// identifier creation.
type TokenizeRequest struct {
	AccountNumber string `json:"accountNumber"`
	MerchantID    string `json:"merchantId"`
}

// InstrumentRequest addresses an existing instrument identifier.
type InstrumentRequest struct {
	InstrumentIdentifierID string `json:"instrumentIdentifierId"`
	MerchantID             string `json:"merchantId"`
}

// RawResponse carries an unmodified remote response body.
type RawResponse struct {
	Body string `json:"body"`
}

// CredentialLookupRequest addresses a persisted record by payment token id.
type CredentialLookupRequest struct {
	PaymentTokenID string `json:"paymentTokenId"`
}

// CredentialListRequest selects all records of one merchant.
type CredentialListRequest struct {
	MerchantID string `json:"merchantId"`
}

// CredentialList wraps a merchant's records.
type CredentialList struct {
	Records []*CredentialRecord `json:"records"`
}

// AuditEvent records the outcome of one tokenization attempt.
type AuditEvent struct {
	AuditID       string            `json:"auditId"`
	Operation     string            `json:"operation"`
	MerchantID    string            `json:"merchantId"`
	AccountSuffix string            `json:"accountSuffix"`
	Status        string            `json:"status"`
	Step          string            `json:"step,omitempty"`
	ErrorKind     string            `json:"errorKind,omitempty"`
	ElapsedMillis int64             `json:"elapsedMilliseconds"`
	Timestamp     time.Time         `json:"timestamp"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type ErrorResponse struct {
	Error        string `json:"error"`
	Code         string `json:"code"`
	Message      string `json:"message"`
	StatusCode   int    `json:"statusCode,omitempty"`
	ResponseBody string `json:"responseBody,omitempty"`
}
