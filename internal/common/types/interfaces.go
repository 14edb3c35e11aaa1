package types

import (
	"context"

	"github.com/PlainFunction/cardtokenly/internal/common/models"
)

// RequestSigner builds the bearer token presented on every outbound call.
type RequestSigner interface {
	Sign(issuer, subject, keyID, resourcePath, httpMethod string) (string, error)
}

// RemoteTokenizationClient issues calls to the remote tokenization API and
// returns raw response bodies on 2xx.
type RemoteTokenizationClient interface {
	CreateInstrumentIdentifier(ctx context.Context, accountNumber, merchantID string) (string, error)
	GetInstrumentIdentifier(ctx context.Context, instrumentIdentifierID, merchantID string) (string, error)
	FetchNetworkToken(ctx context.Context, instrumentIdentifierID, merchantID string) (string, error)
}

// CredentialStore persists credential records. Implementations enforce
// uniqueness of the payment token id with their native mechanism.
type CredentialStore interface {
	Save(ctx context.Context, record *models.CredentialRecord) (*models.CredentialRecord, error)
	FindByPaymentTokenID(ctx context.Context, paymentTokenID string) (*models.CredentialRecord, bool, error)
	FindByMerchantID(ctx context.Context, merchantID string) ([]*models.CredentialRecord, error)
	ExistsByPaymentTokenID(ctx context.Context, paymentTokenID string) (bool, error)
}

// AuditLogger records tokenization outcomes.
type AuditLogger interface {
	LogEvent(ctx context.Context, event *models.AuditEvent) error
}

// AuditReader lists recorded tokenization outcomes, newest first.
type AuditReader interface {
	ListEvents(ctx context.Context, merchantID string, limit int) ([]*models.AuditEvent, error)
}

// TokenizationServiceInterface is the contract exposed by the HTTP and gRPC
// surfaces, implemented in-process and by the remote gRPC client.
type TokenizationServiceInterface interface {
	Tokenize(ctx context.Context, accountNumber, merchantID string) (*models.TokenizationResult, error)
	CreateInstrumentIdentifier(ctx context.Context, accountNumber, merchantID string) (string, error)
	GetInstrumentIdentifier(ctx context.Context, instrumentIdentifierID, merchantID string) (string, error)
	GetPaymentCredentials(ctx context.Context, instrumentIdentifierID, merchantID string) (string, error)
	GetCredential(ctx context.Context, paymentTokenID string) (*models.CredentialRecord, error)
	ListCredentials(ctx context.Context, merchantID string) ([]*models.CredentialRecord, error)
}
