package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/PlainFunction/cardtokenly/internal/common/models"
)

// TokenizationServiceGRPCClient implements TokenizationServiceInterface over
// a connection to a remote tokenizer process.
type TokenizationServiceGRPCClient struct {
	conn grpc.ClientConnInterface
}

// NewTokenizationServiceGRPCClient wraps an established connection.
func NewTokenizationServiceGRPCClient(conn grpc.ClientConnInterface) *TokenizationServiceGRPCClient {
	return &TokenizationServiceGRPCClient{conn: conn}
}

func (c *TokenizationServiceGRPCClient) invoke(ctx context.Context, method string, req, resp any) error {
	var trailer metadata.MD
	err := c.conn.Invoke(ctx, method, req, resp,
		grpc.CallContentSubtype(CodecName),
		grpc.Trailer(&trailer),
	)
	return fromStatus(method, err, trailer)
}

func (c *TokenizationServiceGRPCClient) Tokenize(ctx context.Context, accountNumber, merchantID string) (*models.TokenizationResult, error) {
	resp := new(models.TokenizationResult)
	req := &models.TokenizeRequest{AccountNumber: accountNumber, MerchantID: merchantID}
	if err := c.invoke(ctx, methodTokenize, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *TokenizationServiceGRPCClient) CreateInstrumentIdentifier(ctx context.Context, accountNumber, merchantID string) (string, error) {
	resp := new(models.RawResponse)
	req := &models.TokenizeRequest{AccountNumber: accountNumber, MerchantID: merchantID}
	if err := c.invoke(ctx, methodCreateInstrumentIdentifier, req, resp); err != nil {
		return "", err
	}
	return resp.Body, nil
}

func (c *TokenizationServiceGRPCClient) GetInstrumentIdentifier(ctx context.Context, instrumentIdentifierID, merchantID string) (string, error) {
	resp := new(models.RawResponse)
	req := &models.InstrumentRequest{InstrumentIdentifierID: instrumentIdentifierID, MerchantID: merchantID}
	if err := c.invoke(ctx, methodGetInstrumentIdentifier, req, resp); err != nil {
		return "", err
	}
	return resp.Body, nil
}

func (c *TokenizationServiceGRPCClient) GetPaymentCredentials(ctx context.Context, instrumentIdentifierID, merchantID string) (string, error) {
	resp := new(models.RawResponse)
	req := &models.InstrumentRequest{InstrumentIdentifierID: instrumentIdentifierID, MerchantID: merchantID}
	if err := c.invoke(ctx, methodGetPaymentCredentials, req, resp); err != nil {
		return "", err
	}
	return resp.Body, nil
}

func (c *TokenizationServiceGRPCClient) GetCredential(ctx context.Context, paymentTokenID string) (*models.CredentialRecord, error) {
	resp := new(models.CredentialRecord)
	req := &models.CredentialLookupRequest{PaymentTokenID: paymentTokenID}
	if err := c.invoke(ctx, methodGetCredential, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *TokenizationServiceGRPCClient) ListCredentials(ctx context.Context, merchantID string) ([]*models.CredentialRecord, error) {
	resp := new(models.CredentialList)
	req := &models.CredentialListRequest{MerchantID: merchantID}
	if err := c.invoke(ctx, methodListCredentials, req, resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}
