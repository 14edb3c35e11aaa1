package grpc

import (
	"context"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/PlainFunction/cardtokenly/internal/common/logging"
	"github.com/PlainFunction/cardtokenly/internal/common/models"
	"github.com/PlainFunction/cardtokenly/internal/common/types"
)

// TokenizationServiceName is the fully qualified gRPC service name.
const TokenizationServiceName = "tokenization.TokenizationService"

const (
	methodTokenize                   = "/" + TokenizationServiceName + "/Tokenize"
	methodCreateInstrumentIdentifier = "/" + TokenizationServiceName + "/CreateInstrumentIdentifier"
	methodGetInstrumentIdentifier    = "/" + TokenizationServiceName + "/GetInstrumentIdentifier"
	methodGetPaymentCredentials      = "/" + TokenizationServiceName + "/GetPaymentCredentials"
	methodGetCredential              = "/" + TokenizationServiceName + "/GetCredential"
	methodListCredentials            = "/" + TokenizationServiceName + "/ListCredentials"
)

// TokenizationRPCServer is the server side of the tokenization service.
type TokenizationRPCServer interface {
	Tokenize(context.Context, *models.TokenizeRequest) (*models.TokenizationResult, error)
	CreateInstrumentIdentifier(context.Context, *models.TokenizeRequest) (*models.RawResponse, error)
	GetInstrumentIdentifier(context.Context, *models.InstrumentRequest) (*models.RawResponse, error)
	GetPaymentCredentials(context.Context, *models.InstrumentRequest) (*models.RawResponse, error)
	GetCredential(context.Context, *models.CredentialLookupRequest) (*models.CredentialRecord, error)
	ListCredentials(context.Context, *models.CredentialListRequest) (*models.CredentialList, error)
}

// TokenizationServiceServer adapts a TokenizationServiceInterface to the
// gRPC surface. Errors leave as status codes with the typed detail in
// trailers.
type TokenizationServiceServer struct {
	service types.TokenizationServiceInterface
	logger  zerolog.Logger
}

func NewTokenizationServiceServer(service types.TokenizationServiceInterface, logger zerolog.Logger) *TokenizationServiceServer {
	return &TokenizationServiceServer{
		service: service,
		logger:  logging.Component(logger, "tokenization-grpc"),
	}
}

// RegisterTokenizationServiceServer registers srv on s.
func RegisterTokenizationServiceServer(s grpc.ServiceRegistrar, srv TokenizationRPCServer) {
	s.RegisterService(&tokenizationServiceDesc, srv)
}

func (s *TokenizationServiceServer) Tokenize(ctx context.Context, req *models.TokenizeRequest) (*models.TokenizationResult, error) {
	s.logger.Debug().Str("merchant_id", req.MerchantID).Msg("Received Tokenize request")
	result, err := s.service.Tokenize(ctx, req.AccountNumber, req.MerchantID)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return result, nil
}

func (s *TokenizationServiceServer) CreateInstrumentIdentifier(ctx context.Context, req *models.TokenizeRequest) (*models.RawResponse, error) {
	body, err := s.service.CreateInstrumentIdentifier(ctx, req.AccountNumber, req.MerchantID)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &models.RawResponse{Body: body}, nil
}

func (s *TokenizationServiceServer) GetInstrumentIdentifier(ctx context.Context, req *models.InstrumentRequest) (*models.RawResponse, error) {
	body, err := s.service.GetInstrumentIdentifier(ctx, req.InstrumentIdentifierID, req.MerchantID)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &models.RawResponse{Body: body}, nil
}

func (s *TokenizationServiceServer) GetPaymentCredentials(ctx context.Context, req *models.InstrumentRequest) (*models.RawResponse, error) {
	body, err := s.service.GetPaymentCredentials(ctx, req.InstrumentIdentifierID, req.MerchantID)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &models.RawResponse{Body: body}, nil
}

func (s *TokenizationServiceServer) GetCredential(ctx context.Context, req *models.CredentialLookupRequest) (*models.CredentialRecord, error) {
	record, err := s.service.GetCredential(ctx, req.PaymentTokenID)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return record, nil
}

func (s *TokenizationServiceServer) ListCredentials(ctx context.Context, req *models.CredentialListRequest) (*models.CredentialList, error) {
	records, err := s.service.ListCredentials(ctx, req.MerchantID)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	if records == nil {
		records = []*models.CredentialRecord{}
	}
	return &models.CredentialList{Records: records}, nil
}

// unaryHandler builds the method handler for one RPC, running the server's
// interceptor chain when one is installed.
func unaryHandler[Req, Resp any](fullMethod string, call func(TokenizationRPCServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TokenizationRPCServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(TokenizationRPCServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var tokenizationServiceDesc = grpc.ServiceDesc{
	ServiceName: TokenizationServiceName,
	HandlerType: (*TokenizationRPCServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Tokenize",
			Handler:    unaryHandler(methodTokenize, TokenizationRPCServer.Tokenize),
		},
		{
			MethodName: "CreateInstrumentIdentifier",
			Handler:    unaryHandler(methodCreateInstrumentIdentifier, TokenizationRPCServer.CreateInstrumentIdentifier),
		},
		{
			MethodName: "GetInstrumentIdentifier",
			Handler:    unaryHandler(methodGetInstrumentIdentifier, TokenizationRPCServer.GetInstrumentIdentifier),
		},
		{
			MethodName: "GetPaymentCredentials",
			Handler:    unaryHandler(methodGetPaymentCredentials, TokenizationRPCServer.GetPaymentCredentials),
		},
		{
			MethodName: "GetCredential",
			Handler:    unaryHandler(methodGetCredential, TokenizationRPCServer.GetCredential),
		},
		{
			MethodName: "ListCredentials",
			Handler:    unaryHandler(methodListCredentials, TokenizationRPCServer.ListCredentials),
		},
	},
	Streams: []grpc.StreamDesc{},
}
