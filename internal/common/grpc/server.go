package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/PlainFunction/cardtokenly/internal/common/config"
	"github.com/PlainFunction/cardtokenly/internal/common/logging"
)

// Server wraps the gRPC server with common functionality
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	logger     zerolog.Logger
}

// NewServer listens on the configured gRPC port
func NewServer(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %s: %w", cfg.GRPCPort, err)
	}
	return NewServerOnListener(lis, cfg, logger), nil
}

// NewServerOnListener builds a server around an existing listener, such as a
// bufconn listener in tests.
func NewServerOnListener(lis net.Listener, cfg *config.Config, logger zerolog.Logger) *Server {
	logger = logging.Component(logger, "grpc-server")

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(loggingInterceptor(logger)),
		grpc.StreamInterceptor(streamLoggingInterceptor(logger)),
	)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// Enable reflection for development
	if cfg.Environment == "development" {
		reflection.Register(grpcServer)
	}

	return &Server{
		grpcServer: grpcServer,
		health:     healthServer,
		listener:   lis,
		logger:     logger,
	}
}

// RegisterService registers a gRPC service with the server
func (s *Server) RegisterService(registerFunc func(*grpc.Server)) {
	registerFunc(s.grpcServer)
}

// SetServing marks a service as serving in the health service
func (s *Server) SetServing(serviceName string) {
	s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
}

// Addr returns the listener address
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.listener.Addr().String()).Msg("Starting gRPC server")
	return s.grpcServer.Serve(s.listener)
}

// Stop gracefully stops the gRPC server
func (s *Server) Stop() {
	s.logger.Info().Msg("Stopping gRPC server")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warn().Err(err).Str("method", info.FullMethod).Dur("elapsed", time.Since(start)).Msg("gRPC call failed")
		} else {
			logger.Debug().Str("method", info.FullMethod).Dur("elapsed", time.Since(start)).Msg("gRPC call")
		}
		return resp, err
	}
}

func streamLoggingInterceptor(logger zerolog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		err := handler(srv, ss)
		if err != nil {
			logger.Warn().Err(err).Str("method", info.FullMethod).Msg("gRPC stream failed")
		}
		return err
	}
}
