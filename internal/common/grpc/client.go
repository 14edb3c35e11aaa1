package grpc

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// ClientConfig holds gRPC client configuration
type ClientConfig struct {
	Target    string
	Timeout   time.Duration
	KeepAlive time.Duration
	Logger    zerolog.Logger
	// extra dial options, e.g. a bufconn dialer in tests
	DialOptions []grpc.DialOption
}

// NewClientConfig creates a default client configuration
func NewClientConfig(target string, logger zerolog.Logger) *ClientConfig {
	return &ClientConfig{
		Target:    target,
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
		Logger:    logger,
	}
}

// NewClient creates a new gRPC client connection. The connection is lazy:
// the first call establishes the transport.
func NewClient(config *ClientConfig) (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                config.KeepAlive,
			Timeout:             config.Timeout,
			PermitWithoutStream: true,
		}),
		grpc.WithUnaryInterceptor(clientLoggingInterceptor(config.Logger)),
	}
	opts = append(opts, config.DialOptions...)

	conn, err := grpc.NewClient(config.Target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Target, err)
	}
	return conn, nil
}

// clientLoggingInterceptor logs outgoing gRPC calls
func clientLoggingInterceptor(logger zerolog.Logger) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		duration := time.Since(start)

		if err != nil {
			logger.Debug().Err(err).Str("method", method).Dur("elapsed", duration).Msg("gRPC client call failed")
		} else {
			logger.Debug().Str("method", method).Dur("elapsed", duration).Msg("gRPC client call completed")
		}
		return err
	}
}
