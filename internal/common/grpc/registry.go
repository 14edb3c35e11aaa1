package grpc

import (
	"sync"

	"github.com/rs/zerolog"
	grpclib "google.golang.org/grpc"

	"github.com/PlainFunction/cardtokenly/internal/common/config"
	"github.com/PlainFunction/cardtokenly/internal/common/logging"
	"github.com/PlainFunction/cardtokenly/internal/common/types"
)

// LocalFactory builds the in-process tokenization service.
type LocalFactory func() (types.TokenizationServiceInterface, error)

// ServiceRegistry hands out the tokenization service, either in-process or as
// a client of a remote tokenizer, and owns any connections it opened.
type ServiceRegistry struct {
	config  *config.Config
	logger  zerolog.Logger
	dial    []grpclib.DialOption
	clients map[string]*grpclib.ClientConn
	mutex   sync.Mutex
}

// NewServiceRegistry creates a new service registry
func NewServiceRegistry(cfg *config.Config, logger zerolog.Logger, dialOpts ...grpclib.DialOption) *ServiceRegistry {
	return &ServiceRegistry{
		config:  cfg,
		logger:  logging.Component(logger, "registry"),
		dial:    dialOpts,
		clients: make(map[string]*grpclib.ClientConn),
	}
}

// GetTokenizationService returns a remote client when UseRemoteServices is
// set, otherwise the service built by local.
func (sr *ServiceRegistry) GetTokenizationService(local LocalFactory) (types.TokenizationServiceInterface, error) {
	if !sr.config.UseRemoteServices {
		sr.logger.Info().Msg("Using local tokenization service")
		return local()
	}

	addr := sr.config.TokenizerAddress()
	sr.mutex.Lock()
	defer sr.mutex.Unlock()

	conn, ok := sr.clients[TokenizationServiceName]
	if !ok {
		clientCfg := NewClientConfig(addr, sr.logger)
		clientCfg.DialOptions = sr.dial
		var err error
		conn, err = NewClient(clientCfg)
		if err != nil {
			return nil, err
		}
		sr.clients[TokenizationServiceName] = conn
	}
	sr.logger.Info().Str("addr", addr).Msg("Using remote tokenization service")
	return NewTokenizationServiceGRPCClient(conn), nil
}

// Close closes all client connections
func (sr *ServiceRegistry) Close() {
	sr.mutex.Lock()
	defer sr.mutex.Unlock()

	for name, conn := range sr.clients {
		if err := conn.Close(); err != nil {
			sr.logger.Warn().Err(err).Str("service", name).Msg("Error closing connection")
		}
	}
	sr.clients = make(map[string]*grpclib.ClientConn)
}
