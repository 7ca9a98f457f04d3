package control

import (
	"context"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"
	"github.com/tullus-labs/SpaceTraveler/pkg/logging"

	coreControl "github.com/core-tools/hsu-core/pkg/control"
	coreDomain "github.com/core-tools/hsu-core/pkg/domain"
	coreLogging "github.com/core-tools/hsu-core/pkg/logging"
)

type ServerOptions struct {
	Port int
}

// Server is the host's gRPC control endpoint: the hsu-core Ping service
// plus grpc.health.v1 fed by a HealthReporter.
type Server struct {
	server   coreControl.Server
	reporter *HealthReporter
	logger   logging.Logger
}

func NewServer(options ServerOptions, reporter *HealthReporter, coreLogger coreLogging.Logger, logger logging.Logger) (*Server, error) {
	server, err := coreControl.NewServer(coreControl.ServerOptions{Port: options.Port}, coreLogger)
	if err != nil {
		return nil, errors.NewInternalError("failed to create control server", err).WithContext("port", options.Port)
	}

	coreHandler := coreDomain.NewDefaultHandler(coreLogger)
	coreControl.RegisterGRPCServerHandler(server.GRPC(), coreHandler, coreLogger)

	RegisterGRPCServerHandler(server.GRPC(), reporter, logger)

	return &Server{
		server:   server,
		reporter: reporter,
		logger:   logger,
	}, nil
}

// Run serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Infof("Starting control server...")
	s.server.Start(ctx)
	s.reporter.SetHostServing(true)

	<-ctx.Done()

	s.logger.Infof("Stopping control server...")
	s.reporter.Shutdown()
	s.server.Shutdown(context.Background())
	s.logger.Infof("Control server stopped")
	return nil
}
