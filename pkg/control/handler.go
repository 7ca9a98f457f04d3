package control

import (
	"github.com/tullus-labs/SpaceTraveler/pkg/logging"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func RegisterGRPCServerHandler(grpcServerRegistrar grpc.ServiceRegistrar, reporter *HealthReporter, logger logging.Logger) {
	healthpb.RegisterHealthServer(grpcServerRegistrar, reporter.Server())
	logger.Debugf("Health service registered")
}
