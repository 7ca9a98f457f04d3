package control

import (
	"context"

	"github.com/tullus-labs/SpaceTraveler/pkg/domain"
	"github.com/tullus-labs/SpaceTraveler/pkg/errors"
	"github.com/tullus-labs/SpaceTraveler/pkg/logging"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

func NewGRPCClientGateway(grpcClientConnection grpc.ClientConnInterface, logger logging.Logger) domain.Contract {
	grpcClient := healthpb.NewHealthClient(grpcClientConnection)
	return &grpcClientGateway{
		grpcClient: grpcClient,
		logger:     logger,
	}
}

type grpcClientGateway struct {
	grpcClient healthpb.HealthClient
	logger     logging.Logger
}

func (gw *grpcClientGateway) Status(ctx context.Context, service string) (string, error) {
	response, err := gw.grpcClient.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		gw.logger.Errorf("Status client gateway: %v", err)
		if status.Code(err) == codes.NotFound {
			return "", errors.NewNotFoundError("service not known to host", err).WithContext("service", service)
		}
		return "", errors.NewConnectionError("health check failed", err).WithContext("service", service)
	}
	gw.logger.Debugf("Status client gateway done, service: %q", service)
	return response.Status.String(), nil
}
