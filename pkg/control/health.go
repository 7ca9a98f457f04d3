package control

import (
	"sync"

	"github.com/tullus-labs/SpaceTraveler/pkg/supervisor"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HostService is the health entry for the host process itself.
const HostService = ""

// HealthReporter mirrors service status into a grpc.health.v1 server. A
// service is SERVING only while Running.
type HealthReporter struct {
	server *health.Server

	mutex    sync.Mutex
	statuses map[string]supervisor.Status
}

func NewHealthReporter() *HealthReporter {
	server := health.NewServer()
	server.SetServingStatus(HostService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthReporter{
		server:   server,
		statuses: make(map[string]supervisor.Status),
	}
}

// Track registers a service before its first transition so that Check
// answers NOT_SERVING instead of NotFound.
func (r *HealthReporter) Track(name string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.statuses[name]; ok {
		return
	}
	r.statuses[name] = supervisor.StatusNotStarted
	r.server.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
}

func (r *HealthReporter) ServiceStatusChanged(name string, status supervisor.Status) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.statuses[name] = status
	r.server.SetServingStatus(name, servingStatus(status))
}

func (r *HealthReporter) SetHostServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	r.server.SetServingStatus(HostService, status)
}

// Shutdown flips every entry to NOT_SERVING and ignores later updates.
func (r *HealthReporter) Shutdown() {
	r.server.Shutdown()
}

func (r *HealthReporter) Server() healthpb.HealthServer {
	return r.server
}

func servingStatus(status supervisor.Status) healthpb.HealthCheckResponse_ServingStatus {
	if status == supervisor.StatusRunning {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
