package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/lexiqai/live-transcriber/internal/observability"
	"github.com/lexiqai/live-transcriber/internal/session"
)

// HealthReporter publishes the controller state through the standard gRPC health service.
// A Failed controller reports NOT_SERVING until it is reset.
type HealthReporter struct {
	service string
	server  *health.Server
}

// NewHealthReporter creates a reporter that starts SERVING for service and for the server as a whole
func NewHealthReporter(service string) *HealthReporter {
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	srv.SetServingStatus(service, healthpb.HealthCheckResponse_SERVING)
	return &HealthReporter{service: service, server: srv}
}

// Server returns the health server to register on a grpc.Server
func (h *HealthReporter) Server() *health.Server {
	return h.server
}

// Listener returns a session.StateListener that keeps the service status current
func (h *HealthReporter) Listener() session.StateListener {
	return func(state session.State, err error) {
		status := healthpb.HealthCheckResponse_SERVING
		if state == session.StateFailed {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		h.server.SetServingStatus(h.service, status)
	}
}

// Shutdown marks every service NOT_SERVING
func (h *HealthReporter) Shutdown() {
	h.server.Shutdown()
}

// ControllerCheck is a readiness check that fails while the controller is Failed
func ControllerCheck(c Controller) observability.HealthCheckFunc {
	return func(ctx context.Context) (bool, error) {
		if c.State() == session.StateFailed {
			return false, fmt.Errorf("session failed: %w", c.Err())
		}
		return true, nil
	}
}
