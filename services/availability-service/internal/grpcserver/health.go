package grpcserver

import (
	"context"
	"log/slog"
	"time"

	"github.com/mindery/booking/libs/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the overall ("") status.
const ServiceName = "availability.v1.AvailabilityService"

// Health mirrors the HTTP readiness checks into grpc.health.v1.
type Health struct {
	srv    *health.Server
	checks []runtime.ReadyCheck
	logger *slog.Logger
}

func Register(grpcServer *grpc.Server, logger *slog.Logger, checks ...runtime.ReadyCheck) *Health {
	h := &Health{srv: health.NewServer(), checks: checks, logger: logger}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(grpcServer, h.srv)
	return h
}

// Refresh runs every check once and updates the served status.
func (h *Health) Refresh(ctx context.Context) bool {
	failures := runtime.RunChecks(ctx, h.checks)
	for name, err := range failures {
		h.logger.Warn("grpc health check failed", "check", name, "err", err)
	}
	if len(failures) > 0 {
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Watch refreshes the status every interval until ctx is done, then reports
// NOT_SERVING for the remainder of shutdown.
func (h *Health) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	h.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

func (h *Health) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(ServiceName, status)
}
