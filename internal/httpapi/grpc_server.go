package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"tasktrail.org/internal/obs"
)

// HealthService is the service name reported next to the overall ("") status.
const HealthService = "tasktrail.api"

// GRPCServer exposes grpc.health.v1 with a status that follows readiness.
type GRPCServer struct {
	health    *health.Server
	readiness readinessChecker
}

// NewGRPCServer starts NOT_SERVING until the first successful check.
func NewGRPCServer(r readinessChecker) *GRPCServer {
	s := &GRPCServer{
		health:    health.NewServer(),
		readiness: r,
	}
	s.SetServing(false)
	return s
}

// Register attaches the health service to srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// SetServing publishes the readiness state on gRPC and in metrics.
func (s *GRPCServer) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(HealthService, status)
	obs.SetReady(ok)
}

// Refresh runs the readiness check once.
func (s *GRPCServer) Refresh(ctx context.Context) error {
	err := s.readiness.Check(ctx)
	s.SetServing(err == nil)
	return err
}

// Watch refreshes readiness every interval until ctx ends.
func (s *GRPCServer) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		if err := s.Refresh(checkCtx); err != nil {
			obs.Logger().WithError(err).Warn("readiness check failed")
		}
		cancel()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Shutdown flips every service to NOT_SERVING and ignores later updates.
func (s *GRPCServer) Shutdown() {
	s.health.Shutdown()
	obs.SetReady(false)
}
