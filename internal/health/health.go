// Package health serves the standard gRPC health service, reporting whether
// the session store is reachable.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// Service is the name probes ask about in addition to the overall status.
const Service = "okkonator"

const defaultInterval = 15 * time.Second

// Probe reports whether a dependency is reachable.
type Probe interface {
	Ping(ctx context.Context) error
}

// Server wraps a grpc.Server exposing grpc.health.v1.Health.
type Server struct {
	grpc     *grpc.Server
	status   *health.Server
	probe    Probe
	interval time.Duration
	logger   *slog.Logger
}

// NewServer creates a health server. A zero interval uses the default.
func NewServer(probe Probe, interval time.Duration, logger *slog.Logger) *Server {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	gs := grpc.NewServer(grpc.KeepaliveParams(keepalive.ServerParameters{
		MaxConnectionIdle: 5 * time.Minute,
	}))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	return &Server{grpc: gs, status: hs, probe: probe, interval: interval, logger: logger}
}

// Check probes once and publishes the result.
func (s *Server) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.probe.Ping(ctx); err != nil {
		s.logger.Warn("Health probe failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.status.SetServingStatus("", status)
	s.status.SetServingStatus(Service, status)
	return status
}

// Serve answers health checks on lis until ctx is done, re-probing on every
// interval.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.Check(ctx)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Check(ctx)
			case <-ctx.Done():
				s.status.Shutdown()
				s.grpc.GracefulStop()
				return
			}
		}
	}()

	s.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve grpc health: %w", err)
	}
	return nil
}
