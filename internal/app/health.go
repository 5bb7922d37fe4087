package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the service name reported alongside the overall status.
const HealthService = "jkool.Streamer"

const healthStopTimeout = 5 * time.Second

// healthServer exposes grpc.health.v1. All methods are no-ops on a nil
// receiver so callers need not check whether health checks are enabled.
type healthServer struct {
	lis    net.Listener
	grpc   *grpc.Server
	health *health.Server
	log    *slog.Logger
}

// listenHealth binds addr immediately so that readiness probes can connect
// while the transport is still being set up.
func listenHealth(addr string, log *slog.Logger) (*healthServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("health: listen %s: %w", addr, err)
	}

	s := &healthServer{
		lis:    lis,
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		log:    log,
	}
	healthgrpc.RegisterHealthServer(s.grpc, s.health)
	s.setServing(false)
	log.Info("health listener bound", "addr", lis.Addr().String())
	return s, nil
}

func (s *healthServer) addr() string {
	if s == nil {
		return ""
	}
	return s.lis.Addr().String()
}

func (s *healthServer) serve() error {
	if s == nil {
		return nil
	}
	if err := s.grpc.Serve(s.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("health: serve: %w", err)
	}
	return nil
}

func (s *healthServer) setServing(serving bool) {
	if s == nil {
		return
	}
	status := healthgrpc.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthgrpc.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(HealthService, status)
}

func (s *healthServer) stop() {
	if s == nil {
		return
	}
	s.setServing(false)

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(healthStopTimeout):
		s.log.Warn("graceful stop timed out, forcing stop")
		s.grpc.Stop()
	}
}
