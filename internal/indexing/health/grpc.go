package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCServer serves the standard grpc.health.v1 service, mirroring the monitor.
// The overall service ("") and each pipeline are reported separately.
type GRPCServer struct {
	monitor  *Monitor
	health   *grpchealth.Server
	server   *grpc.Server
	port     int
	interval time.Duration
}

// NewGRPCServer creates a gRPC health server on port.
func NewGRPCServer(monitor *Monitor, port int) *GRPCServer {
	hs := grpchealth.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &GRPCServer{
		monitor:  monitor,
		health:   hs,
		server:   srv,
		port:     port,
		interval: 5 * time.Second,
	}
}

// Start listens and serves until Stop. It blocks.
func (s *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port %d: %w", s.port, err)
	}

	s.sync(ctx)
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sync(ctx)
			}
		}
	}()

	slog.Info("gRPC health server listening", "port", s.port)
	return s.server.Serve(lis)
}

// Stop gracefully stops the server.
func (s *GRPCServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

// sync copies the monitor report into the health service.
func (s *GRPCServer) sync(ctx context.Context) {
	report := s.monitor.CheckHealth(ctx)
	s.health.SetServingStatus("", servingStatus(report.SystemStatus))
	for name, p := range report.Pipelines {
		s.health.SetServingStatus(name, servingStatus(p.Status))
	}
}

// servingStatus maps to gRPC: only critical is NOT_SERVING.
func servingStatus(status SystemStatus) healthpb.HealthCheckResponse_ServingStatus {
	if status == StatusCritical {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}
