package observability

import (
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"transcript-channel-worker/internal/observability/metrics"
)

// WorkerService is the health service name reported alongside the overall
// status.
const WorkerService = "transcript.worker.ChannelWorker"

// GRPCServer exposes the standard gRPC health service and reflection.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	lis    net.Listener
}

// NewGRPCServer listens on addr. Both statuses start as NOT_SERVING.
func NewGRPCServer(addr string, m *metrics.Metrics) (*GRPCServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}

	server := grpc.NewServer(
		grpc.UnaryInterceptor(UnaryServerInterceptor(m)),
		grpc.StreamInterceptor(StreamServerInterceptor(m)),
	)
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(WorkerService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl and friends
	reflection.Register(server)

	return &GRPCServer{server: server, health: hs, lis: lis}, nil
}

// Addr returns the listening address.
func (s *GRPCServer) Addr() net.Addr {
	return s.lis.Addr()
}

// Start serves in a goroutine.
func (s *GRPCServer) Start() {
	go func() {
		log.Info().Str("addr", s.lis.Addr().String()).Msg("Starting gRPC health server")
		if err := s.server.Serve(s.lis); err != nil && err != grpc.ErrServerStopped {
			log.Error().Err(err).Msg("gRPC server error")
		}
	}()
}

// SetServing flips the overall and worker health status.
func (s *GRPCServer) SetServing(serving bool) {
	st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		st = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(WorkerService, st)
}

// Stop marks the worker not serving and stops gracefully. Streams still
// open after grace, such as health Watch, are cut off.
func (s *GRPCServer) Stop(grace time.Duration) {
	s.SetServing(false)

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		log.Warn().Dur("grace", grace).Msg("gRPC graceful stop timed out, closing open streams")
		s.server.Stop()
		<-done
	}
}
