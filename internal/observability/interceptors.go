// Package observability provides the gRPC health server, its interceptors
// and the HTTP server wrapper.
package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"transcript-channel-worker/internal/observability/metrics"
)

// UnaryServerInterceptor records call metrics for unary RPCs. Health probes
// are frequent, so they log at debug.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observeCall(m, log.Debug(), info.FullMethod, start, err)
		return resp, err
	}
}

// StreamServerInterceptor records call metrics for streaming RPCs such as
// health Watch.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		observeCall(m, log.Info(), info.FullMethod, start, err)
		return err
	}
}

func observeCall(m *metrics.Metrics, ev *zerolog.Event, method string, start time.Time, err error) {
	elapsed := time.Since(start)
	code := status.Code(err).String()
	m.RecordGRPCCall(method, code, elapsed.Seconds())

	ev.Str("method", method).
		Str("code", code).
		Dur("duration", elapsed).
		Msg("gRPC call completed")
}
