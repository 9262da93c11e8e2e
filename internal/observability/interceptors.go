package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"clinical-scribe-service/internal/observability/metrics"
)

// UnaryServerInterceptor logs and counts unary calls. Health checks are
// polled constantly, so successful calls log at debug.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observeRPC(info.FullMethod, err, time.Since(start), "gRPC unary call")
		return resp, err
	}
}

// StreamServerInterceptor logs and counts streams on completion (health
// Watch, reflection).
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		observeRPC(info.FullMethod, err, time.Since(start), "gRPC stream completed")
		return err
	}
}

func observeRPC(method string, err error, elapsed time.Duration, msg string) {
	st, _ := status.FromError(err)
	metrics.DefaultMetrics.RecordRPC(method, st.Code().String())

	level := zerolog.DebugLevel
	if err != nil {
		level = zerolog.WarnLevel
	}
	log.WithLevel(level).
		Str("method", method).
		Str("code", st.Code().String()).
		Dur("duration", elapsed).
		Msg(msg)
}
