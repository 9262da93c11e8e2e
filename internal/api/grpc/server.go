// Package grpcapi exposes the service's gRPC surface: health checking that
// follows backend readiness, and reflection for grpcurl.
package grpcapi

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"clinical-scribe-service/internal/observability"
)

// ServiceName is the health-check name of the scribe service.
const ServiceName = "clinical.scribe.ConsultationService"

// Server wraps a grpc.Server with a health server driven by a readiness
// probe.
type Server struct {
	GRPC   *grpc.Server
	health *health.Server
	ready  observability.ReadinessFunc
}

// New creates the gRPC server with logging interceptors, health and
// reflection registered. A nil ready func always reports serving.
func New(ready observability.ReadinessFunc) *Server {
	g := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor()),
		grpc.StreamInterceptor(observability.StreamServerInterceptor()),
	)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)
	reflection.Register(g)

	s := &Server{GRPC: g, health: hs, ready: ready}
	s.setServing(true)
	return s
}

func (s *Server) setServing(ok bool) {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if !ok {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Probe checks readiness once and updates the health status.
func (s *Server) Probe(ctx context.Context) bool {
	if s.ready == nil {
		return true
	}
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err := s.ready(probeCtx)
	if err != nil {
		log.Warn().Err(err).Msg("Readiness probe failed, reporting NOT_SERVING")
	}
	s.setServing(err == nil)
	return err == nil
}

// Watch probes readiness every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Probe(ctx)
		}
	}
}

// Shutdown reports NOT_SERVING and drains in-flight calls.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.GRPC.GracefulStop()
}
