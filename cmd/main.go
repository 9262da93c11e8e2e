package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	grpcapi "clinical-scribe-service/internal/api/grpc"
	"clinical-scribe-service/internal/app"
	"clinical-scribe-service/internal/config"
	httpapi "clinical-scribe-service/internal/http"
	"clinical-scribe-service/internal/observability"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	obs := observability.NewServer(cfg.Observability.MetricsAddr, application.Ready)
	obs.Start()

	grpcServer := grpcapi.New(application.Ready)
	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Service.GRPCPort).Msg("Failed to listen")
	}
	go func() {
		log.Info().Str("port", cfg.Service.GRPCPort).Msg("gRPC health server started")
		if err := grpcServer.GRPC.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC serve failed")
		}
	}()
	go grpcServer.Watch(ctx, 10*time.Second)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           httpapi.NewRouter(application),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.Service.HTTPPort).Msg("Clinical scribe HTTP server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP serve failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	grpcServer.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown")
	}
	// Open panels keep their drafts for the next session.
	_ = application.Shutdown(shutdownCtx)
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Observability shutdown")
	}
}
