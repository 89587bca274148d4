package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"transcript-channel-worker/internal/app"
	"transcript-channel-worker/internal/config"
	httpapi "transcript-channel-worker/internal/http"
	"transcript-channel-worker/internal/observability"
	"transcript-channel-worker/internal/observability/metrics"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Error().Err(err).Msg("Failed to load .env")
		return 1
	}
	cfg := config.Load()
	if path := os.Getenv("WORKER_CONFIG_FILE"); path != "" {
		wf, err := config.LoadWorkerFile(path)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("Failed to load worker file")
			return 1
		}
		if err := cfg.ApplyWorkerFile(wf); err != nil {
			log.Error().Err(err).Str("path", path).Msg("Invalid worker file")
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create application")
		return 1
	}

	grpcServer, err := observability.NewGRPCServer(":"+cfg.Service.GRPCPort, metrics.DefaultMetrics)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create gRPC server")
		return 1
	}
	grpcServer.Start()

	httpServer := observability.NewServer(":"+cfg.Service.HTTPPort, httpapi.NewRouter(application, application.Hub))
	httpServer.Start()

	if err := application.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to start channels")
		shutdown(application, grpcServer, httpServer, cfg.Service.ShutdownGrace)
		return 1
	}
	grpcServer.SetServing(true)

	code := 0
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-application.Fatal():
		log.Error().Err(err).Msg("Capture failed, exiting")
		code = 1
	}

	if err := shutdown(application, grpcServer, httpServer, cfg.Service.ShutdownGrace); err != nil && code == 0 {
		code = 1
	}
	return code
}

func shutdown(application *app.Application, grpcServer *observability.GRPCServer, httpServer *observability.Server, grace time.Duration) error {
	grpcServer.SetServing(false)
	err := application.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if herr := httpServer.Shutdown(ctx); herr != nil {
		log.Warn().Err(herr).Msg("HTTP shutdown error")
	}
	grpcServer.Stop(grace)
	return err
}
