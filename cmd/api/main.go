package main

import (
	"context"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"vigil/config"
	"vigil/internals/app"
	"vigil/internals/server"
	"vigil/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig("env.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Done channel of ctx closes when a termination signal arrives
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logg := logger.Init(cfg)
	logg.Info().Msg("logger initialized")

	container, err := app.NewContainer(ctx, cfg, logg)
	if err != nil {
		logg.Fatal().Err(err).Msg("failed to initialize dependencies")
	}
	logg.Info().Msg("dependencies initialized")

	// start the background sweeper after the store is up
	var sweepWG sync.WaitGroup
	sweepWG.Add(1)
	go func() {
		defer sweepWG.Done()
		container.Sweeper.Run(ctx)
	}()

	router := app.RegisterRoutes(container)
	logg.Info().Msg("routes registered")

	srv := server.New(cfg.Port, router, logg)
	srv.Start()

	<-ctx.Done()
	logg.Info().Msg("shutdown signal received")

	// 1. Stop HTTP server (stop accepting requests)
	if err := srv.Shutdown(context.Background()); err != nil {
		logg.Error().Err(err).Msg("server shutdown failed")
	}

	// 2. Wait for the in-flight sweep tick to finish
	sweepWG.Wait()

	// 3. Close the store
	if err := container.Shutdown(); err != nil {
		logg.Error().Err(err).Msg("dependencies shutdown failed")
	}

	logg.Info().Msg("graceful shutdown complete")
}
