// Package main runs the compensation service: the JSON API, the live ledger
// feed and the Prometheus endpoint on one HTTP listener.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"matrix-comp/internal/api"
	"matrix-comp/internal/app"
	"matrix-comp/internal/config"
	"matrix-comp/internal/feed"
	"matrix-comp/internal/observability"
)

func main() {
	configPath := flag.String("config", os.Getenv("MATRIX_CONFIG"), "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger := observability.NewLogger("info", true)
		bootLogger.Fatal().Err(err).Msg("load config")
	}

	logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open stores")
	}
	defer rt.Close()

	hub := feed.NewHub(&logger)
	go hub.Run(ctx)

	orch, err := rt.Build(cfg, &logger, hub)
	if err != nil {
		logger.Fatal().Err(err).Msg("build orchestrator")
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.New(api.Options{Orchestrator: orch, Feed: hub, Logger: &logger}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr).Str("backend", cfg.Storage.Backend).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	stop()

	logger.Info().Msg("shutdown complete")
}
