// Package main is the entry point for the order-replication core: it
// loads configuration, wires the component graph, starts the background
// reconciler and operational HTTP server, and waits for a shutdown signal.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/di"
	"github.com/aristath/sentinel/internal/events"
)

func newLogger(level string, pretty bool) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)

	if pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		newLogger("info", true).Fatal().Err(err).Msg("failed to load configuration")
	}

	log := newLogger(cfg.LogLevel, cfg.DevMode)
	log.Info().Msg("starting replication core")

	container, err := di.Build(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire component graph")
	}
	defer container.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := container.Reconciler.Start(ctx, cfg.ReconcileInterval); err != nil {
		log.Fatal().Err(err).Msg("failed to start reconciler")
	}
	log.Info().Dur("interval", cfg.ReconcileInterval).Msg("reconciler started")

	if cfg.ArchiveS3Bucket != "" {
		archiver, err := buildArchiver(ctx, cfg, log)
		if err != nil {
			log.Error().Err(err).Msg("failed to build S3 archiver; continuing without archival")
		} else {
			container.Archiver = archiver
			go events.RunArchiveLoop(ctx, container.AuditSink, archiver, log)
			log.Info().Str("bucket", cfg.ArchiveS3Bucket).Msg("audit archive loop started")
		}
	}

	go func() {
		if err := container.Server.Start(); err != nil {
			log.Error().Err(err).Msg("operational HTTP server stopped")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("operational HTTP server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutdown signal received")
	cancel()

	container.Reconciler.Stop()
	log.Info().Msg("reconciler stopped")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := container.Server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("replication core stopped")
}
