// Package main is the entry point for the forms server.
//
// main only reads configuration and builds the long-lived dependencies
// (logger, tracer, event publisher). Everything else lives under internal/.
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sakif/forms-app/internal/config"
	"github.com/sakif/forms-app/internal/events"
	"github.com/sakif/forms-app/internal/obs"
	"github.com/sakif/forms-app/internal/repository/sqldb"
	"github.com/sakif/forms-app/internal/server"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	// SQLite creates the file but not its directory.
	if cfg.DBDriver == sqldb.DriverSQLite && !strings.Contains(cfg.DBDSN, ":memory:") {
		dbDir := filepath.Dir(strings.TrimPrefix(cfg.DBDSN, "file:"))
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	ctx := context.Background()

	shutdownTracer, err := obs.InitTracer(ctx, "forms-app", version, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to init tracer", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", slog.String("error", err.Error()))
		}
	}()

	// Events are optional. Without a broker the server runs with a no-op
	// publisher.
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Warn("event broker unavailable, events will not be published",
				slog.String("error", err.Error()),
			)
		} else {
			defer amqpPublisher.Close()

			async := events.NewAsyncPublisher(amqpPublisher, logger, cfg.EventQueueSize)
			async.Start()
			// Stop runs before Close so queued events reach the broker.
			defer async.Stop()
			publisher = async
		}
	}

	srv, err := server.New(cfg, logger, publisher)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT/SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
