package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/udayam-ai/extraction-gateway/internal/common"
	"github.com/udayam-ai/extraction-gateway/internal/coordinator"
	"github.com/udayam-ai/extraction-gateway/internal/engine"
	"github.com/udayam-ai/extraction-gateway/internal/export"
	"github.com/udayam-ai/extraction-gateway/internal/jobcache"
	"github.com/udayam-ai/extraction-gateway/internal/repository"
	"github.com/udayam-ai/extraction-gateway/internal/server"
	"github.com/udayam-ai/extraction-gateway/internal/storage"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.Open(ctx, repository.Config{
		DSN:          cfg.Database.DSN,
		MaxConns:     cfg.Database.MaxConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		ConnLifetime: cfg.Database.ConnLifetime,
		DialTimeout:  cfg.Database.DialTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer repository.Close(db, logger)

	if err := repository.HealthCheck(ctx, db, cfg.Database.HealthTimeout, logger); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	jobsRepo, err := repository.NewJobRepository(ctx, db, cfg.Database.DSN, logger)
	if err != nil {
		logger.Error("failed to prepare job repository", "error", err)
		os.Exit(1)
	}

	blobs, err := storage.NewMinioStore(ctx, storage.Config{
		Endpoint:  cfg.Storage.Endpoint,
		Region:    cfg.Storage.Region,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to blob store", "error", err)
		os.Exit(1)
	}

	engineClient := engine.NewClient(engine.Config{
		BaseURL:        cfg.Engine.BaseURL,
		ExtractTimeout: cfg.Engine.ExtractTimeout,
		HealthTimeout:  cfg.Engine.HealthTimeout,
	}, logger)

	coord := coordinator.New(blobs, jobsRepo, engineClient, jobcache.New(), logger)
	exporter := export.NewService(logger)

	srv := server.NewServer(coord, exporter, engineClient, blobs, db, server.Options{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		SignedURLTTL:   cfg.Storage.URLTTL,
		DBHealthWait:   cfg.Database.HealthTimeout,
	}, logger)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Handler(),
		// No global timeouts here: extraction requests legitimately
		// run for minutes, bounded by the engine call timeout.
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown interrupted", "error", err)
	}
	logger.Info("stopped")
}
