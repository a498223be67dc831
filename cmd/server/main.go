package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"templaterepo/internal/server/admin"
	"templaterepo/internal/server/api"
	"templaterepo/internal/server/config"
	"templaterepo/internal/server/database"
	"templaterepo/internal/server/logging"
	"templaterepo/internal/server/service"
	"templaterepo/internal/server/storage"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Structured logging
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	slog.Info("configuration loaded",
		"port", cfg.Port,
		"service_prefix", cfg.ServicePrefix,
		"storage_path", cfg.StoragePath,
		"work_dir", cfg.WorkDir,
		"max_upload_size", cfg.MaxUploadSize,
		"reconcile_interval", cfg.ReconcileInterval,
	)

	// Connect to database
	ctx := context.Background()
	db, err := database.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete", "dialect", db.Dialect().String())

	// Initialize storage
	store := storage.NewFileSystemStore(cfg.StoragePath)
	if err := store.EnsureDir(); err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		slog.Error("failed to create work directory", "path", cfg.WorkDir, "error", err)
		os.Exit(1)
	}
	slog.Info("file storage initialized", "path", cfg.StoragePath)

	// Initialize repositories and services
	repo := database.NewRepository(db)
	allowlist := database.NewAllowlistRepository(db)
	templates := service.NewRepositoryService(repo, store)
	exporter := service.NewExporter(templates, store, cfg.WorkDir)
	access := service.NewAccessControl(allowlist)

	bgCtx, bgCancel := context.WithCancel(context.Background())

	// Start reconciler
	reconciler := storage.NewReconciler(repo, store, cfg.WorkDir, cfg.ReconcileInterval, logger)
	reconciler.Start(bgCtx)

	// Start admin channel
	adminDone := make(chan struct{})
	if cfg.AdminAddr != "" {
		console := admin.NewConsole(allowlist, reconciler, admin.ModuleInfo{
			Name:        "templaterepo",
			Version:     version,
			ServiceURI:  cfg.ServicePrefix,
			Description: "Document template repository",
		}, logger)
		adminSrv := admin.NewServer(console, cfg.AdminPasswordHash, logger)
		if err := adminSrv.Listen(cfg.AdminAddr); err != nil {
			slog.Error("failed to start admin channel", "addr", cfg.AdminAddr, "error", err)
			os.Exit(1)
		}
		go func() {
			defer close(adminDone)
			if err := adminSrv.Serve(bgCtx); err != nil {
				slog.Error("admin channel stopped", "error", err)
			}
		}()
	} else {
		close(adminDone)
		slog.Info("admin channel disabled")
	}

	// Setup HTTP router
	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer limiter.Stop()

	handler := api.NewHandler(templates, exporter, db, reconciler)
	dispatcher := api.NewDispatcher(handler, access)
	e := api.SetupRouter(handler, dispatcher, limiter, cfg)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "version", version)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop background workers
	bgCancel()
	reconciler.Wait()
	<-adminDone

	slog.Info("server exited cleanly")
}
