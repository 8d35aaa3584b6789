package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/flowscope/pkg/api"
	"github.com/codeready-toolchain/flowscope/pkg/cleanup"
	"github.com/codeready-toolchain/flowscope/pkg/config"
	"github.com/codeready-toolchain/flowscope/pkg/database"
	"github.com/codeready-toolchain/flowscope/pkg/events"
	"github.com/codeready-toolchain/flowscope/pkg/ingest"
	"github.com/codeready-toolchain/flowscope/pkg/monitor"
	"github.com/codeready-toolchain/flowscope/pkg/services"
	"github.com/codeready-toolchain/flowscope/pkg/timeline"
	"github.com/codeready-toolchain/flowscope/pkg/version"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, WebSocket and gRPC service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts.configDir)
		},
	}
}

func runServe(ctx context.Context, configDir string) error {
	// Load .env file from config directory
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting flowscope", "version", version.GitCommit, "config_dir", configDir)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	// 2. Database (migrations run on connect)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load database config: %w", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Streaming infrastructure
	eventService := services.NewEventService(dbClient.Driver())
	publisher := events.NewEventPublisher(dbClient.DB())
	connManager := events.NewConnectionManager(
		events.NewEventServiceAdapter(eventService),
		cfg.Server.WSWriteTimeout,
		cfg.Server.CatchupLimit,
	)

	mon := monitor.New(eventService, connManager, cfg.Monitor, cfg.Reducer.Timeline(timeline.ModeLive))
	mon.Start(ctx)
	defer mon.Stop()

	// Dedicated pgx connection for LISTEN; the monitor follows the global
	// channel for the lifetime of the process.
	listener := events.NewNotifyListener(dbConfig.DSN(), connManager, mon)
	if err := listener.Start(ctx); err != nil {
		return fmt.Errorf("failed to start notify listener: %w", err)
	}
	defer listener.Stop(context.Background())
	if err := listener.Pin(ctx, events.GlobalWorkflowsChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", events.GlobalWorkflowsChannel, err)
	}
	connManager.SetListener(listener)
	slog.Info("Streaming infrastructure initialized")

	// 4. Retention
	cleanupService := cleanup.NewService(cfg.Retention, eventService)
	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	// 5. Servers
	errCh := make(chan error, 2)

	httpServer := api.NewServer(cfg, dbClient, eventService, publisher, mon, connManager)
	go func() {
		if err := httpServer.Start(cfg.Server.HTTPAddr); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcServer *ingest.Server
	if cfg.Ingest.GRPCAddr != "" {
		grpcServer = ingest.NewServer(publisher, mon, cfg.Ingest.MaxBatch)
		go func() {
			if err := grpcServer.Start(cfg.Ingest.GRPCAddr); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	slog.Info("flowscope started successfully",
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Ingest.GRPCAddr)

	// 6. Wait for shutdown signal or server error
	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case runErr = <-errCh:
		slog.Error("Server error triggered shutdown", "error", runErr)
	}

	// 7. Graceful shutdown: stop intake first, then drain connections.
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
	return runErr
}
