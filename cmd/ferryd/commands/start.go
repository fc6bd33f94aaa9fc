package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ferryfs/ferry/internal/logger"
	"github.com/ferryfs/ferry/pkg/auth"
	"github.com/ferryfs/ferry/pkg/config"
	"github.com/ferryfs/ferry/pkg/metadata/store"
	"github.com/ferryfs/ferry/pkg/metrics"
	"github.com/ferryfs/ferry/pkg/server"
	"github.com/ferryfs/ferry/pkg/session"
	"github.com/ferryfs/ferry/pkg/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ferry server",
	Long: `Start the ferry server with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/ferry/config.yaml.

Examples:
  # Start with default config location
  ferryd start

  # Start with custom config file
  ferryd start --config /etc/ferry/config.yaml

  # Start with environment variable overrides
  FERRY_LOGGING_LEVEL=DEBUG ferryd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Configuration loaded", "source", configSource())

	metadataStore, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize metadata store: %w", err)
	}
	defer func() {
		if err := metadataStore.Close(); err != nil {
			logger.Error("Metadata store close error", "error", err)
		}
	}()
	logger.Info("Metadata store ready", "type", cfg.Database.Type)

	layout, err := storage.NewLayout(cfg.Storage.Root)
	if err != nil {
		return fmt.Errorf("failed to initialize storage layout: %w", err)
	}
	logger.Info("Storage layout ready", "root", layout.Root())

	tlsConfig, err := server.LoadTLSConfig(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile, cfg.Server.TLS.ClientCAFile)
	if err != nil {
		return fmt.Errorf("failed to load TLS configuration: %w\n\n"+
			"Generate a self-signed certificate with:\n"+
			"  ferryd cert generate", err)
	}

	var serverMetrics metrics.ServerMetrics
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics, metadataStore)
		serverMetrics = metricsServer.Metrics()
		go func() {
			if err := metricsServer.Serve(ctx); err != nil {
				logger.Error("Metrics server error", "error", err)
			}
		}()
		logger.Info("Metrics enabled", "address", cfg.Metrics.Address, "port", cfg.Metrics.Port)
	}

	authHandler := auth.NewHandler(metadataStore, session.NewStore(), nil)

	srv := server.New(server.Config{
		BindAddress:     cfg.Server.BindAddress,
		Port:            cfg.Server.Port,
		MaxConnections:  cfg.Server.MaxConnections,
		IdleTimeout:     cfg.Server.IdleTimeout,
		BufferSize:      cfg.Server.BufferSize.Int(),
		Separator:       cfg.Server.Separator,
		ShutdownTimeout: cfg.ShutdownTimeout,
		TLS:             tlsConfig,
	}, authHandler, metadataStore, layout, serverMetrics)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
	}

	return nil
}

func configSource() string {
	if cfgFile != "" {
		return cfgFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
