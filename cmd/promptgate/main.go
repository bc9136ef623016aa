// Package main is the entry point for the promptgate binary: a request-time
// security gate placed in front of an LLM backend.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/promptgate/promptgate/internal/server"
	"github.com/promptgate/promptgate/pkg/config"
	"github.com/promptgate/promptgate/pkg/telemetry"
)

const (
	serviceName              = "promptgate"
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "promptgate",
		Short: "Security gate for LLM prompts",
		Long: `PromptGate sits in front of a large-language-model backend and runs every
inbound prompt through sanitization, injection detection, risk scoring,
policy evaluation, and per-caller rate limiting. Every decision is recorded
asynchronously for compliance audit.

Example:
  promptgate --config config.yaml --listen :8080`,
		RunE: runGate,
	}

	rootCmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.Flags().StringP("listen", "a", "", "HTTP listen address (overrides config)")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")

	return rootCmd
}

func runGate(cmd *cobra.Command, _ []string) error {
	// Load .env file if present
	_ = godotenv.Load()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	listenAddr, err := cmd.Flags().GetString("listen")
	if err != nil {
		return fmt.Errorf("failed to get listen flag: %w", err)
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return fmt.Errorf("failed to get log-level flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}
	if listenAddr != "" {
		cfg.Server.Address = listenAddr
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger := setupLogger(cfg.Logging.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, configPath, logger)
}

func run(ctx context.Context, cfg *config.Config, configPath string, logger *slog.Logger) error {
	telemetryShutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry initialization failed: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	srv := server.New(server.Options{
		Config: cfg,
		Logger: logger,
	})

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, srv.Reload, logger)
		if err != nil {
			return fmt.Errorf("config watcher setup failed: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("config watcher start failed: %w", err)
		}
		defer func() {
			if err := watcher.Stop(); err != nil {
				logger.Error("config watcher stop failed", "error", err)
			}
		}()
	}

	logger.Info("starting promptgate",
		"address", cfg.Server.Address,
		"default_policy", cfg.Security.Policy.DefaultPolicy,
		"policies", len(cfg.Security.Policy.Policies))

	return srv.Start(ctx, cfg.Server.Address)
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
