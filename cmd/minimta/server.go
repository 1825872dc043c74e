package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/busybox42/minimta/internal/config"
	"github.com/busybox42/minimta/internal/logging"
	"github.com/busybox42/minimta/internal/smtp"
	"github.com/busybox42/minimta/internal/store"
	"github.com/spf13/cobra"
)

func newServerCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server [address] [port]",
		Short: "Start the mail server",
		Long: `Start the mail server. Messages are stored per recipient in the configured
store. The positional address and port override the configuration.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd, opts, args)
		},
	}

	cmd.Flags().Bool("single", false, "serve one connection and exit")
	cmd.Flags().String("hostname", "", "hostname announced to clients (overrides config)")
	cmd.Flags().String("store", "", "message store type (overrides config)")
	cmd.Flags().String("store-dir", "", "directory for the file store (overrides config)")

	return cmd
}

// loadConfig loads the configuration and applies the positional arguments.
func loadConfig(opts *rootOptions, args []string) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.ApplyArgs(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, func() error, error) {
	logger, closeLog, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return logger, closeLog, nil
}

func runServer(cmd *cobra.Command, opts *rootOptions, args []string) error {
	cfg, err := loadConfig(opts, args)
	if err != nil {
		return err
	}

	if single, _ := cmd.Flags().GetBool("single"); single {
		cfg.Server.Single = true
	}
	if hostname, _ := cmd.Flags().GetString("hostname"); hostname != "" {
		cfg.Server.Hostname = hostname
	}
	if storeType, _ := cmd.Flags().GetString("store"); storeType != "" {
		cfg.Store.Type = storeType
	}
	if storeDir, _ := cmd.Flags().GetString("store-dir"); storeDir != "" {
		cfg.Store.Dir = storeDir
	}
	if result := cfg.Validate(); !result.Valid {
		return fmt.Errorf("invalid configuration: %v", result.Errors[0])
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	st, err := store.New(cfg.StoreConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to open message store: %w", err)
	}
	defer st.Close()

	server, err := smtp.NewServer(cfg.ServerConfig(), st, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := server.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() {
		done <- server.Wait()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-done:
		if err != nil {
			logger.Error("Server stopped with error", "error", err)
		}
	}

	return server.Close()
}
