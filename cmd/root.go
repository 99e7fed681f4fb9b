package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pulsegate/gateway/internal/application"
	"github.com/pulsegate/gateway/internal/config"
	apperrors "github.com/pulsegate/gateway/internal/errors"
	"github.com/pulsegate/gateway/internal/logger"
	"go.uber.org/zap"

	"github.com/spf13/cobra"
)

var (
	cfgFile string         // Path to custom config file (optional)
	cfg     *config.Config // Global reference to loaded configuration
)

// rootCmd defines the main CLI command for the pulsegate gateway
var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Pulsegate is a real-time WebSocket connection gateway",
	Long:  `Channel-based publish/subscribe gateway for WebSocket clients with distributed connection state.`,
	Example: `
  gateway start --listen-addr :8090
  gateway start --log-level debug --redis-host localhost
  gateway start --config /path/to/config.yaml`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for version command
		if cmd.Name() == "version" {
			return nil
		}

		// Load configuration (use nil logger to avoid sync issues)
		var err error
		cfg, err = config.Load(cfgFile, nil)
		if err != nil {
			return apperrors.ConfigurationError("load", err.Error())
		}

		// Override config with command line flags if specified
		flags := cmd.Flags()
		if flags.Changed("listen-addr") {
			cfg.General.ListenAddr, _ = flags.GetString("listen-addr")
		}
		if flags.Changed("redis-host") {
			cfg.Redis.Host, _ = flags.GetString("redis-host")
			cfg.Redis.Enabled = true
		}
		if flags.Changed("redis-port") {
			cfg.Redis.Port, _ = flags.GetInt("redis-port")
		}
		if flags.Changed("metrics-port") {
			cfg.Metrics.Port, _ = flags.GetInt("metrics-port")
		}
		if flags.Changed("log-level") {
			cfg.Logging.Level, _ = flags.GetString("log-level")
			// The logger was built from the file/env level during Load;
			// the flag wins, so swap the running core's level.
			if err := logger.UpdateLevel(cfg.Logging.Level); err != nil {
				return apperrors.ConfigurationError("logging.level", err.Error())
			}
		}

		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		// Default behavior: show help when no subcommand is provided
		if err := cmd.Help(); err != nil {
			fmt.Fprintf(os.Stderr, "Error displaying help: %v\n", err)
		}
	},
}

// Execute runs the root command with the provided context
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// init is automatically called before main(), sets up flags and subcommands
func init() {
	// Add persistent flags (inherited by all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to custom config file (optional)")

	// CLI flags for gateway configuration
	rootCmd.PersistentFlags().String("listen-addr", ":8090", "Address the gateway listens on")
	rootCmd.PersistentFlags().String("redis-host", "localhost", "Redis host for distributed connection state")
	rootCmd.PersistentFlags().Int("redis-port", 6379, "Redis port")
	rootCmd.PersistentFlags().String("log-level", "info", "Logging level (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-file", "", "Path to the log file")
	rootCmd.PersistentFlags().Int("metrics-port", 8181, "Port for Prometheus metrics server")

	// A simple version subcommand
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number of the gateway",
		Long:  "Print the version number of the gateway along with build information",
		Run: func(cmd *cobra.Command, args []string) {
			if detailed, _ := cmd.Flags().GetBool("detailed"); detailed {
				fmt.Println(GetFullVersionInfo())
			} else {
				fmt.Println(GetVersionWithPrefix())
			}
		},
	}
	versionCmd.Flags().BoolP("detailed", "d", false, "Show detailed version information")
	rootCmd.AddCommand(versionCmd)

	// Add start subcommand
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the gateway server",
		Long:  "Start the gateway server with the specified configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cfgFile, _ = cmd.Flags().GetString("config")
			if cfgFile != "" {
				absPath, err := filepath.Abs(cfgFile)
				if err != nil {
					logger.Error("Failed to resolve absolute path for config", zap.Error(err))
					os.Exit(1)
				}
				cfgFile = absPath
				logger.Info("Using config file", zap.String("config_file", cfgFile))
			}

			// Use the context passed down from main.go
			ctx := cmd.Context()

			logger.Info("Starting gateway...")
			app, err := application.New(ctx, cfg, nil)
			if err != nil {
				logger.Error("Failed to initialize the gateway", zap.Error(err))
				os.Exit(1)
			}

			// Set up graceful shutdown handling
			go func() {
				<-ctx.Done()
				logger.Info("Shutdown signal received, initiating graceful shutdown...")
				app.Shutdown()
			}()

			if err := app.Start(ctx); err != nil {
				logger.Error("Failed to start the gateway", zap.Error(err))
				os.Exit(1)
			}

			logger.Info("Gateway started successfully!")
		},
	}

	rootCmd.AddCommand(startCmd)
}
