// Package main is the entry point for the deploysync CLI.
//
// deploysync keeps local working copies in sync with their remote git
// repositories and reports, for every run, which files were created,
// updated or deleted. Targets are read from the YAML config; see
// internal/config for the format.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"deploysync/internal/config"
	"deploysync/internal/logging"
	"deploysync/internal/telemetry"
)

var (
	configPath string
	debug      bool
	logJSON    bool

	appLogger *logging.AppLogger

	rootCmd = &cobra.Command{
		Use:   "deploysync",
		Short: "Keep local working copies in sync with remote git repositories",
		Long: `deploysync clones or pulls every configured target, resolves diverged
histories without leaving conflict markers behind, and reports the files each
run created, updated or deleted.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			appLogger = logging.New(logging.Options{
				Debug: debug || os.Getenv("DEBUG") != "",
				JSON:  logJSON,
			})
		},
	}
)

func init() {
	// .env is optional; secrets referenced as ${VAR} in the config may live there.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default $"+config.ConfigPathEnv+" or $XDG_CONFIG_HOME/deploysync/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs as JSON lines")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(credentialsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, telemetry.OptionsFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up tracing: %v\n", err)
		os.Exit(1)
	}

	code := 0
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		appLogger.Error("Command failed", "error", err)
		code = 1
	}

	if err := shutdown(context.Background()); err != nil {
		appLogger.Warn("Failed to flush traces", "error", err)
	}
	os.Exit(code)
}

// loadConfig reads --config when given, otherwise the default location.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFrom(configPath)
	}
	return config.Load()
}
