// Package cmd implements the glimpse command-line interface.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/glimpse/internal/config"
)

var configPath string

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "glimpse",
		Short: "On-device activity history: capture, enrich, search",
		Long: "glimpse continuously records on-device activity — screen frames,\n" +
			"clipboard changes and typed text — into a local, searchable history.\n" +
			"Everything stays on this machine.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")

	cmd.AddCommand(runCmd())
	cmd.AddCommand(searchCmd())
	cmd.AddCommand(recordsCmd())
	cmd.AddCommand(deleteCmd())
	cmd.AddCommand(statusCmd())
	cmd.AddCommand(sweepCmd())
	cmd.AddCommand(configCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the --config flag value or the default
// location under the user's home directory.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "glimpse.yaml"
	}
	return filepath.Join(home, ".glimpse", "glimpse.yaml")
}

// loadConfig loads and validates the configuration or exits.
func loadConfig() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err)
		os.Exit(1)
	}
	return cfg
}

// setupLogging applies the configured log level to the default logger.
func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
