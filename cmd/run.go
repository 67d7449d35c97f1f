package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/glimpse/internal/config"
	"github.com/nextlevelbuilder/glimpse/internal/history"
	"github.com/nextlevelbuilder/glimpse/internal/platform"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the capture service until interrupted",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			setupLogging(cfg)

			collab := platform.Collaborators()
			if collab.FrameSource == nil {
				slog.Warn("no screen capture backend on this platform; screen capture disabled")
			}
			if collab.Recognizer == nil {
				slog.Warn("no text recognition backend on this platform; enrichment disabled")
			}

			svc, err := history.New(cfg, collab)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			if err := svc.Start(); err != nil {
				svc.Close()
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}

			if watcher, err := config.NewWatcher(resolveConfigPath()); err == nil {
				watcher.OnChange(func(cfg *config.Config) {
					setupLogging(cfg)
					svc.ApplyConfig(cfg)
				})
				if err := watcher.Start(); err != nil {
					// No config file yet; nothing to watch.
					slog.Debug("config watch unavailable", "error", err)
				} else {
					defer watcher.Stop()
				}
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			s := <-sig
			slog.Info("shutting down", "signal", s)

			if err := svc.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Error during shutdown: %s\n", err)
				os.Exit(1)
			}
		},
	}
}
