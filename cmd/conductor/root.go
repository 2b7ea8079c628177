package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/config"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Multi-agent request orchestrator",
	Long: `Conductor turns a free-form request into a graph of sub-tasks, routes each
one to a capable worker agent or the text-generation backend, and assembles a
single answer.

Core capabilities:
- Splits compound requests into dependent and independent sub-tasks
- Tracks every outstanding request by correlation id with deadlines
- Caches answers in memory, SQLite or Redis
- Degrades to rule-based answers when agents fail or circuits open`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user and project config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config named by --config, or the layered default.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}
