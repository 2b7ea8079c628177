package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or initialize configuration",
	Long: `Show the effective configuration.

Configuration is read from ~/.config/conductor/config.yaml, then from
.conductor.yaml in the current directory or a parent, then from
CONDUCTOR_* environment variables.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		displayAllConfig(cmd.OutOrStdout(), cfg)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file holding every default",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GetUserConfigPath()
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err := config.WriteDefaults(path); err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), "✓", "Wrote "+path, color.FgGreen)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config files that are read",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "user:    %s\n", config.GetUserConfigPath())
		project := config.GetProjectConfigPath()
		if project == "" {
			project = "(none)"
		}
		fmt.Fprintf(out, "project: %s\n", project)
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// displayAllConfig prints the effective configuration with the API key masked.
func displayAllConfig(w io.Writer, cfg *config.Config) {
	key, source, err := config.GetAPIKey(cfg)
	keyDisplay := "(not set)"
	switch {
	case err != nil:
	case source == config.KeySourceBedrock:
		keyDisplay = "(aws bedrock)"
	default:
		keyDisplay = config.MaskAPIKey(key) + " (" + string(source) + ")"
	}

	capabilities := make([]string, len(cfg.Planner.Capabilities))
	for i, c := range cfg.Planner.Capabilities {
		capabilities[i] = c.Name
	}
	agents := make([]string, len(cfg.Agents))
	for i, a := range cfg.Agents {
		agents[i] = a.ID
	}

	fmt.Fprintf(w, "anthropic.api_key: %s\n", keyDisplay)
	fmt.Fprintf(w, "backend.enabled: %t\n", cfg.Backend.Enabled)
	fmt.Fprintf(w, "backend.model: %s\n", cfg.Backend.Model)
	fmt.Fprintf(w, "backend.capabilities: %s\n", strings.Join(cfg.Backend.Capabilities, ","))
	fmt.Fprintf(w, "timeouts.task: %s\n", cfg.Timeouts.Task)
	fmt.Fprintf(w, "timeouts.session: %s\n", cfg.Timeouts.Session)
	fmt.Fprintf(w, "timeouts.grace: %s\n", cfg.Timeouts.Grace)
	fmt.Fprintf(w, "breaker.failure_threshold: %d\n", cfg.Breaker.FailureThreshold)
	fmt.Fprintf(w, "breaker.open_duration: %s\n", cfg.Breaker.OpenDuration)
	fmt.Fprintf(w, "cache.enabled: %t\n", cfg.Cache.Enabled)
	fmt.Fprintf(w, "cache.store: %s\n", cfg.Cache.Store)
	fmt.Fprintf(w, "cache.ttl: %s\n", cfg.Cache.TTL)
	fmt.Fprintf(w, "cache.max_entries: %d\n", cfg.Cache.MaxEntries)
	fmt.Fprintf(w, "fallback.rules_file: %s\n", cfg.Fallback.RulesFile)
	fmt.Fprintf(w, "fallback.min_confidence: %.2f\n", cfg.Fallback.MinConfidence)
	fmt.Fprintf(w, "planner.max_tasks: %d\n", cfg.Planner.MaxTasks)
	fmt.Fprintf(w, "planner.default_capability: %s\n", cfg.Planner.DefaultCapability)
	fmt.Fprintf(w, "planner.capabilities: %s\n", strings.Join(capabilities, ","))
	fmt.Fprintf(w, "broker.type: %s\n", cfg.Broker.Type)
	fmt.Fprintf(w, "broker.reply_topic: %s\n", cfg.Broker.ReplyTopic)
	fmt.Fprintf(w, "agents: %s\n", strings.Join(agents, ","))
	fmt.Fprintf(w, "orchestrator.synthesize: %t\n", cfg.Orchestrator.Synthesize)
	fmt.Fprintf(w, "logging.level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "metrics.enabled: %t\n", cfg.Metrics.Enabled)
	fmt.Fprintf(w, "metrics.addr: %s\n", cfg.Metrics.Addr)
}
