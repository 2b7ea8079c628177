package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	askParams  []string
	askJSON    bool
	askVerbose bool
)

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Answer a single request",
	Long: `Plan the request, dispatch its sub-tasks and print the assembled answer.

Examples:
  conductor ask "What's the weather in Paris?"
  conductor ask "Find the top story and summarize it" --json
  conductor ask "Weather for tomorrow" --param location=Oslo`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringArrayVarP(&askParams, "param", "p", nil, "Request parameter as key=value (repeatable)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the answer as JSON")
	askCmd.Flags().BoolVarP(&askVerbose, "verbose", "v", false, "Show per-task results")
}

func runAsk(cmd *cobra.Command, args []string) error {
	params, err := parseParams(askParams)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.orch.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	h, err := a.orch.Submit(ctx, strings.Join(args, " "), params)
	if err != nil {
		return err
	}
	select {
	case <-h.Done():
	case <-ctx.Done():
		// Stopping settles the in-flight session with fallback results.
		if err := a.orch.Stop(); err != nil {
			return err
		}
	}
	answer, err := h.Wait(context.Background())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if askJSON {
		return writeJSON(out, answer)
	}
	renderAnswer(out, answer, askVerbose)
	return nil
}
