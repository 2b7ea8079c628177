package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/conductor/internal/metrics"
)

var (
	chatEvents  bool
	chatVerbose bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Answer requests read from stdin, one per line",
	Long: `Start the orchestrator and answer each line of input as a request.
Type "exit" or send EOF to quit.

When metrics.enabled is set, Prometheus metrics are served on metrics.addr
for as long as the session runs.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatEvents, "events", false, "Print orchestrator events as they happen")
	chatCmd.Flags().BoolVarP(&chatVerbose, "verbose", "v", false, "Show per-task results")
}

func runChat(cmd *cobra.Command, args []string) error {
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

	out := cmd.OutOrStdout()
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.Metrics.Addr, a.promReg, a.logger.Logger)
		})
	}
	if chatEvents {
		events := a.orch.Events()
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					fmt.Fprintln(cmd.ErrOrStderr(), color.New(color.Faint).Sprint(formatEvent(ev)))
				}
			}
		})
	}

	printStatus(out, "✓", "conductor ready, type a request", color.FgGreen)
	replErr := chatLoop(gctx, cmd.InOrStdin(), out, a)
	stop()
	if a.anthropic != nil {
		in, outTokens := a.anthropic.Tracker().Total()
		printStatus(out, "•", fmt.Sprintf("backend: %d calls, %d input / %d output tokens",
			a.anthropic.Tracker().Calls(), in, outTokens), color.FgCyan)
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return replErr
}

// chatLoop answers each non-empty input line until EOF, "exit" or ctx ends.
func chatLoop(ctx context.Context, in io.Reader, out io.Writer, a *app) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		answer, err := a.orch.Ask(ctx, line, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			printStatus(out, "✗", err.Error(), color.FgRed)
			continue
		}
		renderAnswer(out, answer, chatVerbose)
	}
}
