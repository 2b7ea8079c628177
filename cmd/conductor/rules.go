package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	rulesCapability string
	rulesParams     []string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect fallback rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the active fallback rules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		rules, err := buildRules(cfg.Fallback)
		if err != nil {
			return err
		}

		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
			Headers("NAME", "CAPABILITY", "CONFIDENCE", "MATCHES ON")
		for _, r := range rules.Rules() {
			match := strings.Join(r.Keywords, ", ")
			if r.Pattern != "" {
				match = strings.TrimPrefix(match+", /"+r.Pattern+"/", ", ")
			}
			t.Row(r.Name, r.Capability, fmt.Sprintf("%.2f", r.Confidence), match)
		}
		fmt.Fprintln(cmd.OutOrStdout(), t.Render())
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d rules, minimum confidence %.2f\n", rules.Len(), rules.MinConfidence())
		return nil
	},
}

var rulesTestCmd = &cobra.Command{
	Use:   "test <query>",
	Short: "Show which fallback rule a query would hit",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(rulesParams)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		rules, err := buildRules(cfg.Fallback)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		res, err := rules.Match(strings.Join(args, " "), rulesCapability, params)
		if err != nil {
			return err
		}
		if res == nil {
			printStatus(out, "✗", "no rule matched; the placeholder answer would be used", color.FgYellow)
			return nil
		}
		printStatus(out, "✓", fmt.Sprintf("rule %s (confidence %.2f)", res.Rule, res.Confidence), color.FgGreen)
		fmt.Fprintln(out, answerStyle.Render(res.Text))
		return nil
	},
}

func init() {
	rulesTestCmd.Flags().StringVarP(&rulesCapability, "capability", "c", "", "Capability hint for the query")
	rulesTestCmd.Flags().StringArrayVarP(&rulesParams, "param", "p", nil, "Template parameter as key=value (repeatable)")

	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesTestCmd)
}
