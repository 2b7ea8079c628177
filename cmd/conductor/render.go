package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/ShayCichocki/conductor/internal/orchestrator"
	"github.com/ShayCichocki/conductor/pkg/models"
)

var (
	answerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
	taskStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
	degradedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))
)

// printStatus prints a colored status line.
func printStatus(w io.Writer, symbol, message string, c color.Attribute) {
	fmt.Fprintf(w, "%s %s\n", color.New(c).Sprint(symbol), message)
}

// stateColor maps a terminal session state to a status color.
func stateColor(s models.SessionState) (string, color.Attribute) {
	switch s {
	case models.SessionCompleted:
		return "✓", color.FgGreen
	case models.SessionDegraded:
		return "⚠", color.FgYellow
	default:
		return "✗", color.FgRed
	}
}

// renderAnswer writes the answer box followed by a per-task breakdown.
func renderAnswer(w io.Writer, a *models.Answer, verbose bool) {
	fmt.Fprintln(w, answerStyle.Render(a.Text))

	symbol, c := stateColor(a.State)
	printStatus(w, symbol, fmt.Sprintf("session %s %s", a.SessionID, a.State), c)

	if !verbose {
		return
	}
	for _, r := range a.Results {
		line := fmt.Sprintf("  %s [%s] via %s", r.TaskID, r.Capability, r.Source)
		if r.Duration > 0 {
			line += fmt.Sprintf(" in %s", r.Duration.Round(time.Millisecond))
		}
		if r.Degraded {
			line += ": " + r.Error
			fmt.Fprintln(w, degradedStyle.Render(line))
			continue
		}
		fmt.Fprintln(w, taskStyle.Render(line))
	}
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatEvent renders an orchestrator event as one line.
func formatEvent(ev orchestrator.OrchestratorEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-16s %s", ev.Timestamp.Format("15:04:05.000"), ev.Type, shortID(ev.SessionID))
	if ev.TaskID != "" {
		fmt.Fprintf(&b, " %s", ev.TaskID)
	}
	if ev.Capability != "" {
		fmt.Fprintf(&b, " [%s]", ev.Capability)
	}
	if ev.Target != "" {
		fmt.Fprintf(&b, " -> %s", ev.Target)
	}
	if ev.Source != "" {
		fmt.Fprintf(&b, " via %s", ev.Source)
	}
	if ev.State != "" && ev.Type == orchestrator.EventSessionDone {
		fmt.Fprintf(&b, " %s", ev.State)
	}
	if ev.Error != nil {
		fmt.Fprintf(&b, " error=%q", ev.Error.Error())
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// parseParams turns repeated key=value flags into a map.
func parseParams(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", p)
		}
		params[k] = strings.TrimSpace(v)
	}
	return params, nil
}
