package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/conductor/internal/orchestrator"
	"github.com/ShayCichocki/conductor/pkg/models"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"location=Oslo", " units = metric ", "empty="})
	if err != nil {
		t.Fatalf("parseParams() error: %v", err)
	}
	if params["location"] != "Oslo" || params["units"] != "metric" {
		t.Errorf("params = %v", params)
	}
	if v, ok := params["empty"]; !ok || v != "" {
		t.Errorf("empty = %q, %v", v, ok)
	}

	if params, err := parseParams(nil); err != nil || params != nil {
		t.Errorf("parseParams(nil) = %v, %v", params, err)
	}
	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseParams([]string{bad}); err == nil {
			t.Errorf("parseParams(%q) expected error", bad)
		}
	}
}

func TestRenderAnswer(t *testing.T) {
	answer := &models.Answer{
		SessionID: "abc",
		Text:      "Sunny in Paris",
		State:     models.SessionDegraded,
		Results: []models.TaskResult{
			{TaskID: "task-1", Capability: "weather", Source: models.SourceAgent, Text: "Sunny"},
			{TaskID: "task-2", Capability: "news", Source: models.SourceFallback, Degraded: true, Error: "circuit open"},
		},
	}

	var buf bytes.Buffer
	renderAnswer(&buf, answer, true)
	out := buf.String()
	for _, want := range []string{"Sunny in Paris", "session abc degraded", "task-1 [weather] via agent", "circuit open"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	renderAnswer(&buf, answer, false)
	if strings.Contains(buf.String(), "task-1") {
		t.Error("non-verbose output should omit task breakdown")
	}
}

func TestFormatEvent(t *testing.T) {
	ev := orchestrator.OrchestratorEvent{
		Type:       orchestrator.EventTaskDegraded,
		SessionID:  "0123456789abcdef",
		TaskID:     "task-2",
		Capability: "news",
		Source:     models.SourceFallback,
		Error:      errors.New("no agent"),
		Timestamp:  time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	got := formatEvent(ev)
	for _, want := range []string{"12:00:00.000", "task_degraded", "01234567 task-2", "[news]", "via fallback", `error="no agent"`} {
		if !strings.Contains(got, want) {
			t.Errorf("formatEvent() = %q, missing %q", got, want)
		}
	}
	if strings.Contains(got, "0123456789") {
		t.Errorf("session id should be shortened: %q", got)
	}
}
