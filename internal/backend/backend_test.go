package backend

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

func fastRetry(tries uint) RetryConfig {
	return RetryConfig{MaxTries: tries, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestRetrying_RetriesTransientErrors(t *testing.T) {
	var calls int32
	gen := Func(func(ctx context.Context, prompt string, params ModelParams) (string, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return "", errors.New("connection reset")
		}
		return "sunny", nil
	})

	text, err := WithRetry(gen, fastRetry(5)).Generate(context.Background(), "weather", ModelParams{})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if text != "sunny" {
		t.Errorf("Generate() = %q, want %q", text, "sunny")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetrying_StopsAtMaxTries(t *testing.T) {
	var calls int32
	gen := Func(func(ctx context.Context, prompt string, params ModelParams) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", errors.New("unavailable")
	})

	if _, err := WithRetry(gen, fastRetry(2)).Generate(context.Background(), "q", ModelParams{}); err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetrying_PermanentErrorNotRetried(t *testing.T) {
	var calls int32
	gen := Func(func(ctx context.Context, prompt string, params ModelParams) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", ErrEmptyResponse
	})

	_, err := WithRetry(gen, fastRetry(5)).Generate(context.Background(), "q", ModelParams{})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("Generate() error = %v, want ErrEmptyResponse", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetrying_ContextBoundsRetries(t *testing.T) {
	gen := Func(func(ctx context.Context, prompt string, params ModelParams) (string, error) {
		return "", errors.New("unavailable")
	})
	cfg := RetryConfig{MaxTries: 100, InitialInterval: 20 * time.Millisecond, MaxInterval: 20 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := WithRetry(gen, cfg).Generate(ctx, "q", ModelParams{}); err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("retries ran %v past the deadline", elapsed)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transport error", errors.New("dial tcp: refused"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"empty response", ErrEmptyResponse, false},
		{"rate limited", &anthropic.Error{StatusCode: 429}, true},
		{"server error", &anthropic.Error{StatusCode: 529}, true},
		{"bad request", &anthropic.Error{StatusCode: 400}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryable(tt.err); got != tt.want {
				t.Errorf("retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTranslateModelForBedrock(t *testing.T) {
	tests := []struct {
		in   anthropic.Model
		want string
	}{
		{anthropic.ModelClaudeSonnet4_20250514, "us.anthropic.claude-sonnet-4-20250514-v1:0"},
		{anthropic.Model("us.anthropic.custom-v1:0"), "us.anthropic.custom-v1:0"},
		{anthropic.Model("my-custom-model"), "my-custom-model"},
	}
	for _, tt := range tests {
		if got := translateModelForBedrock(tt.in); string(got) != tt.want {
			t.Errorf("translateModelForBedrock(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewAnthropic_RequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := NewAnthropic(context.Background(), AnthropicConfig{}); err == nil {
		t.Error("expected error without API key")
	}

	c, err := NewAnthropic(context.Background(), AnthropicConfig{APIKey: "sk-test", Model: "claude-test"})
	if err != nil {
		t.Fatalf("NewAnthropic() error: %v", err)
	}
	if c.Model() != "claude-test" {
		t.Errorf("Model() = %q, want %q", c.Model(), "claude-test")
	}
}

func TestTokenTracker(t *testing.T) {
	tr := NewTokenTracker()
	tr.Add(100, 20)
	tr.Add(50, 5)
	in, out := tr.Total()
	if in != 150 || out != 25 || tr.Calls() != 2 {
		t.Errorf("Total() = (%d, %d), Calls() = %d", in, out, tr.Calls())
	}
}

func TestID(t *testing.T) {
	if got := ID("claude-x"); got != "backend:claude-x" {
		t.Errorf("ID() = %q", got)
	}
}
