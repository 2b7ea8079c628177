// Package backend is the text-generation collaborator: a single
// request/response call with its own timeout.
package backend

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("backend returned no text")

// ModelParams tunes one generation call.
type ModelParams struct {
	Model       string
	MaxTokens   int64
	Temperature float64
	// Timeout bounds a single attempt. Zero means the caller's ctx only.
	Timeout time.Duration
	// System is an optional system prompt.
	System string
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, params ModelParams) (string, error)
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, prompt string, params ModelParams) (string, error)

// Generate implements Generator.
func (f Func) Generate(ctx context.Context, prompt string, params ModelParams) (string, error) {
	return f(ctx, prompt, params)
}

// ID returns the breaker identity for a model.
func ID(model string) string {
	return "backend:" + model
}
