package backend

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v5"
)

// RetryConfig bounds retries around a Generator.
type RetryConfig struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns conservative defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxTries:        3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Retrying wraps a Generator with exponential backoff. Retries stop when
// ctx ends, so the caller's deadline bounds the total time spent.
type Retrying struct {
	next Generator
	cfg  RetryConfig
}

// WithRetry wraps next.
func WithRetry(next Generator, cfg RetryConfig) *Retrying {
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 1
	}
	return &Retrying{next: next, cfg: cfg}
}

// Generate implements Generator.
func (r *Retrying) Generate(ctx context.Context, prompt string, params ModelParams) (string, error) {
	b := backoff.NewExponentialBackOff()
	if r.cfg.InitialInterval > 0 {
		b.InitialInterval = r.cfg.InitialInterval
	}
	if r.cfg.MaxInterval > 0 {
		b.MaxInterval = r.cfg.MaxInterval
	}

	op := func() (string, error) {
		text, err := r.next.Generate(ctx, prompt, params)
		if err != nil && !retryable(err) {
			return "", backoff.Permanent(err)
		}
		return text, err
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.cfg.MaxTries),
	)
}

// retryable reports whether err is worth another attempt: rate limits,
// server errors and transport failures are, client errors are not.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrEmptyResponse) {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}
