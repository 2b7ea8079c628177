package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/conductor/internal/backend"
	"github.com/ShayCichocki/conductor/internal/breaker"
	"github.com/ShayCichocki/conductor/internal/broker"
	"github.com/ShayCichocki/conductor/internal/cache"
	"github.com/ShayCichocki/conductor/internal/correlation"
	"github.com/ShayCichocki/conductor/internal/fallback"
	"github.com/ShayCichocki/conductor/internal/metrics"
	"github.com/ShayCichocki/conductor/internal/registry"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// Defaults.
const (
	DefaultTaskTimeout    = 10 * time.Second
	DefaultSessionTimeout = 30 * time.Second
	DefaultGrace          = time.Second
	DefaultReplyTopic     = "conductor.replies"
)

// Planner turns a request into a task plan.
type Planner interface {
	Plan(ctx context.Context, query string, params map[string]string) (*models.TaskPlan, error)
}

// RequiredConfig contains the minimal required configuration for an Orchestrator.
// All fields are required and have no defaults.
type RequiredConfig struct {
	Planner  Planner
	Tracker  *correlation.Tracker
	Fallback *fallback.RuleSet
	Breaker  *breaker.Breaker
}

// Timeouts bounds task and session lifetimes.
type Timeouts struct {
	// Task bounds a single dispatched task.
	Task time.Duration
	// Session caps the whole request.
	Session time.Duration
	// Grace is added to Task times the critical path length.
	Grace time.Duration
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

type orchestratorOptions struct {
	registry   registry.Finder
	broker     broker.Broker
	replyTopic string

	generator    backend.Generator
	modelParams  backend.ModelParams
	backendCaps  []string
	synthesize   bool
	cache        *cache.Cache
	cacheTTL     time.Duration
	cleanupEvery time.Duration

	timeouts    Timeouts
	eventBuffer int
	newID       func() string
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

func defaultOptions() orchestratorOptions {
	return orchestratorOptions{
		replyTopic:   DefaultReplyTopic,
		cacheTTL:     cache.DefaultTTL,
		cleanupEvery: cache.DefaultCleanupInterval,
		timeouts: Timeouts{
			Task:    DefaultTaskTimeout,
			Session: DefaultSessionTimeout,
			Grace:   DefaultGrace,
		},
		newID:  uuid.NewString,
		logger: discardLogger(),
	}
}

// WithAgents sets the agent registry and the broker used to reach agents.
func WithAgents(r registry.Finder, b broker.Broker) Option {
	return func(o *orchestratorOptions) {
		o.registry = r
		o.broker = b
	}
}

// WithReplyTopic sets the topic agents publish responses to.
func WithReplyTopic(topic string) Option {
	return func(o *orchestratorOptions) {
		if topic != "" {
			o.replyTopic = topic
		}
	}
}

// WithBackend routes the listed capabilities to the text-generation backend.
func WithBackend(g backend.Generator, params backend.ModelParams, capabilities ...string) Option {
	return func(o *orchestratorOptions) {
		o.generator = g
		o.modelParams = params
		o.backendCaps = capabilities
	}
}

// WithSynthesis enables backend synthesis of multi-task answers.
func WithSynthesis(enabled bool) Option {
	return func(o *orchestratorOptions) { o.synthesize = enabled }
}

// WithCache enables the response cache. A cleanup interval of zero disables
// the background cleanup loop.
func WithCache(c *cache.Cache, ttl, cleanupInterval time.Duration) Option {
	return func(o *orchestratorOptions) {
		o.cache = c
		if ttl > 0 {
			o.cacheTTL = ttl
		}
		o.cleanupEvery = cleanupInterval
	}
}

// WithTimeouts overrides the non-zero timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(o *orchestratorOptions) {
		if t.Task > 0 {
			o.timeouts.Task = t.Task
		}
		if t.Session > 0 {
			o.timeouts.Session = t.Session
		}
		if t.Grace > 0 {
			o.timeouts.Grace = t.Grace
		}
	}
}

// WithEventBuffer enables the event stream with the given buffer size.
func WithEventBuffer(n int) Option {
	return func(o *orchestratorOptions) { o.eventBuffer = n }
}

// WithIDGenerator sets the session and correlation id source (mainly for testing).
func WithIDGenerator(fn func() string) Option {
	return func(o *orchestratorOptions) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *orchestratorOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *orchestratorOptions) { o.metrics = m }
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
