package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ShayCichocki/conductor/internal/backend"
	"github.com/ShayCichocki/conductor/internal/breaker"
	"github.com/ShayCichocki/conductor/internal/broker"
	"github.com/ShayCichocki/conductor/internal/cache"
	"github.com/ShayCichocki/conductor/internal/config"
	"github.com/ShayCichocki/conductor/internal/correlation"
	"github.com/ShayCichocki/conductor/internal/fallback"
	"github.com/ShayCichocki/conductor/internal/logging"
	"github.com/ShayCichocki/conductor/internal/metrics"
	"github.com/ShayCichocki/conductor/internal/orchestrator"
	"github.com/ShayCichocki/conductor/internal/planner"
	"github.com/ShayCichocki/conductor/internal/registry"
	"github.com/ShayCichocki/conductor/internal/state"
)

// app holds every component built from configuration.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	promReg   *prometheus.Registry
	metrics   *metrics.Metrics
	breaker   *breaker.Breaker
	rules     *fallback.RuleSet
	cache     *cache.Cache
	broker    broker.Broker
	generator backend.Generator
	anthropic *backend.Anthropic
	orch      *orchestrator.Orchestrator

	closers []func() error
}

// buildApp wires the orchestrator and its collaborators. The caller must
// Close the app.
func buildApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.logger, err = logging.New(cfg.Logging, logOut)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	a.closers = append(a.closers, a.logger.Close)
	log := a.logger.Logger

	a.promReg = prometheus.NewRegistry()
	a.promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.promReg)

	a.breaker = breaker.New(
		breaker.WithFailureThreshold(cfg.Breaker.FailureThreshold),
		breaker.WithOpenDuration(cfg.Breaker.OpenDuration),
		breaker.WithStateChange(func(id string, from, to breaker.State) {
			log.Info("circuit state changed", "backend", id, "from", from.String(), "to", to.String())
			a.metrics.BreakerTransition(id, to.String())
		}),
	)

	a.rules, err = buildRules(cfg.Fallback)
	if err != nil {
		return nil, err
	}

	tracker := correlation.NewTracker(
		correlation.WithSweepInterval(cfg.Correlation.SweepInterval),
		correlation.WithLogger(log),
		correlation.WithTimeoutHook(func(id, taskID string) {
			a.metrics.CorrelationTimeout()
		}),
	)

	if cfg.Backend.Enabled {
		a.anthropic, err = buildBackend(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.generator = backend.WithRetry(a.anthropic, retryConfig(cfg.Backend.Retry))
	}
	modelParams := backend.ModelParams{
		Model:       cfg.Backend.Model,
		MaxTokens:   cfg.Backend.MaxTokens,
		Temperature: cfg.Backend.Temperature,
		Timeout:     cfg.Backend.Timeout,
	}

	plannerOpts := []planner.Option{
		planner.WithMaxQueryLength(cfg.Planner.MaxQueryLength),
		planner.WithMaxTasks(cfg.Planner.MaxTasks),
		planner.WithLogger(log),
	}
	if len(cfg.Planner.Capabilities) > 0 {
		caps := make([]planner.Capability, len(cfg.Planner.Capabilities))
		for i, c := range cfg.Planner.Capabilities {
			caps[i] = planner.Capability{Name: c.Name, Keywords: c.Keywords}
		}
		plannerOpts = append(plannerOpts, planner.WithCapabilities(caps, cfg.Planner.DefaultCapability))
	} else if cfg.Planner.DefaultCapability != "" {
		plannerOpts = append(plannerOpts, planner.WithCapabilities(planner.DefaultCapabilities, cfg.Planner.DefaultCapability))
	}
	if a.generator != nil {
		plannerOpts = append(plannerOpts, planner.WithBackend(a.generator, a.breaker, modelParams))
	}

	reg := registry.New()
	for _, agent := range cfg.Agents {
		if err := reg.Register(agent); err != nil {
			return nil, fmt.Errorf("register agent: %w", err)
		}
	}

	a.broker, err = buildBroker(ctx, cfg.Broker, a)
	if err != nil {
		return nil, err
	}

	opts := []orchestrator.Option{
		orchestrator.WithAgents(reg, a.broker),
		orchestrator.WithReplyTopic(cfg.Broker.ReplyTopic),
		orchestrator.WithTimeouts(orchestrator.Timeouts{
			Task:    cfg.Timeouts.Task,
			Session: cfg.Timeouts.Session,
			Grace:   cfg.Timeouts.Grace,
		}),
		orchestrator.WithSynthesis(cfg.Orchestrator.Synthesize),
		orchestrator.WithEventBuffer(cfg.Orchestrator.EventBuffer),
		orchestrator.WithLogger(log),
		orchestrator.WithMetrics(a.metrics),
	}
	if a.generator != nil {
		opts = append(opts, orchestrator.WithBackend(a.generator, modelParams, cfg.Backend.Capabilities...))
	}

	if cfg.Cache.Enabled {
		a.cache, err = buildCache(ctx, cfg.Cache, a)
		if err != nil {
			return nil, err
		}
		opts = append(opts, orchestrator.WithCache(a.cache, cfg.Cache.TTL, cfg.Cache.CleanupInterval))
	}

	a.orch, err = orchestrator.New(orchestrator.RequiredConfig{
		Planner:  planner.New(plannerOpts...),
		Tracker:  tracker,
		Fallback: a.rules,
		Breaker:  a.breaker,
	}, opts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func buildRules(cfg config.FallbackConfig) (*fallback.RuleSet, error) {
	opts := []fallback.Option{fallback.WithMinConfidence(cfg.MinConfidence)}
	if cfg.RulesFile == "" {
		return fallback.New(fallback.Defaults(), opts...)
	}
	rules, err := fallback.LoadFile(cfg.RulesFile, opts...)
	if err != nil {
		return nil, fmt.Errorf("load fallback rules: %w", err)
	}
	return rules, nil
}

func buildBackend(ctx context.Context, cfg *config.Config) (*backend.Anthropic, error) {
	key, source, err := config.GetAPIKey(cfg)
	if err != nil {
		return nil, fmt.Errorf("backend enabled: %w", err)
	}
	if source != config.KeySourceBedrock {
		if err := config.ValidateAPIKey(key); err != nil {
			return nil, fmt.Errorf("%s api key: %w", source, err)
		}
	}
	client, err := backend.NewAnthropic(ctx, backend.AnthropicConfig{
		Model:         cfg.Backend.Model,
		APIKey:        key,
		UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return nil, fmt.Errorf("create backend client: %w", err)
	}
	return client, nil
}

// retryConfig overlays the configured retry settings on the defaults.
func retryConfig(cfg config.RetryConfig) backend.RetryConfig {
	rc := backend.DefaultRetryConfig()
	if cfg.MaxTries > 0 {
		rc.MaxTries = cfg.MaxTries
	}
	if cfg.InitialInterval > 0 {
		rc.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		rc.MaxInterval = cfg.MaxInterval
	}
	return rc
}

func buildBroker(ctx context.Context, cfg config.BrokerConfig, a *app) (broker.Broker, error) {
	var (
		b   broker.Broker
		err error
	)
	switch cfg.Type {
	case config.BrokerRedis:
		b, err = broker.NewRedis(ctx, cfg.RedisURL, a.logger.Logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis broker: %w", err)
		}
	default:
		b = broker.NewMemory()
	}
	a.closers = append(a.closers, b.Close)
	return b, nil
}

func buildCache(ctx context.Context, cfg config.CacheConfig, a *app) (*cache.Cache, error) {
	opts := []cache.Option{
		cache.WithDefaultTTL(cfg.TTL),
		cache.WithLogger(a.logger.Logger),
		cache.WithMetrics(a.metrics),
	}

	switch cfg.Store {
	case config.StoreSQLite:
		store, err := state.OpenCacheStore(cacheDBPath(cfg.Path))
		if err != nil {
			return nil, fmt.Errorf("open sqlite cache: %w", err)
		}
		opts = append(opts, cache.WithStore(store))
	case config.StoreRedis:
		store, err := cache.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect redis cache: %w", err)
		}
		opts = append(opts, cache.WithStore(store))
	}

	c, err := cache.New(cfg.MaxEntries, opts...)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	a.closers = append(a.closers, c.Close)
	return c, nil
}

// cacheDBPath returns the configured path, the project database next to
// .conductor.yaml, or the global database, in that order.
func cacheDBPath(configured string) string {
	if configured != "" {
		return configured
	}
	if project := config.GetProjectConfigPath(); project != "" {
		return state.ProjectDBPath(filepath.Dir(project))
	}
	return state.GlobalDBPath()
}

// Close stops the orchestrator and releases resources in reverse order.
func (a *app) Close() error {
	var errs []error
	if a.orch != nil {
		errs = append(errs, a.orch.Stop())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
