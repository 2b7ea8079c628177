package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

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

// Orchestrator accepts requests and drives each one through a session.
// Many sessions run concurrently; each is owned by a single goroutine.
type Orchestrator struct {
	planner  Planner
	tracker  *correlation.Tracker
	fallback *fallback.RuleSet
	breaker  *breaker.Breaker

	registry   registry.Finder
	broker     broker.Broker
	replyTopic string

	generator   backend.Generator
	modelParams backend.ModelParams
	backendCaps map[string]bool
	synthesize  bool

	cache        *cache.Cache
	cacheTTL     time.Duration
	cleanupEvery time.Duration

	timeouts Timeouts
	newID    func() string
	logger   *slog.Logger
	metrics  *metrics.Metrics
	events   *EventEmitter

	mu       sync.Mutex
	started  bool
	stopped  atomic.Bool
	runCtx   context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
	replySub broker.Subscription
	sessions sync.WaitGroup
}

// New creates an Orchestrator. Call Start before Submit.
func New(req RequiredConfig, opts ...Option) (*Orchestrator, error) {
	if req.Planner == nil || req.Tracker == nil || req.Fallback == nil || req.Breaker == nil {
		return nil, errors.New("orchestrator: planner, tracker, fallback and breaker are required")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry != nil && o.broker == nil {
		return nil, errors.New("orchestrator: agent registry requires a broker")
	}

	orch := &Orchestrator{
		planner:      req.Planner,
		tracker:      req.Tracker,
		fallback:     req.Fallback,
		breaker:      req.Breaker,
		registry:     o.registry,
		broker:       o.broker,
		replyTopic:   o.replyTopic,
		generator:    o.generator,
		modelParams:  o.modelParams,
		backendCaps:  make(map[string]bool, len(o.backendCaps)),
		synthesize:   o.synthesize,
		cache:        o.cache,
		cacheTTL:     o.cacheTTL,
		cleanupEvery: o.cleanupEvery,
		timeouts:     o.timeouts,
		newID:        o.newID,
		logger:       o.logger,
		metrics:      o.metrics,
	}
	for _, c := range o.backendCaps {
		orch.backendCaps[c] = true
	}
	if o.eventBuffer > 0 {
		orch.events = NewEventEmitter(o.eventBuffer, o.logger, o.metrics)
	}
	return orch, nil
}

// Start launches the background loops: the correlation sweeper, cache
// cleanup and the reply subscription.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped.Load() {
		return ErrStopped
	}
	if o.started {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return o.tracker.Run(gctx) })
	if o.cache != nil && o.cleanupEvery > 0 {
		g.Go(func() error { return o.cache.Run(gctx, o.cleanupEvery) })
	}

	if o.broker != nil {
		sub, err := o.broker.Subscribe(gctx, o.replyTopic, o.handleReply)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("subscribe to %s: %w", o.replyTopic, err)
		}
		o.replySub = sub
	}

	o.runCtx = runCtx
	o.cancel = cancel
	o.group = g
	o.started = true
	o.logger.Info("orchestrator started", "reply_topic", o.replyTopic)
	return nil
}

// Stop cancels running sessions, waits for them to settle and stops the
// background loops. In-flight sessions finish degraded.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if o.stopped.Swap(true) || !o.started {
		o.mu.Unlock()
		return nil
	}
	o.cancel()
	o.mu.Unlock()

	o.sessions.Wait()

	var errs []error
	if o.replySub != nil {
		if err := o.replySub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close reply subscription: %w", err))
		}
	}
	if err := o.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, err)
	}
	o.events.Close()
	o.logger.Info("orchestrator stopped")
	return errors.Join(errs...)
}

// Events returns the event stream, or nil when events are disabled.
func (o *Orchestrator) Events() <-chan OrchestratorEvent {
	return o.events.Events()
}

// Submit starts a session for query and returns immediately. ctx only
// gates admission: a done ctx rejects the request, but the session is not
// bound to it and runs until its own deadline or Stop. Use Handle.Wait to
// bound how long the caller waits.
func (o *Orchestrator) Submit(ctx context.Context, query string, params map[string]string) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped.Load() {
		return nil, ErrStopped
	}
	if !o.started {
		return nil, ErrNotStarted
	}

	s := newSession(o.newID(), query, params, o.logger)
	h := newHandle(s)

	o.sessions.Add(1)
	go func() {
		defer o.sessions.Done()
		h.finish(o.run(o.runCtx, s))
	}()
	return h, nil
}

// Ask submits query and waits for the answer.
func (o *Orchestrator) Ask(ctx context.Context, query string, params map[string]string) (*models.Answer, error) {
	h, err := o.Submit(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// handleReply feeds agent responses into the tracker. Replies for unknown
// or already settled correlations are dropped.
func (o *Orchestrator) handleReply(ctx context.Context, msg broker.Message) {
	if msg.CorrelationID == "" {
		o.logger.Debug("dropping reply without correlation id", "topic", msg.Topic)
		return
	}
	if !o.tracker.Resolve(msg.CorrelationID, msg.Payload) {
		o.logger.Debug("dropping reply for unknown correlation", "correlation_id", msg.CorrelationID)
	}
}

func (o *Orchestrator) emit(ev OrchestratorEvent) {
	o.events.Emit(ev)
}

// Handle is the caller's view of a submitted session.
type Handle struct {
	s      *session
	done   chan struct{}
	answer *models.Answer
}

func newHandle(s *session) *Handle {
	return &Handle{s: s, done: make(chan struct{})}
}

func (h *Handle) finish(a *models.Answer) {
	h.answer = a
	close(h.done)
}

// SessionID returns the session id.
func (h *Handle) SessionID() string { return h.s.id }

// State returns the session's current state.
func (h *Handle) State() models.SessionState { return h.s.State() }

// Done is closed when the answer is available.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the session finishes or ctx ends. The session keeps
// running if ctx ends first.
func (h *Handle) Wait(ctx context.Context) (*models.Answer, error) {
	select {
	case <-h.done:
		return h.answer, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
