package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/conductor/internal/backend"
	"github.com/ShayCichocki/conductor/internal/cache"
	"github.com/ShayCichocki/conductor/internal/correlation"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// PlaceholderText answers a task when no fallback rule matches.
const PlaceholderText = "Sorry, I can't answer that right now. Please try again later."

// target is where a task is sent.
type target struct {
	// breakerID is the circuit the task is gated by.
	breakerID string
	agent     *models.AgentRef
}

func (t target) source() models.ResultSource {
	if t.agent != nil {
		return models.SourceAgent
	}
	return models.SourceBackend
}

func (t target) name() string {
	if t.agent != nil {
		return t.agent.ID
	}
	return t.breakerID
}

// flight is one outstanding task.
type flight struct {
	def         models.TaskDefinition
	target      target
	corrID      string
	fingerprint string
	future      *correlation.Future
	started     time.Time
}

// dispatch sends a resolved task to its target. It returns a flight for an
// outstanding task, an immediate result for cache hits and degraded tasks,
// or an error when the session must fail.
func (o *Orchestrator) dispatch(ctx context.Context, s *session, def models.TaskDefinition) (*flight, *models.TaskResult, error) {
	start := time.Now()
	query := def.Param("query")
	if query == "" {
		query = s.query
	}

	tgt, err := o.resolveTarget(ctx, def)
	if err != nil {
		s.logger.Warn("no target for task", "task_id", def.ID, "capability", def.Capability, "error", err)
		return nil, o.degrade(s, def, query, err, start), nil
	}

	fp := cache.TaskFingerprint(def.Capability, query, def.Parameters)
	if r, ok := o.cachedResult(ctx, def, fp, start); ok {
		return nil, r, nil
	}

	if !o.breaker.Allow(tgt.breakerID) {
		err := &BackendUnavailableError{BackendID: tgt.breakerID}
		s.logger.Info("circuit open, skipping dispatch", "task_id", def.ID, "backend", tgt.breakerID)
		return nil, o.degrade(s, def, query, err, start), nil
	}

	deadline := start.Add(o.timeouts.Task)
	if deadline.After(s.deadline) {
		deadline = s.deadline
	}
	corrID := o.newID()
	fut, err := o.tracker.RegisterTask(corrID, def.ID, deadline)
	if err != nil {
		// The breaker admitted this call; release the trial.
		o.breaker.RecordFailure(tgt.breakerID)
		s.logger.Error("correlation registration failed", "task_id", def.ID, "correlation_id", corrID, "error", err)
		return nil, nil, err
	}

	fl := &flight{
		def:         def,
		target:      tgt,
		corrID:      corrID,
		fingerprint: fp,
		future:      fut,
		started:     start,
	}

	if tgt.agent != nil {
		o.publish(ctx, s, fl, deadline)
	} else {
		go o.generate(ctx, fl, query, deadline)
	}

	o.emit(OrchestratorEvent{
		Type:       EventTaskDispatched,
		SessionID:  s.id,
		TaskID:     def.ID,
		Capability: def.Capability,
		Target:     tgt.name(),
		State:      s.State(),
	})
	s.logger.Debug("task dispatched", "task_id", def.ID, "target", tgt.name(), "correlation_id", corrID)
	return fl, nil, nil
}

// resolveTarget picks the backend for backend capabilities and otherwise
// the first agent the registry offers.
func (o *Orchestrator) resolveTarget(ctx context.Context, def models.TaskDefinition) (target, error) {
	if o.generator != nil && o.backendCaps[def.Capability] {
		return target{breakerID: backend.ID(o.modelParams.Model)}, nil
	}
	if o.registry != nil {
		if agents := o.registry.FindAgents(ctx, def.Capability); len(agents) > 0 {
			a := agents[0]
			return target{breakerID: def.Capability, agent: &a}, nil
		}
	}
	return target{}, &DispatchError{TaskID: def.ID, Capability: def.Capability}
}

// publish sends the task request to the agent. A publish failure rejects
// the correlation so the waiter settles it as a failure.
func (o *Orchestrator) publish(ctx context.Context, s *session, fl *flight, deadline time.Time) {
	req := models.TaskRequest{
		TaskID:     fl.def.ID,
		SessionID:  s.id,
		Capability: fl.def.Capability,
		Parameters: fl.def.Parameters,
		ReplyTo:    o.replyTopic,
		Deadline:   deadline,
	}
	payload, err := json.Marshal(req)
	if err == nil {
		err = o.broker.Publish(ctx, fl.target.agent.Topic, fl.corrID, payload)
	}
	if err != nil {
		o.tracker.Reject(fl.corrID, &DispatchError{TaskID: fl.def.ID, Capability: fl.def.Capability, Err: err})
	}
}

// generate calls the backend and completes the correlation with its answer.
func (o *Orchestrator) generate(ctx context.Context, fl *flight, query string, deadline time.Time) {
	cctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	text, err := o.generator.Generate(cctx, taskPrompt(fl.def, query), o.modelParams)
	if err != nil {
		o.tracker.Reject(fl.corrID, err)
		return
	}
	payload, err := json.Marshal(models.TaskResponse{Status: models.ResponseOK, Text: text})
	if err != nil {
		o.tracker.Reject(fl.corrID, err)
		return
	}
	o.tracker.Resolve(fl.corrID, payload)
}

// settle turns a completed correlation into a task result, signalling the
// breaker and caching successes.
func (o *Orchestrator) settle(ctx context.Context, s *session, fl *flight, res correlation.Result) *models.TaskResult {
	var resp models.TaskResponse
	err := res.Err
	if err == nil {
		resp, err = decodeResponse(res.Payload)
	}
	if err == nil && resp.Status == models.ResponseError {
		err = &AgentError{TaskID: fl.def.ID, Message: resp.Error}
	}

	query := fl.def.Param("query")
	if query == "" {
		query = s.query
	}

	if err != nil {
		o.breaker.RecordFailure(fl.target.breakerID)
		var te *correlation.TimeoutError
		if errors.As(err, &te) {
			s.logger.Warn("task timed out", "task_id", fl.def.ID, "target", fl.target.name())
		} else {
			s.logger.Warn("task failed", "task_id", fl.def.ID, "target", fl.target.name(), "error", err)
		}
		return o.degrade(s, fl.def, query, err, fl.started)
	}

	o.breaker.RecordSuccess(fl.target.breakerID)
	if o.cache != nil {
		if raw, err := json.Marshal(resp); err == nil {
			o.cache.Put(ctx, fl.fingerprint, raw, o.cacheTTL)
		}
	}
	return &models.TaskResult{
		TaskID:     fl.def.ID,
		Capability: fl.def.Capability,
		Text:       resp.Text,
		Data:       resp.Data,
		Source:     fl.target.source(),
		Duration:   time.Since(fl.started),
	}
}

// cachedResult returns a cached task response.
func (o *Orchestrator) cachedResult(ctx context.Context, def models.TaskDefinition, fp string, start time.Time) (*models.TaskResult, bool) {
	if o.cache == nil {
		return nil, false
	}
	raw, ok := o.cache.Get(ctx, fp)
	if !ok {
		return nil, false
	}
	resp, err := decodeResponse(raw)
	if err != nil {
		o.logger.Warn("discarding undecodable cached task response", "task_id", def.ID, "error", err)
		return nil, false
	}
	return &models.TaskResult{
		TaskID:     def.ID,
		Capability: def.Capability,
		Text:       resp.Text,
		Data:       resp.Data,
		Source:     models.SourceCache,
		Duration:   time.Since(start),
	}, true
}

// degrade answers a task from the fallback rules, or with a placeholder
// when none match.
func (o *Orchestrator) degrade(s *session, def models.TaskDefinition, query string, cause error, start time.Time) *models.TaskResult {
	r := &models.TaskResult{
		TaskID:     def.ID,
		Capability: def.Capability,
		Degraded:   true,
		Duration:   time.Since(start),
	}
	if cause != nil {
		r.Error = cause.Error()
	}

	m, err := o.fallback.Match(query, def.Capability, def.Parameters)
	if err != nil {
		s.logger.Warn("fallback rule failed to render", "task_id", def.ID, "error", err)
	}
	if m == nil {
		r.Text = PlaceholderText
		r.Source = models.SourcePlaceholder
		return r
	}
	r.Text = m.Text
	r.Data = m.Data
	r.Structured = m.Structured()
	r.Source = models.SourceFallback
	s.logger.Debug("fallback rule matched", "task_id", def.ID, "rule", m.Rule, "confidence", m.Confidence)
	return r
}

// decodeResponse parses an agent reply.
func decodeResponse(payload []byte) (models.TaskResponse, error) {
	var resp models.TaskResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return resp, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	switch resp.Status {
	case models.ResponseOK, models.ResponseError:
		return resp, nil
	case "":
		return resp, fmt.Errorf("%w: missing status", ErrMalformedResponse)
	default:
		return resp, fmt.Errorf("%w: unknown status %q", ErrMalformedResponse, resp.Status)
	}
}
