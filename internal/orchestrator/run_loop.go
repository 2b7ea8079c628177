package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/conductor/internal/cache"
	"github.com/ShayCichocki/conductor/internal/correlation"
	"github.com/ShayCichocki/conductor/internal/graph"
	"github.com/ShayCichocki/conductor/internal/planner"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// planTaskID labels the result produced when planning itself fails.
const planTaskID = "plan"

// outcome is what a waiter goroutine reports for one in-flight task.
type outcome struct {
	taskID string
	result correlation.Result
}

// run drives one session to a terminal state and always returns an answer.
func (o *Orchestrator) run(ctx context.Context, s *session) *models.Answer {
	o.emit(OrchestratorEvent{Type: EventSessionCreated, SessionID: s.id, State: s.State(), Message: s.query})
	s.transition(models.SessionPlanning)

	fp := cache.Fingerprint(s.query, s.params)
	if ans, ok := o.cachedAnswer(ctx, s, fp); ok {
		return o.finish(s, ans)
	}

	plan, err := o.planner.Plan(ctx, s.query, s.params)
	var g *graph.DependencyGraph
	if err == nil {
		g, err = graph.FromPlan(plan)
		if err != nil {
			err = &planner.PlanningError{Query: s.query, Reason: "invalid plan", Err: err}
		}
	}
	if err != nil {
		s.logger.Warn("planning failed, answering from fallback", "error", err)
		r := o.degrade(s, models.TaskDefinition{ID: planTaskID, Parameters: s.params}, s.query, err, time.Now())
		s.record(r)
		s.transition(models.SessionAggregating)
		return o.finish(s, o.aggregate(ctx, s))
	}
	g.SetDebugLog(func(format string, args ...interface{}) {
		s.logger.Debug(fmt.Sprintf(format, args...))
	})
	s.plan = plan
	s.graph = g
	s.deadline = o.sessionDeadline(s.createdAt, g.CriticalPathLength())
	s.logger.Info("plan ready", "tasks", plan.Len(), "deadline", s.deadline)

	sctx, cancel := context.WithDeadline(ctx, s.deadline)
	defer cancel()

	o.execute(sctx, s)

	s.transition(models.SessionAggregating)
	ans := o.aggregate(ctx, s)
	if ans.State == models.SessionCompleted {
		o.storeAnswer(ctx, fp, ans)
	}
	return o.finish(s, ans)
}

// sessionDeadline is min(session timeout, task timeout per level plus grace).
func (o *Orchestrator) sessionDeadline(start time.Time, criticalPath int) time.Time {
	budget := o.timeouts.Task*time.Duration(criticalPath) + o.timeouts.Grace
	if o.timeouts.Session > 0 && o.timeouts.Session < budget {
		budget = o.timeouts.Session
	}
	return start.Add(budget)
}

// execute dispatches ready tasks and awaits outcomes until every task has
// a result, the session fails or its context ends.
func (o *Orchestrator) execute(ctx context.Context, s *session) {
	outcomes := make(chan outcome, s.plan.Len())
	inflight := make(map[string]*flight)
	var settled []*models.TaskResult

	launch := func(ids []string) {
		for _, id := range ids {
			if s.failure != nil {
				break
			}
			def, _ := s.graph.GetTask(id)
			def = def.WithParameters(interpolate(def.Parameters, s.results))
			fl, r, err := o.dispatch(ctx, s, def)
			switch {
			case err != nil:
				s.failure = err
			case r != nil:
				settled = append(settled, r)
			default:
				inflight[id] = fl
				go func(fl *flight) {
					<-fl.future.Done()
					res, _ := fl.future.Result()
					outcomes <- outcome{taskID: fl.def.ID, result: res}
				}(fl)
			}
		}
		o.metrics.SetPendingCorrelations(o.tracker.Pending())
	}

	s.transition(models.SessionDispatching)
	launch(s.graph.Ready())
	s.transition(models.SessionAwaiting)

	for s.failure == nil {
		for len(settled) > 0 && s.failure == nil {
			r := settled[0]
			settled = settled[1:]
			o.complete(s, r)
			launch(s.graph.Ready())
		}
		if s.failure != nil || s.graph.Done() {
			break
		}
		if len(inflight) == 0 {
			// Nothing can make progress.
			s.logger.Error("session stalled with unresolved tasks", "unresolved", s.graph.Unresolved())
			break
		}

		select {
		case oc := <-outcomes:
			fl, ok := inflight[oc.taskID]
			if !ok {
				continue
			}
			delete(inflight, oc.taskID)
			settled = append(settled, o.settle(ctx, s, fl, oc.result))
		case <-ctx.Done():
			o.expire(s, inflight, ctx.Err())
			return
		}
	}
	o.expire(s, inflight, ctx.Err())
}

// complete records a result and unlocks dependents.
func (o *Orchestrator) complete(s *session, r *models.TaskResult) {
	if !s.record(r) {
		return
	}
	s.graph.MarkComplete(r.TaskID)
	o.metrics.ObserveTask(r.Capability, string(r.Source))

	ev := OrchestratorEvent{
		Type:       EventTaskResolved,
		SessionID:  s.id,
		TaskID:     r.TaskID,
		Capability: r.Capability,
		Source:     r.Source,
		State:      s.State(),
		Duration:   r.Duration,
	}
	if r.Degraded {
		ev.Type = EventTaskDegraded
		ev.Message = r.Error
	}
	o.emit(ev)
}

// expire settles every in-flight task as timed out and fills tasks that
// never ran with fallback results. A correlation that completed in the
// meantime keeps its real outcome.
func (o *Orchestrator) expire(s *session, inflight map[string]*flight, cause error) {
	for id, fl := range inflight {
		o.tracker.Reject(fl.corrID, &correlation.TimeoutError{ID: fl.corrID, TaskID: id, Deadline: s.deadline})
		res, _ := fl.future.Result()
		o.complete(s, o.settle(context.Background(), s, fl, res))
		delete(inflight, id)
	}
	o.metrics.SetPendingCorrelations(o.tracker.Pending())

	if s.failure != nil {
		return
	}
	if cause == nil {
		cause = context.DeadlineExceeded
	}
	for _, id := range s.graph.Unresolved() {
		def, _ := s.graph.GetTask(id)
		def = def.WithParameters(interpolate(def.Parameters, s.results))
		query := def.Param("query")
		if query == "" {
			query = s.query
		}
		err := &NotRunError{TaskID: id, Deadline: s.deadline, Cause: cause}
		s.logger.Warn("task not run before session ended", "task_id", id, "cause", cause)
		o.complete(s, o.degrade(s, def, query, err, s.createdAt))
	}
}

// cachedAnswer returns a previously completed answer for the same request.
func (o *Orchestrator) cachedAnswer(ctx context.Context, s *session, fp string) (*models.Answer, bool) {
	if o.cache == nil {
		return nil, false
	}
	raw, ok := o.cache.Get(ctx, fp)
	if !ok {
		return nil, false
	}
	var ans models.Answer
	if err := json.Unmarshal(raw, &ans); err != nil {
		s.logger.Warn("discarding undecodable cached answer", "error", err)
		return nil, false
	}
	ans.SessionID = s.id
	ans.State = models.SessionCompleted
	ans.Degraded = false
	for i := range ans.Results {
		ans.Results[i].Source = models.SourceCache
	}
	s.logger.Info("answered from session cache")
	return &ans, true
}

func (o *Orchestrator) storeAnswer(ctx context.Context, fp string, ans *models.Answer) {
	if o.cache == nil {
		return
	}
	raw, err := json.Marshal(ans)
	if err != nil {
		o.logger.Warn("encode answer for cache", "error", err)
		return
	}
	o.cache.Put(ctx, fp, raw, o.cacheTTL)
}

// finish moves the session to the answer's state and reports it.
func (o *Orchestrator) finish(s *session, ans *models.Answer) *models.Answer {
	s.transition(ans.State)
	ans.SessionID = s.id

	elapsed := time.Since(s.createdAt)
	o.metrics.ObserveSession(string(ans.State), elapsed)
	o.emit(OrchestratorEvent{
		Type:      EventSessionDone,
		SessionID: s.id,
		State:     ans.State,
		Duration:  elapsed,
		Error:     s.failure,
	})
	s.logger.Info("session done", "state", ans.State, "degraded", ans.Degraded, "duration", elapsed)
	return ans
}
