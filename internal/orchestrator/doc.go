// Package orchestrator drives requests from submission to answer.
//
// Each submitted request becomes a session that moves forward through
// created, planning, dispatching, awaiting and aggregating to one of the
// terminal states completed, degraded or failed. A session:
//   - answers from the session cache when the same request completed before
//   - plans the request into a task DAG
//   - dispatches every ready task to an agent over the broker, or to the
//     text-generation backend, behind the response cache and a circuit breaker
//   - awaits responses by correlation id, bounded by per-task and session deadlines
//   - substitutes fallback answers for any task that cannot be served
//
// The caller always receives an Answer. Degraded answers carry the
// fallback text; failed answers carry a placeholder.
//
// Example usage:
//
//	orch, err := orchestrator.New(orchestrator.RequiredConfig{
//		Planner:  planner.New(),
//		Tracker:  correlation.NewTracker(),
//		Fallback: fallback.DefaultRuleSet(),
//		Breaker:  breaker.New(),
//	}, orchestrator.WithAgents(reg, broker.NewMemory()))
//	if err != nil {
//		return err
//	}
//	if err := orch.Start(ctx); err != nil {
//		return err
//	}
//	defer orch.Stop()
//	answer, err := orch.Ask(ctx, "weather in Paris", nil)
package orchestrator
