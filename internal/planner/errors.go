package planner

import "fmt"

// PlanningError reports a request that cannot be turned into a plan.
type PlanningError struct {
	Query  string
	Reason string
	Err    error
}

func (e *PlanningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("planning failed: %s: %v", e.Reason, e.Err)
	}
	return "planning failed: " + e.Reason
}

func (e *PlanningError) Unwrap() error {
	return e.Err
}
