package models

import (
	"time"
)

// TaskDefinition is a single unit of work produced by the planner.
// Definitions are immutable once a plan is built; use WithParameters to
// derive a copy carrying resolved parameters.
type TaskDefinition struct {
	// ID is unique within its plan.
	ID string `json:"id"`
	// Capability names the kind of agent (or backend) able to serve the task.
	Capability string `json:"capability"`
	// Parameters are the task inputs. Values may reference parent results
	// with {{<taskID>.output}} placeholders until they are interpolated.
	Parameters map[string]string `json:"parameters,omitempty"`
	// DependsOn lists task IDs that must resolve before this task runs.
	DependsOn []string `json:"depends_on,omitempty"`
}

// Param returns the named parameter or an empty string.
func (t TaskDefinition) Param(key string) string {
	return t.Parameters[key]
}

// WithParameters returns a copy of the definition with the given parameters.
// The receiver is left untouched.
func (t TaskDefinition) WithParameters(params map[string]string) TaskDefinition {
	cp := t
	cp.Parameters = make(map[string]string, len(params))
	for k, v := range params {
		cp.Parameters[k] = v
	}
	cp.DependsOn = append([]string(nil), t.DependsOn...)
	return cp
}

// TaskPlan is an ordered set of task definitions forming a DAG.
type TaskPlan struct {
	Tasks []TaskDefinition `json:"tasks"`
}

// Len returns the number of tasks in the plan.
func (p *TaskPlan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Tasks)
}

// Task returns the definition with the given ID.
func (p *TaskPlan) Task(id string) (TaskDefinition, bool) {
	if p == nil {
		return TaskDefinition{}, false
	}
	for _, t := range p.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return TaskDefinition{}, false
}

// IDs returns task IDs in declaration order.
func (p *TaskPlan) IDs() []string {
	if p == nil {
		return nil
	}
	ids := make([]string, len(p.Tasks))
	for i, t := range p.Tasks {
		ids[i] = t.ID
	}
	return ids
}

// ResultSource records which path produced a task result.
type ResultSource string

const (
	// SourceAgent means a worker agent answered over the broker.
	SourceAgent ResultSource = "agent"
	// SourceBackend means the text-generation backend answered.
	SourceBackend ResultSource = "backend"
	// SourceCache means the answer came from the response cache.
	SourceCache ResultSource = "cache"
	// SourceFallback means a fallback rule synthesized the answer.
	SourceFallback ResultSource = "fallback"
	// SourcePlaceholder means no rule matched and a generic text was used.
	SourcePlaceholder ResultSource = "placeholder"
)

// Valid returns true if the source is a known value.
func (s ResultSource) Valid() bool {
	switch s {
	case SourceAgent, SourceBackend, SourceCache, SourceFallback, SourcePlaceholder:
		return true
	default:
		return false
	}
}

// Primary reports whether the source is a primary (non-degraded) path.
func (s ResultSource) Primary() bool {
	return s == SourceAgent || s == SourceBackend || s == SourceCache
}

// TaskResult is the outcome of one task, successful or substituted.
type TaskResult struct {
	TaskID     string            `json:"task_id"`
	Capability string            `json:"capability"`
	Text       string            `json:"text"`
	Data       map[string]string `json:"data,omitempty"`
	Source     ResultSource      `json:"source"`
	// Degraded is set when the result did not come from a primary path.
	Degraded bool `json:"degraded"`
	// Structured is set when Data may be trusted for field extraction
	// even though the result is degraded.
	Structured bool `json:"structured,omitempty"`
	// Error holds the primary-path failure for degraded results.
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Field returns a structured field for interpolation into dependent tasks.
// "output" always maps to Text. Other fields are only exposed when the
// result is primary or explicitly structured.
func (r *TaskResult) Field(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	if name == "output" || name == "text" {
		return r.Text, true
	}
	if r.Degraded && !r.Structured {
		return "", false
	}
	v, ok := r.Data[name]
	return v, ok
}

// Answer is the final response delivered to the caller of Submit.
type Answer struct {
	SessionID string       `json:"session_id"`
	Text      string       `json:"text"`
	Degraded  bool         `json:"degraded"`
	State     SessionState `json:"state"`
	Results   []TaskResult `json:"results,omitempty"`
}
