// Package planner turns a free-form request into a TaskPlan: a DAG of
// sub-tasks, each targeting one capability.
//
// Planning is heuristic first. Sequencing words ("then", "after that")
// create dependency edges, while ";", "and also" and "as well as" create
// independent tasks. When several parts of a request are unrecognized and
// a backend is available, the backend is asked for a decomposition; any
// failure there falls back to the heuristic plan.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode"

	"github.com/ShayCichocki/conductor/internal/backend"
	"github.com/ShayCichocki/conductor/internal/graph"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// Defaults.
const (
	DefaultMaxQueryLength = 2000
	DefaultMaxTasks       = 8
)

// Gate is the circuit breaker view the planner needs.
type Gate interface {
	Allow(id string) bool
	RecordSuccess(id string)
	RecordFailure(id string)
}

// Planner builds task plans. It is safe for concurrent use.
type Planner struct {
	classifier     *Classifier
	maxQueryLength int
	maxTasks       int

	generator backend.Generator
	gate      Gate
	params    backend.ModelParams

	logger *slog.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithCapabilities replaces the keyword table.
func WithCapabilities(caps []Capability, fallback string) Option {
	return func(p *Planner) {
		p.classifier = NewClassifier(caps, fallback)
	}
}

// WithMaxQueryLength bounds accepted requests, in runes.
func WithMaxQueryLength(n int) Option {
	return func(p *Planner) {
		if n > 0 {
			p.maxQueryLength = n
		}
	}
}

// WithMaxTasks bounds the plan size.
func WithMaxTasks(n int) Option {
	return func(p *Planner) {
		if n > 0 {
			p.maxTasks = n
		}
	}
}

// WithBackend enables backend decomposition for ambiguous compound requests.
// gate may be nil.
func WithBackend(g backend.Generator, gate Gate, params backend.ModelParams) Option {
	return func(p *Planner) {
		p.generator = g
		p.gate = gate
		p.params = params
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a planner.
func New(opts ...Option) *Planner {
	p := &Planner{
		classifier:     NewClassifier(DefaultCapabilities, DefaultCapability),
		maxQueryLength: DefaultMaxQueryLength,
		maxTasks:       DefaultMaxTasks,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Classifier returns the planner's classifier.
func (p *Planner) Classifier() *Classifier {
	return p.classifier
}

// Plan decomposes query into a validated, acyclic plan. Input that cannot
// be dispatched at all yields a *PlanningError; a request that cannot be
// decomposed becomes a single task over the whole text.
func (p *Planner) Plan(ctx context.Context, query string, params map[string]string) (*models.TaskPlan, error) {
	query = strings.Join(strings.Fields(query), " ")
	if err := p.validate(query); err != nil {
		return nil, err
	}

	segs := splitSegments(query, p.classifier)
	if len(segs) == 0 {
		return p.singleTaskPlan(query, params, &PlanningError{Query: query, Reason: "no intent found"}), nil
	}
	if len(segs) > p.maxTasks {
		err := &PlanningError{Query: query, Reason: fmt.Sprintf("request has %d parts, limit is %d", len(segs), p.maxTasks)}
		return p.singleTaskPlan(query, params, err), nil
	}

	unknown := 0
	for _, s := range segs {
		if _, hits := p.classifier.Classify(s.text); hits == 0 {
			unknown++
		}
	}

	if unknown > 1 && p.generator != nil {
		plan, err := p.planWithBackend(ctx, query, params)
		if err == nil {
			return plan, nil
		}
		p.logger.Warn("backend decomposition failed, using heuristic plan", "error", err)
	}

	plan := p.heuristicPlan(segs, params)
	if err := graph.Validate(plan); err != nil {
		return p.singleTaskPlan(query, params, &PlanningError{Query: query, Reason: "invalid plan", Err: err}), nil
	}
	return plan, nil
}

// singleTaskPlan answers a request that could not be decomposed with one
// task over the whole text.
func (p *Planner) singleTaskPlan(query string, params map[string]string, cause error) *models.TaskPlan {
	p.logger.Warn("decomposition failed, planning a single task", "error", cause)

	taskParams := copyParams(params)
	taskParams["query"] = query
	if loc := extractLocation(query); loc != "" {
		taskParams["location"] = loc
	}
	capability, _ := p.classifier.Classify(query)
	return &models.TaskPlan{Tasks: []models.TaskDefinition{{
		ID:         "task-1",
		Capability: capability,
		Parameters: taskParams,
	}}}
}

func (p *Planner) validate(query string) error {
	if query == "" {
		return &PlanningError{Query: query, Reason: "empty request"}
	}
	if n := len([]rune(query)); n > p.maxQueryLength {
		return &PlanningError{Query: query, Reason: fmt.Sprintf("request is %d characters, limit is %d", n, p.maxQueryLength)}
	}
	if strings.IndexFunc(query, unicode.IsLetter) < 0 {
		return &PlanningError{Query: query, Reason: "request contains no words"}
	}
	return nil
}

// heuristicPlan turns segments into task definitions. Segments of stage n
// depend on every segment of stage n-1 and receive their outputs as context.
func (p *Planner) heuristicPlan(segs []segment, params map[string]string) *models.TaskPlan {
	plan := &models.TaskPlan{Tasks: make([]models.TaskDefinition, 0, len(segs))}
	byStage := make(map[int][]int)

	for i, s := range segs {
		id := fmt.Sprintf("task-%d", i+1)
		capability, _ := p.classifier.Classify(s.text)

		taskParams := copyParams(params)
		taskParams["query"] = s.text
		if loc := extractLocation(s.text); loc != "" {
			taskParams["location"] = loc
		}

		var deps []string
		var contexts []string
		for _, pi := range byStage[s.stage-1] {
			parent := plan.Tasks[pi]
			deps = append(deps, parent.ID)
			contexts = append(contexts, "{{"+parent.ID+".output}}")
			if _, ok := taskParams["location"]; !ok {
				if loc := parent.Param("location"); loc != "" {
					taskParams["location"] = loc
				}
			}
		}
		if len(contexts) > 0 {
			taskParams["context"] = strings.Join(contexts, "\n")
		}

		plan.Tasks = append(plan.Tasks, models.TaskDefinition{
			ID:         id,
			Capability: capability,
			Parameters: taskParams,
			DependsOn:  deps,
		})
		byStage[s.stage] = append(byStage[s.stage], i)
	}
	return plan
}

// planWithBackend asks the backend for a decomposition.
func (p *Planner) planWithBackend(ctx context.Context, query string, params map[string]string) (*models.TaskPlan, error) {
	id := backend.ID(p.params.Model)
	if p.gate != nil && !p.gate.Allow(id) {
		return nil, fmt.Errorf("backend %s circuit open", id)
	}

	caps := make([]string, 0, len(p.classifier.caps)+1)
	for _, c := range p.classifier.caps {
		caps = append(caps, c.Name)
	}
	caps = append(caps, p.classifier.Fallback())

	text, err := p.generator.Generate(ctx, fmt.Sprintf(decompositionPrompt, strings.Join(caps, ", "), query), p.params)
	if err != nil {
		if p.gate != nil {
			p.gate.RecordFailure(id)
		}
		return nil, fmt.Errorf("generate decomposition: %w", err)
	}
	if p.gate != nil {
		p.gate.RecordSuccess(id)
	}

	plan, err := ParseResponse(text, params, p.classifier.Fallback())
	if err != nil {
		return nil, err
	}
	if plan.Len() > p.maxTasks {
		return nil, fmt.Errorf("decomposition has %d tasks, limit is %d", plan.Len(), p.maxTasks)
	}
	if err := graph.Validate(plan); err != nil {
		return nil, fmt.Errorf("validate decomposition: %w", err)
	}
	return plan, nil
}

// decomposedTask is the JSON structure returned by the backend for one task.
type decomposedTask struct {
	ID         string   `json:"id"`
	Capability string   `json:"capability"`
	Query      string   `json:"query"`
	DependsOn  []string `json:"depends_on"`
}

// ParseResponse extracts the JSON task array from a backend response.
// Missing ids are assigned in order and missing capabilities get fallback.
func ParseResponse(response string, params map[string]string, fallback string) (*models.TaskPlan, error) {
	jsonStart := strings.Index(response, "[")
	jsonEnd := strings.LastIndex(response, "]")
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd <= jsonStart {
		preview := response
		if len(preview) > 200 {
			preview = preview[:200] + "... (truncated)"
		}
		return nil, fmt.Errorf("no valid JSON array found in response (got %d chars): %q", len(response), preview)
	}

	var decomposed []decomposedTask
	if err := json.Unmarshal([]byte(response[jsonStart:jsonEnd+1]), &decomposed); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}
	if len(decomposed) == 0 {
		return nil, fmt.Errorf("empty task list returned")
	}

	plan := &models.TaskPlan{Tasks: make([]models.TaskDefinition, 0, len(decomposed))}
	for i, dt := range decomposed {
		id := strings.TrimSpace(dt.ID)
		if id == "" {
			id = fmt.Sprintf("task-%d", i+1)
		}
		capability := strings.ToLower(strings.TrimSpace(dt.Capability))
		if capability == "" {
			capability = fallback
		}
		taskParams := copyParams(params)
		taskParams["query"] = strings.TrimSpace(dt.Query)
		if loc := extractLocation(dt.Query); loc != "" {
			taskParams["location"] = loc
		}
		if len(dt.DependsOn) > 0 {
			ctxs := make([]string, len(dt.DependsOn))
			for j, dep := range dt.DependsOn {
				ctxs[j] = "{{" + dep + ".output}}"
			}
			taskParams["context"] = strings.Join(ctxs, "\n")
		}
		plan.Tasks = append(plan.Tasks, models.TaskDefinition{
			ID:         id,
			Capability: capability,
			Parameters: taskParams,
			DependsOn:  append([]string(nil), dt.DependsOn...),
		})
	}
	return plan, nil
}

func copyParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params)+3)
	for k, v := range params {
		out[k] = v
	}
	return out
}
