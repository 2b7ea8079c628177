// Package graph provides the task dependency graph used to schedule a plan.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// ErrDuplicateTask indicates two tasks in a plan share an ID.
var ErrDuplicateTask = errors.New("duplicate task id")

// ErrUnknownDependency indicates a task depends on an ID absent from the plan.
var ErrUnknownDependency = errors.New("unknown dependency")

// DependencyGraph is an arena of tasks keyed by ID with a remaining
// dependency count per node. A node is ready when its count reaches zero,
// regardless of whether its parents succeeded or were filled by fallback.
type DependencyGraph struct {
	mu sync.RWMutex
	// order keeps declaration order so iteration is deterministic.
	order []string
	// nodes maps task ID to its definition.
	nodes map[string]models.TaskDefinition
	// edges maps task ID to IDs of tasks it depends on.
	edges map[string][]string
	// dependents maps task ID to IDs of tasks waiting on it.
	dependents map[string][]string
	// pending is the number of unresolved dependencies per task.
	pending map[string]int
	// started tracks tasks handed out by Ready.
	started map[string]bool
	// completed tracks tasks that have a result.
	completed map[string]bool
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:      make(map[string]models.TaskDefinition),
		edges:      make(map[string][]string),
		dependents: make(map[string][]string),
		pending:    make(map[string]int),
		started:    make(map[string]bool),
		completed:  make(map[string]bool),
		debugLog:   func(format string, args ...interface{}) {},
	}
}

// FromPlan builds a graph from a plan.
func FromPlan(plan *models.TaskPlan) (*DependencyGraph, error) {
	if plan == nil {
		return nil, errors.New("nil plan")
	}
	g := New()
	if err := g.Build(plan.Tasks); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate checks that a plan is a well-formed DAG: non-empty, unique IDs,
// every dependency present and no cycles (self-dependencies included).
func Validate(plan *models.TaskPlan) error {
	if plan.Len() == 0 {
		return errors.New("plan has no tasks")
	}
	_, err := FromPlan(plan)
	return err
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build constructs the dependency graph from task definitions.
// Returns an error if a cycle is detected, IDs repeat or dependencies
// reference unknown tasks.
func (g *DependencyGraph) Build(tasks []models.TaskDefinition) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.Build] building graph from %d tasks", len(tasks))

	// First pass: register all tasks as nodes.
	for _, task := range tasks {
		if task.ID == "" {
			return errors.New("task with empty id")
		}
		if _, exists := g.nodes[task.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
		}
		g.order = append(g.order, task.ID)
		g.nodes[task.ID] = task
		g.edges[task.ID] = nil
	}

	// Second pass: build edges from DependsOn fields.
	for _, task := range tasks {
		seen := make(map[string]bool, len(task.DependsOn))
		for _, depID := range task.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("%w: task %s depends on %s", ErrUnknownDependency, task.ID, depID)
			}
			if seen[depID] {
				continue
			}
			seen[depID] = true
			g.edges[task.ID] = append(g.edges[task.ID], depID)
			g.dependents[depID] = append(g.dependents[depID], task.ID)
		}
		g.pending[task.ID] = len(g.edges[task.ID])
	}

	if g.hasCycleLocked() {
		return ErrCycleDetected
	}

	g.debugLog("[graph.Build] graph built with %d nodes, edges: %v", len(g.nodes), g.edges)
	return nil
}

// hasCycleLocked reports a circular dependency using depth-first search
// with coloring. The caller holds the lock.
func (g *DependencyGraph) hasCycleLocked() bool {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				// Back edge.
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		colors[id] = 2
		return false
	}

	for _, id := range g.order {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// TopologicalSort returns task IDs in an order where all dependencies come
// before the tasks that depend on them. Among tasks that are ready at the
// same time, declaration order is kept.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}

	remaining := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		remaining[id] = len(g.edges[id])
	}

	result := make([]string, 0, len(g.order))
	emitted := make(map[string]bool, len(g.order))
	for len(result) < len(g.order) {
		progressed := false
		for _, id := range g.order {
			if emitted[id] || remaining[id] > 0 {
				continue
			}
			emitted[id] = true
			result = append(result, id)
			for _, dep := range g.dependents[id] {
				remaining[dep]--
			}
			progressed = true
		}
		if !progressed {
			return nil, ErrCycleDetected
		}
	}
	return result, nil
}

// CriticalPathLength returns the number of tasks on the longest dependency
// chain. A plan without edges has length 1; an empty graph has length 0.
func (g *DependencyGraph) CriticalPathLength() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	depth := make(map[string]int, len(g.nodes))
	var walk func(id string) int
	walk = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		longest := 0
		for _, dep := range g.edges[id] {
			if d := walk(dep); d > longest {
				longest = d
			}
		}
		depth[id] = longest + 1
		return longest + 1
	}

	maxDepth := 0
	for _, id := range g.order {
		if d := walk(id); d > maxDepth {
			maxDepth = d
		}
	}
	return maxDepth
}

// Ready returns task IDs whose dependency count is zero and which have not
// been handed out yet, marking them started. Independent tasks returned in
// one call can be dispatched concurrently.
func (g *DependencyGraph) Ready() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ready []string
	for _, id := range g.order {
		if g.started[id] || g.completed[id] {
			continue
		}
		if g.pending[id] == 0 {
			g.started[id] = true
			ready = append(ready, id)
		}
	}
	g.debugLog("[graph.Ready] returning %d ready tasks: %v", len(ready), ready)
	return ready
}

// MarkComplete records that a task has a result and decrements the
// dependency count of its dependents. It returns the dependents that became
// ready as a result. Marking a task twice is a no-op.
func (g *DependencyGraph) MarkComplete(taskID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[taskID]; !ok || g.completed[taskID] {
		return nil
	}
	g.completed[taskID] = true
	g.started[taskID] = true

	var unlocked []string
	for _, dep := range g.dependents[taskID] {
		g.pending[dep]--
		if g.pending[dep] == 0 && !g.started[dep] {
			unlocked = append(unlocked, dep)
		}
	}
	g.debugLog("[graph.MarkComplete] %s complete, unlocked %v", taskID, unlocked)
	return unlocked
}

// Done returns true once every task has been marked complete.
func (g *DependencyGraph) Done() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.completed) == len(g.nodes)
}

// Unresolved returns the IDs of tasks without a result, in declaration order.
func (g *DependencyGraph) Unresolved() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ids []string
	for _, id := range g.order {
		if !g.completed[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

// GetTask returns the definition for a given ID.
func (g *DependencyGraph) GetTask(taskID string) (models.TaskDefinition, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.nodes[taskID]
	return t, ok
}
