package graph

import (
	"errors"
	"sort"
	"testing"

	"github.com/ShayCichocki/conductor/pkg/models"
)

func task(id string, deps ...string) models.TaskDefinition {
	return models.TaskDefinition{ID: id, Capability: "general", DependsOn: deps}
}

func mustBuild(t *testing.T, tasks ...models.TaskDefinition) *DependencyGraph {
	t.Helper()
	g := New()
	if err := g.Build(tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return g
}

func TestNew(t *testing.T) {
	g := New()
	if g == nil {
		t.Fatal("expected non-nil graph")
	}
	if !g.Done() || len(g.Ready()) != 0 {
		t.Errorf("expected empty graph, ready = %v", g.Ready())
	}
	if g.CriticalPathLength() != 0 {
		t.Errorf("CriticalPathLength() = %d, want 0", g.CriticalPathLength())
	}
}

func TestBuildWithDependencies(t *testing.T) {
	g := mustBuild(t,
		task("task-1"),
		task("task-2", "task-1"),
		task("task-3", "task-1", "task-2"),
	)

	if ready := g.Ready(); len(ready) != 1 || ready[0] != "task-1" {
		t.Fatalf("Ready() = %v, want [task-1]", ready)
	}
	if unlocked := g.MarkComplete("task-1"); len(unlocked) != 1 || unlocked[0] != "task-2" {
		t.Errorf("MarkComplete(task-1) unlocked %v, want [task-2]", unlocked)
	}
	if unlocked := g.MarkComplete("task-2"); len(unlocked) != 1 || unlocked[0] != "task-3" {
		t.Errorf("MarkComplete(task-2) unlocked %v, want [task-3]", unlocked)
	}
	if g.CriticalPathLength() != 3 {
		t.Errorf("CriticalPathLength() = %d, want 3", g.CriticalPathLength())
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name    string
		tasks   []models.TaskDefinition
		wantErr error
	}{
		{"unknown dependency", []models.TaskDefinition{task("A", "missing")}, ErrUnknownDependency},
		{"duplicate id", []models.TaskDefinition{task("A"), task("A")}, ErrDuplicateTask},
		{"self loop", []models.TaskDefinition{task("A", "A")}, ErrCycleDetected},
		{"two node cycle", []models.TaskDefinition{task("A", "B"), task("B", "A")}, ErrCycleDetected},
		{"three node cycle", []models.TaskDefinition{task("A", "B"), task("B", "C"), task("C", "A")}, ErrCycleDetected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New().Build(tt.tasks)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Build() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(&models.TaskPlan{}); err == nil {
		t.Error("expected error for empty plan")
	}
	if err := Validate(&models.TaskPlan{Tasks: []models.TaskDefinition{task("A"), task("B", "A")}}); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
	cyclic := &models.TaskPlan{Tasks: []models.TaskDefinition{task("A", "B"), task("B", "A")}}
	if err := Validate(cyclic); !errors.Is(err, ErrCycleDetected) {
		t.Errorf("Validate() error = %v, want ErrCycleDetected", err)
	}
}

func TestTopologicalSortDiamond(t *testing.T) {
	g := mustBuild(t,
		task("D", "B", "C"),
		task("A"),
		task("B", "A"),
		task("C", "A"),
	)

	sorted, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error in TopologicalSort: %v", err)
	}

	want := []string{"A", "B", "C", "D"}
	if len(sorted) != len(want) {
		t.Fatalf("expected %d elements, got %d", len(want), len(sorted))
	}
	for i := range want {
		if sorted[i] != want[i] {
			t.Errorf("sorted = %v, want %v", sorted, want)
			break
		}
	}
}

func TestTopologicalSortWithCycle(t *testing.T) {
	// Bypass Build's cycle check.
	g := New()
	g.order = []string{"A", "B"}
	g.nodes["A"] = task("A")
	g.nodes["B"] = task("B")
	g.edges["A"] = []string{"B"}
	g.edges["B"] = []string{"A"}

	if _, err := g.TopologicalSort(); !errors.Is(err, ErrCycleDetected) {
		t.Errorf("expected ErrCycleDetected, got %v", err)
	}
}

func TestCriticalPathLength(t *testing.T) {
	tests := []struct {
		name  string
		tasks []models.TaskDefinition
		want  int
	}{
		{"single", []models.TaskDefinition{task("A")}, 1},
		{"independent", []models.TaskDefinition{task("A"), task("B")}, 1},
		{"chain", []models.TaskDefinition{task("A"), task("B", "A"), task("C", "B")}, 3},
		{"diamond", []models.TaskDefinition{task("A"), task("B", "A"), task("C", "A"), task("D", "B", "C")}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := mustBuild(t, tt.tasks...)
			if got := g.CriticalPathLength(); got != tt.want {
				t.Errorf("CriticalPathLength() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestReadyHandsOutEachTaskOnce(t *testing.T) {
	g := mustBuild(t, task("A"), task("B"), task("C", "A", "B"))

	ready := g.Ready()
	sort.Strings(ready)
	if len(ready) != 2 || ready[0] != "A" || ready[1] != "B" {
		t.Fatalf("expected A and B to be ready, got %v", ready)
	}
	if again := g.Ready(); len(again) != 0 {
		t.Errorf("expected no tasks on second call, got %v", again)
	}

	if unlocked := g.MarkComplete("A"); len(unlocked) != 0 {
		t.Errorf("C should still wait on B, got unlocked %v", unlocked)
	}
	unlocked := g.MarkComplete("B")
	if len(unlocked) != 1 || unlocked[0] != "C" {
		t.Fatalf("expected C unlocked, got %v", unlocked)
	}
	if ready := g.Ready(); len(ready) != 1 || ready[0] != "C" {
		t.Errorf("expected C ready, got %v", ready)
	}

	g.MarkComplete("C")
	if !g.Done() {
		t.Error("expected graph done after all tasks complete")
	}
}

func TestMarkCompleteIdempotent(t *testing.T) {
	g := mustBuild(t, task("A"), task("B", "A"), task("C", "A", "B"))
	g.Ready()

	g.MarkComplete("A")
	if unlocked := g.MarkComplete("A"); unlocked != nil {
		t.Errorf("second MarkComplete should be a no-op, got %v", unlocked)
	}
	if got := g.Unresolved(); len(got) != 2 {
		t.Errorf("Unresolved() = %v, want [B C]", got)
	}
	if unlocked := g.MarkComplete("unknown"); unlocked != nil {
		t.Errorf("unknown task should unlock nothing, got %v", unlocked)
	}
}

func TestGetTask(t *testing.T) {
	g := mustBuild(t, task("task-1"))

	got, ok := g.GetTask("task-1")
	if !ok || got.ID != "task-1" {
		t.Errorf("GetTask(task-1) = %v, %v", got, ok)
	}
	if _, ok := g.GetTask("non-existent"); ok {
		t.Error("expected non-existent task to be absent")
	}
}
