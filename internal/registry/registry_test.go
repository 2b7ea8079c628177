package registry

import (
	"context"
	"testing"

	"github.com/ShayCichocki/conductor/pkg/models"
)

func TestRegistry_FindAgentsRoundRobin(t *testing.T) {
	r := New()
	for _, id := range []string{"w1", "w2", "w3"} {
		if err := r.Register(models.AgentRef{ID: id, Capability: "weather", Topic: "agents." + id}); err != nil {
			t.Fatalf("Register(%s) error: %v", id, err)
		}
	}

	ctx := context.Background()
	var firsts []string
	for i := 0; i < 4; i++ {
		agents := r.FindAgents(ctx, "weather")
		if len(agents) != 3 {
			t.Fatalf("FindAgents() returned %d agents, want 3", len(agents))
		}
		firsts = append(firsts, agents[0].ID)
	}

	want := []string{"w1", "w2", "w3", "w1"}
	for i := range want {
		if firsts[i] != want[i] {
			t.Errorf("lookup %d first agent = %q, want %q", i, firsts[i], want[i])
		}
	}
}

func TestRegistry_UnknownCapability(t *testing.T) {
	r := New()
	if agents := r.FindAgents(context.Background(), "finance"); len(agents) != 0 {
		t.Errorf("FindAgents() = %v, want empty", agents)
	}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := New()
	if err := r.Register(models.AgentRef{ID: "x", Capability: "weather"}); err == nil {
		t.Error("expected error for missing topic")
	}
	if r.Count() != 0 {
		t.Errorf("Count() = %d, want 0", r.Count())
	}
}

func TestRegistry_ReplaceAndUnregister(t *testing.T) {
	r := New()
	r.Register(models.AgentRef{ID: "a", Capability: "weather", Topic: "t1"})
	r.Register(models.AgentRef{ID: "a", Capability: "finance", Topic: "t2"})

	if agents := r.FindAgents(context.Background(), "weather"); len(agents) != 0 {
		t.Errorf("re-registered agent still listed under old capability: %v", agents)
	}
	if got, ok := r.GetAgent("a"); !ok || got.Topic != "t2" {
		t.Errorf("GetAgent(a) = %+v, %v", got, ok)
	}
	if caps := r.Capabilities(); len(caps) != 1 || caps[0] != "finance" {
		t.Errorf("Capabilities() = %v, want [finance]", caps)
	}

	r.Unregister("a")
	if r.Count() != 0 {
		t.Errorf("Count() = %d, want 0", r.Count())
	}
	if caps := r.Capabilities(); len(caps) != 0 {
		t.Errorf("Capabilities() = %v, want empty", caps)
	}
}
