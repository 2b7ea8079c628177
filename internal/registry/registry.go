// Package registry resolves capabilities to worker agents.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// Finder is the lookup the orchestrator depends on. Implementations return
// an empty slice when no agent serves the capability.
type Finder interface {
	FindAgents(ctx context.Context, capability string) []models.AgentRef
}

// Registry is an in-memory agent registry. It is safe for concurrent use.
// FindAgents rotates the returned list so repeated lookups spread work
// across agents of the same capability.
type Registry struct {
	// agents maps agent IDs to references.
	agents map[string]models.AgentRef
	// byCapability keeps registration order per capability.
	byCapability map[string][]string
	// next is the round-robin offset per capability.
	next map[string]int
	// mu protects all fields.
	mu sync.Mutex
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		agents:       make(map[string]models.AgentRef),
		byCapability: make(map[string][]string),
		next:         make(map[string]int),
	}
}

// Register adds or replaces an agent.
func (r *Registry) Register(a models.AgentRef) error {
	if a.ID == "" || a.Capability == "" || a.Topic == "" {
		return fmt.Errorf("agent %q: id, capability and topic are required", a.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.agents[a.ID]; ok {
		r.removeLocked(old)
	}
	r.agents[a.ID] = a
	r.byCapability[a.Capability] = append(r.byCapability[a.Capability], a.ID)
	return nil
}

// Unregister removes an agent.
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[agentID]; ok {
		r.removeLocked(a)
	}
}

func (r *Registry) removeLocked(a models.AgentRef) {
	delete(r.agents, a.ID)
	ids := r.byCapability[a.Capability]
	for i, id := range ids {
		if id == a.ID {
			r.byCapability[a.Capability] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(r.byCapability[a.Capability]) == 0 {
		delete(r.byCapability, a.Capability)
		delete(r.next, a.Capability)
	}
}

// FindAgents returns the agents serving capability, starting with the one
// whose turn it is.
func (r *Registry) FindAgents(ctx context.Context, capability string) []models.AgentRef {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.byCapability[capability]
	if len(ids) == 0 {
		return nil
	}
	start := r.next[capability] % len(ids)
	r.next[capability] = start + 1

	out := make([]models.AgentRef, 0, len(ids))
	for i := range ids {
		out = append(out, r.agents[ids[(start+i)%len(ids)]])
	}
	return out
}

// GetAgent retrieves an agent by ID.
func (r *Registry) GetAgent(agentID string) (models.AgentRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	return a, ok
}

// Capabilities returns the served capabilities in sorted order.
func (r *Registry) Capabilities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	caps := make([]string, 0, len(r.byCapability))
	for c := range r.byCapability {
		caps = append(caps, c)
	}
	sort.Strings(caps)
	return caps
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.agents)
}
