package orchestrator

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ShayCichocki/conductor/internal/graph"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// session is the per-request state. Everything but state is owned by the
// session goroutine.
type session struct {
	id        string
	query     string
	params    map[string]string
	createdAt time.Time
	deadline  time.Time

	state atomic.Value // models.SessionState

	plan    *models.TaskPlan
	graph   *graph.DependencyGraph
	results map[string]*models.TaskResult

	degraded bool
	// failure is set on an invariant violation; the session ends FAILED.
	failure error

	logger *slog.Logger
}

func newSession(id, query string, params map[string]string, logger *slog.Logger) *session {
	cp := make(map[string]string, len(params))
	for k, v := range params {
		cp[k] = v
	}
	s := &session{
		id:        id,
		query:     query,
		params:    cp,
		createdAt: time.Now(),
		results:   make(map[string]*models.TaskResult),
		logger:    logger.With("session_id", id),
	}
	s.state.Store(models.SessionCreated)
	return s
}

// State returns the current state.
func (s *session) State() models.SessionState {
	return s.state.Load().(models.SessionState)
}

// transition moves the session forward. Illegal transitions are logged and
// ignored.
func (s *session) transition(next models.SessionState) bool {
	cur := s.State()
	if !cur.CanTransitionTo(next) {
		s.logger.Warn("illegal session transition ignored", "from", cur, "to", next)
		return false
	}
	s.state.Store(next)
	s.logger.Debug("session transition", "from", cur, "to", next)
	return true
}

// record stores a task result. A result for an already resolved task is
// ignored.
func (s *session) record(r *models.TaskResult) bool {
	if _, ok := s.results[r.TaskID]; ok {
		return false
	}
	s.results[r.TaskID] = r
	if r.Degraded {
		s.degraded = true
	}
	return true
}

// ordered returns results in topological order, falling back to
// declaration order.
func (s *session) ordered() []models.TaskResult {
	var ids []string
	if s.graph != nil {
		if sorted, err := s.graph.TopologicalSort(); err == nil {
			ids = sorted
		}
	}
	if ids == nil {
		ids = s.plan.IDs()
	}

	out := make([]models.TaskResult, 0, len(s.results))
	for _, id := range ids {
		if r, ok := s.results[id]; ok {
			out = append(out, *r)
		}
	}
	// Results without a plan entry, such as the planning fallback.
	if len(out) < len(s.results) {
		for id, r := range s.results {
			if _, ok := s.plan.Task(id); !ok {
				out = append(out, *r)
			}
		}
	}
	return out
}

// finalState decides the terminal state from the collected results.
func (s *session) finalState() models.SessionState {
	if s.failure != nil {
		return models.SessionFailed
	}
	if len(s.results) == 0 {
		return models.SessionFailed
	}
	allPlaceholder := true
	for _, r := range s.results {
		if r.Source != models.SourcePlaceholder {
			allPlaceholder = false
			break
		}
	}
	switch {
	case allPlaceholder:
		return models.SessionFailed
	case s.degraded:
		return models.SessionDegraded
	default:
		return models.SessionCompleted
	}
}
