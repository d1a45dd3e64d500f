package session

import (
	"context"
	"fmt"
	"sync"

	"interviewlab/lsp-gateway/async"
	"interviewlab/lsp-gateway/logger"
)

// Registry is the process-wide map of live sessions, keyed by session
// id. It is mutated only by the WebSocket handler and the shutdown
// routine.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds a session. A second connection reusing a live id is
// refused; the first session owns the workspace.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.ID]; exists {
		return fmt.Errorf("session %s already active", s.ID)
	}

	r.sessions[s.ID] = s

	return nil
}

// Unregister removes a session by id. Removing an absent id is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
}

// Get looks up a live session.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

// ShutdownAll cleans up a snapshot of the live sessions concurrently.
// Individual failures are logged and swallowed; shutdown proceeds
// regardless.
func (r *Registry) ShutdownAll(ctx context.Context) {
	r.mu.Lock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}

	logger.Info(fmt.Sprintf("Shutting down %d active sessions", len(snapshot)))

	ops := make([]func() (string, error), 0, len(snapshot))
	for _, s := range snapshot {
		s := s
		ops = append(ops, func() (string, error) {
			s.Cleanup()
			return s.ID, nil
		})
	}

	if _, err := async.Map(ctx, ops); err != nil {
		logger.Warn(fmt.Sprintf("Session shutdown interrupted: %v", err))
	}
}
