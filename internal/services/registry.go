package services

import (
	"sync"

	"github.com/google/uuid"

	"github.com/taskmind/taskmind/internal/logger"
)

// Registry owns the set of live sessions and an alias table mapping
// external/logical ids (task ids, resume ids) onto real session ids. The
// alias table is pure lookup; it never extends a session's lifetime. One
// registry is constructed at process startup and injected into every
// collaborator that needs it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	aliases  map[string]string

	historyBytes int
}

// CreateOptions describes the session to create. SessionID may be empty,
// in which case a fresh uuid is generated.
type CreateOptions struct {
	SessionID string
	Command   []string
	WorkDir   string
	Env       map[string]string
}

// NewRegistry builds an empty registry. historyBytes bounds each
// session's replay buffer; zero selects the default.
func NewRegistry(historyBytes int) *Registry {
	return &Registry{
		sessions:     make(map[string]*Session),
		aliases:      make(map[string]string),
		historyBytes: historyBytes,
	}
}

// Create starts a new PTY session, or returns the existing one unchanged
// when a still-running session is already registered under the requested
// id. The idempotent re-attach is what prevents duplicate child processes
// when multiple callers race to resume the same logical conversation.
func (r *Registry) Create(opts CreateOptions) (*Session, error) {
	id := opts.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	if existing, ok := r.Get(id); ok && existing.Running() {
		logger.Infof("🔄 Reusing existing PTY session %s", shortID(id))
		return existing, nil
	}

	session := NewSession(id, opts.Command, opts.WorkDir, r.historyBytes)
	if err := session.Start(opts.Env); err != nil {
		return nil, err
	}

	// The lock is never held across the spawn above; re-check for a
	// racing creator before publishing.
	r.mu.Lock()
	if existing, ok := r.sessions[id]; ok && existing.Running() {
		r.mu.Unlock()
		session.Stop()
		return existing, nil
	}
	r.sessions[id] = session
	r.mu.Unlock()

	logger.Infof("✅ Created PTY session %s", shortID(id))
	return session, nil
}

// Get resolves id through the alias table first, falling back to a direct
// session-id lookup, so a caller-visible id resolves to at most one
// session.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[r.resolveLocked(id)]
	return session, ok
}

func (r *Registry) resolveLocked(id string) string {
	if real, ok := r.aliases[id]; ok {
		return real
	}
	return id
}

// RegisterAlias records a logical-id binding, overwriting any prior
// binding for externalID.
func (r *Registry) RegisterAlias(externalID, realSessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[externalID] = realSessionID
}

// RegisterAliasIfAbsent records the binding only when externalID has no
// binding yet. Used by background reconciliation, which must never evict
// a binding created by an explicit caller.
func (r *Registry) RegisterAliasIfAbsent(externalID, realSessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.aliases[externalID]; ok {
		return false
	}
	r.aliases[externalID] = realSessionID
	return true
}

// IsAliased reports whether any alias currently points at realSessionID.
func (r *Registry) IsAliased(realSessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, target := range r.aliases {
		if target == realSessionID {
			return true
		}
	}
	return false
}

// List returns a snapshot of all registered sessions.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// Close resolves aliasing, stops and removes the underlying session, and
// drops every alias pointing at it. Closing an unknown id is a no-op.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	realID := r.resolveLocked(id)
	session, ok := r.sessions[realID]
	delete(r.sessions, realID)
	delete(r.aliases, id)
	for external, target := range r.aliases {
		if target == realID {
			delete(r.aliases, external)
		}
	}
	r.mu.Unlock()

	if ok {
		session.Stop()
		logger.Infof("🧹 Closed PTY session %s", shortID(realID))
	}
}

// CloseAll stops every session. Called at process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.sessions = make(map[string]*Session)
	r.aliases = make(map[string]string)
	r.mu.Unlock()

	for _, session := range sessions {
		session.Stop()
	}
}
