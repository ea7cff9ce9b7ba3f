package app

import (
	"sort"
	"sync"
	"time"

	"battle-service/internal/domain"
)

// runtimeEntry is the ephemeral state of an ongoing session. It is never persisted.
// mu serializes every mutation of the session it belongs to.
type runtimeEntry struct {
	mu sync.Mutex

	sessionID string
	mode      domain.Mode
	players   []string
	content   domain.Content
	startedAt time.Time
	timeLimit time.Duration
	clock     *sessionClock
	resolved  bool
	// pending holds a decided outcome that is not yet durable. Once set, the
	// session accepts no more answers and every retry commits the same result.
	pending *settlement
}

// settling reports whether the entry has a decided but uncommitted outcome.
func (r *runtimeEntry) settling() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending != nil && !r.resolved
}

func (r *runtimeEntry) hasPlayer(userID string) bool {
	for _, id := range r.players {
		if id == userID {
			return true
		}
	}
	return false
}

// Registry is the process-wide table of active sessions.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*runtimeEntry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*runtimeEntry)}
}

func (r *Registry) get(sessionID string) (*runtimeEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[sessionID]
	return entry, ok
}

func (r *Registry) register(entry *runtimeEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.sessionID] = entry
}

// deregister reports whether an entry was removed.
func (r *Registry) deregister(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[sessionID]; !ok {
		return false
	}
	delete(r.entries, sessionID)
	return true
}

// Len is the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Active lists the ids of active sessions in lexical order.
func (r *Registry) Active() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
