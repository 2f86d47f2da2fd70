package session

import (
	"sort"
	"sync"
	"time"
)

// Registry maps connection ids to sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*State
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*State)}
}

// Create registers a new uninitialized session. It returns false when the
// id is already taken.
func (r *Registry) Create(id string) (*State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[id]; ok {
		return existing, false
	}
	s := NewState(id)
	r.sessions[id] = s
	return s, true
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes and returns the session for id.
func (r *Registry) Remove(id string) (*State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Summary is a point-in-time view of one session.
type Summary struct {
	ID          string    `json:"id"`
	Stage       string    `json:"stage"`
	Processing  bool      `json:"processing"`
	Gateway     string    `json:"gateway,omitempty"`
	Destination string    `json:"destination,omitempty"`
	OpenedAt    time.Time `json:"opened_at"`
}

// Snapshot lists the live sessions, oldest first.
func (r *Registry) Snapshot() []Summary {
	r.mu.RLock()
	states := make([]*State, 0, len(r.sessions))
	for _, s := range r.sessions {
		states = append(states, s)
	}
	r.mu.RUnlock()

	out := make([]Summary, 0, len(states))
	for _, s := range states {
		sum := Summary{
			ID:         s.ID,
			Stage:      s.Stage().String(),
			Processing: s.Processing(),
			OpenedAt:   s.OpenedAt,
		}
		if cfg := s.Config(); cfg.GatewayIP != "" {
			sum.Gateway = cfg.GatewayAddr()
			sum.Destination = cfg.DestinationUUID
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}
