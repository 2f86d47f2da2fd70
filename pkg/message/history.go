package message

import "sync"

// History keeps one ordered conversation per session id. Chat-style
// backends replay it on every request to emulate a stateful session.
type History struct {
	mu       sync.Mutex
	sessions map[string][]Message
}

func NewHistory() *History {
	return &History{sessions: make(map[string][]Message)}
}

// Start replaces any conversation stored for sessionID with the given turns.
func (h *History) Start(sessionID string, turns ...Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[sessionID] = append([]Message(nil), turns...)
}

// Append adds turns to an existing conversation. It reports false when the
// session was never started or already ended.
func (h *History) Append(sessionID string, turns ...Message) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	existing, ok := h.sessions[sessionID]
	if !ok {
		return false
	}
	h.sessions[sessionID] = append(existing, turns...)
	return true
}

// Snapshot returns a copy of the conversation so callers can build a request
// without holding the lock.
func (h *History) Snapshot(sessionID string) ([]Message, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	turns, ok := h.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return append([]Message(nil), turns...), true
}

// End drops the conversation.
func (h *History) End(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sessionID)
}

// Len reports how many sessions are live.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
