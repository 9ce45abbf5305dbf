package ws

import (
	"sync"
)

type Conn interface {
	Send(msg Message) error
	Close() error
	UserID() string
	SessionID() string
}

// Hub groups live sockets by session so chat can be fanned out to everyone
// attached to the same call.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[string]map[Conn]struct{})}
}

func (h *Hub) Add(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cs, ok := h.sessions[c.SessionID()]
	if !ok {
		cs = make(map[Conn]struct{})
		h.sessions[c.SessionID()] = cs
	}
	cs[c] = struct{}{}
}

func (h *Hub) Remove(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cs, ok := h.sessions[c.SessionID()]; ok {
		delete(cs, c)
		if len(cs) == 0 {
			delete(h.sessions, c.SessionID())
		}
	}
}

func (h *Hub) Broadcast(sessionID string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if cs, ok := h.sessions[sessionID]; ok {
		for c := range cs {
			_ = c.Send(msg) // best-effort
		}
	}
}
