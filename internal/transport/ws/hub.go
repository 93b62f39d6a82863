package ws

import (
	"sync"

	"senweaver-server-go/internal/platform/logging"
)

// Hub tracks the running read loops of a transport instance.
type Hub struct {
	logger   *logging.Logger
	sessions sync.Map // map[string]*Session
	running  sync.WaitGroup
}

// NewHub builds a fresh session hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger: logger,
	}
}

// Register adds a new session to the hub.
func (h *Hub) Register(session *Session) {
	if session == nil {
		return
	}
	h.running.Add(1)
	h.sessions.Store(session.ID(), session)
}

// Unregister removes the session from the hub.
func (h *Hub) Unregister(id string) {
	if id == "" {
		return
	}
	if _, ok := h.sessions.LoadAndDelete(id); ok {
		h.running.Done()
	}
}

// CloseAll terminates all active sessions. Their read loops unregister
// themselves once they observe the closed socket.
func (h *Hub) CloseAll(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}

	h.sessions.Range(func(key, value any) bool {
		if session, ok := value.(*Session); ok {
			session.Close(reason)
		}
		return true
	})
}

// Wait blocks until every registered read loop has exited.
func (h *Hub) Wait() {
	h.running.Wait()
}

// Count exposes the number of active websocket connections.
func (h *Hub) Count() int {
	n := 0
	h.sessions.Range(func(key, value any) bool {
		n++
		return true
	})
	return n
}
