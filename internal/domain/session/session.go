package session

import (
	"context"
	"sync"
	"time"
)

// State is the connection lifecycle of one session.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Channel is the duplex connection a session talks through.
type Channel interface {
	Send(ctx context.Context, payload []byte) error
	Close(code int, reason string) error
	RemoteAddr() string
}

// Session 单个长连接的内存记录
type Session struct {
	id          string
	privileged  bool
	remoteAddr  string
	connectedAt time.Time

	mu            sync.RWMutex
	identity      string
	lastHeartbeat time.Time
	online        bool
	accessOff     bool
	state         State
}

// New creates a session in the connecting state.
func New(id, identity, remoteAddr string, privileged bool, now time.Time) *Session {
	return &Session{
		id:            id,
		identity:      identity,
		privileged:    privileged,
		remoteAddr:    remoteAddr,
		connectedAt:   now,
		lastHeartbeat: now,
		state:         StateConnecting,
	}
}

func (s *Session) ID() string             { return s.id }
func (s *Session) Privileged() bool       { return s.privileged }
func (s *Session) RemoteAddr() string     { return s.remoteAddr }
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// Identity returns the end-user identity, empty for anonymous sessions.
func (s *Session) Identity() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

func (s *Session) LastHeartbeat() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHeartbeat
}

func (s *Session) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// Ready reports whether the session is online and has been welcomed.
func (s *Session) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online && s.state == StateActive
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState moves the session forward. Disconnected is terminal.
func (s *Session) SetState(state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected || state < s.state {
		return false
	}
	s.state = state
	return true
}

// AccessEnabled is the orthogonal access flag; a disabled session keeps its
// channel but only receives placeholder credentials.
func (s *Session) AccessEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.accessOff
}

func (s *Session) SetAccessEnabled(enabled bool) {
	s.mu.Lock()
	s.accessOff = !enabled
	s.mu.Unlock()
}

// Snapshot is a copy of the session safe to hand to other goroutines.
type Snapshot struct {
	SessionID     string    `json:"client_id"`
	UserID        string    `json:"user_id,omitempty"`
	Privileged    bool      `json:"is_admin"`
	Online        bool      `json:"online"`
	AccessEnabled bool      `json:"access_enabled"`
	State         string    `json:"state"`
	RemoteAddr    string    `json:"remote_addr,omitempty"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		SessionID:     s.id,
		UserID:        s.identity,
		Privileged:    s.privileged,
		Online:        s.online,
		AccessEnabled: !s.accessOff,
		State:         s.state.String(),
		RemoteAddr:    s.remoteAddr,
		ConnectedAt:   s.connectedAt,
		LastHeartbeat: s.lastHeartbeat,
	}
}
