package session

import (
	"sort"
	"sync"
	"time"
)

// Registry maps session ids to their records and live channels. Records and
// channels live in separate maps so an offline session can be kept around
// for bookkeeping after its channel is gone.
type Registry struct {
	sessions sync.Map // map[string]*Session
	conns    sync.Map // map[string]Channel
	locks    sync.Map // map[string]*sync.Mutex, keyed by identity
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register stores a new session and its channel. The session starts offline.
func (r *Registry) Register(sess *Session, ch Channel) {
	if sess == nil {
		return
	}
	r.sessions.Store(sess.id, sess)
	if ch != nil {
		r.conns.Store(sess.id, ch)
	}
}

// Get returns the session record.
func (r *Registry) Get(id string) (*Session, bool) {
	v, ok := r.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Conn returns the live channel held for the session.
func (r *Registry) Conn(id string) (Channel, bool) {
	v, ok := r.conns.Load(id)
	if !ok {
		return nil, false
	}
	return v.(Channel), true
}

// UpdateHeartbeat refreshes the last heartbeat time.
func (r *Registry) UpdateHeartbeat(id string, at time.Time) bool {
	sess, ok := r.Get(id)
	if !ok {
		return false
	}
	sess.mu.Lock()
	sess.lastHeartbeat = at
	sess.mu.Unlock()
	return true
}

// SetIdentity replaces the identity a session claims.
func (r *Registry) SetIdentity(id, identity string) bool {
	sess, ok := r.Get(id)
	if !ok {
		return false
	}
	sess.mu.Lock()
	sess.identity = identity
	sess.mu.Unlock()
	return true
}

// MarkOnline flags the session as the live one for its identity. It only
// receives broadcasts once Activate has run.
func (r *Registry) MarkOnline(id string) bool {
	sess, ok := r.Get(id)
	if !ok {
		return false
	}
	sess.mu.Lock()
	sess.online = true
	sess.mu.Unlock()
	return true
}

// Activate moves an online session to StateActive after its welcome went out.
func (r *Registry) Activate(id string) bool {
	sess, ok := r.Get(id)
	if !ok || !sess.Online() {
		return false
	}
	return sess.SetState(StateActive)
}

// MarkOffline flags the session offline and drops its channel handle.
func (r *Registry) MarkOffline(id string) bool {
	r.conns.Delete(id)
	sess, ok := r.Get(id)
	if !ok {
		return false
	}
	sess.mu.Lock()
	sess.online = false
	sess.mu.Unlock()
	return true
}

// Remove forgets the session and returns its last record.
func (r *Registry) Remove(id string) (*Session, bool) {
	r.conns.Delete(id)
	v, ok := r.sessions.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// LookupByIdentity returns every session claiming identity, online or not.
func (r *Registry) LookupByIdentity(identity string) []*Session {
	if identity == "" {
		return nil
	}
	var out []*Session
	r.sessions.Range(func(_, value any) bool {
		sess := value.(*Session)
		if sess.Identity() == identity {
			out = append(out, sess)
		}
		return true
	})
	sortSessions(out)
	return out
}

// CountOnline counts sessions currently flagged online.
func (r *Registry) CountOnline() int {
	n := 0
	r.sessions.Range(func(_, value any) bool {
		if value.(*Session).Online() {
			n++
		}
		return true
	})
	return n
}

// Online lists ready sessions ordered by connect time.
func (r *Registry) Online() []*Session {
	var out []*Session
	r.sessions.Range(func(_, value any) bool {
		sess := value.(*Session)
		if sess.Ready() {
			out = append(out, sess)
		}
		return true
	})
	sortSessions(out)
	return out
}

// Snapshot copies every known session.
func (r *Registry) Snapshot() []Snapshot {
	var all []*Session
	r.sessions.Range(func(_, value any) bool {
		all = append(all, value.(*Session))
		return true
	})
	sortSessions(all)
	out := make([]Snapshot, len(all))
	for i, sess := range all {
		out[i] = sess.Snapshot()
	}
	return out
}

// LockIdentity serialises the evict-then-go-online step for one identity.
// The returned func releases the lock.
func (r *Registry) LockIdentity(identity string) func() {
	v, _ := r.locks.LoadOrStore(identity, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func sortSessions(list []*Session) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].connectedAt.Equal(list[j].connectedAt) {
			return list[i].connectedAt.Before(list[j].connectedAt)
		}
		return list[i].id < list[j].id
	})
}
