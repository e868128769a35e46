package realtime

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/coder/websocket"
)

// Registry is the process-wide directory of connected users.
//
// At most one Connection is held per user. Registering a second connection
// for the same user replaces the first and closes it.
type Registry struct {
	log     *slog.Logger
	metrics *Metrics

	mu    sync.RWMutex
	conns map[UserID]*Connection
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger, metrics *Metrics) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:     log,
		metrics: metrics,
		conns:   make(map[UserID]*Connection),
	}
}

// Register adds conn and returns the connection it replaced, if any.
// The replaced connection stops accepting writes immediately; its transport is
// closed in the background.
func (r *Registry) Register(conn *Connection) *Connection {
	if conn == nil {
		return nil
	}

	r.mu.Lock()
	prev := r.conns[conn.UserID]
	r.conns[conn.UserID] = conn
	r.metrics.setConnections(len(r.conns))
	r.mu.Unlock()

	if prev == nil || prev == conn {
		r.log.Info("registry.register", "user_id", conn.UserID, "session_id", conn.SessionID)
		return nil
	}

	prev.closeAsync(websocket.StatusPolicyViolation, "replaced by new session")
	r.metrics.replacedInc()
	r.log.Info("registry.replace",
		"user_id", conn.UserID,
		"session_id", conn.SessionID,
		"replaced_session_id", prev.SessionID,
	)
	return prev
}

// Deregister removes the entry for userID. Absent users are ignored.
func (r *Registry) Deregister(userID UserID) {
	r.mu.Lock()
	_, ok := r.conns[userID]
	delete(r.conns, userID)
	if ok {
		r.metrics.setConnections(len(r.conns))
	}
	r.mu.Unlock()

	if ok {
		r.log.Info("registry.deregister", "user_id", userID)
	}
}

// Release removes conn only if it is still the registered connection for its user.
func (r *Registry) Release(conn *Connection) bool {
	if conn == nil {
		return false
	}

	r.mu.Lock()
	cur, ok := r.conns[conn.UserID]
	released := ok && cur == conn
	if released {
		delete(r.conns, conn.UserID)
		r.metrics.setConnections(len(r.conns))
	}
	r.mu.Unlock()

	if !released {
		return false
	}
	r.log.Info("registry.release", "user_id", conn.UserID, "session_id", conn.SessionID)
	return true
}

// Lookup returns the live connection for userID.
func (r *Registry) Lookup(userID UserID) (*Connection, bool) {
	r.mu.RLock()
	c, ok := r.conns[userID]
	r.mu.RUnlock()
	return c, ok
}

// Online reports whether userID has a registered connection.
func (r *Registry) Online(userID UserID) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Snapshot returns the registered user ids in ascending order.
func (r *Registry) Snapshot() []UserID {
	r.mu.RLock()
	out := make([]UserID, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	r.mu.RUnlock()

	slices.Sort(out)
	return out
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
