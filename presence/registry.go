// Package presence owns the live user -> connection table. All mutation
// goes through the Registry; no other component touches the map.
package presence

import (
	"sort"
	"sync"
)

// Conn is the write side of a live realtime connection. Writes are
// fire-and-forget from the registry's point of view.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Registry maps a user identity to its single active connection.
// Last connection wins: a second login evicts (and closes) the first.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Register installs conn for userID, replacing any prior mapping. The
// evicted connection, if any, is closed and returned.
func (r *Registry) Register(userID string, conn Conn) Conn {
	r.mu.Lock()
	old := r.conns[userID]
	r.conns[userID] = conn
	r.mu.Unlock()

	if old != nil && old != conn {
		_ = old.Close()
		return old
	}
	return nil
}

// Lookup returns the live connection for userID, if any.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return c, ok
}

// Unregister removes the mapping only when it still points at conn, so a
// stale disconnect cannot evict a newer connection.
func (r *Registry) Unregister(userID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[userID]; ok && cur == conn {
		delete(r.conns, userID)
		return true
	}
	return false
}

// Online returns a sorted snapshot of user ids with live connections.
func (r *Registry) Online() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Snapshot returns a copy of the full table, for broadcasting outside
// the lock.
func (r *Registry) Snapshot() map[string]Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Conn, len(r.conns))
	for id, c := range r.conns {
		out[id] = c
	}
	return out
}
