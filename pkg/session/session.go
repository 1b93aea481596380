// Package session tracks which usernames currently hold a live session.
// A username has at most one active session; sessions never expire and are
// only ended by an explicit XIT.
package session

import (
	"sync"

	"forumdb/pkg/logger"
	"forumdb/pkg/telemetry"
)

// Registry is the process-wide set of logged-in usernames.
type Registry struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]struct{})}
}

// Active reports whether username currently holds a session.
func (r *Registry) Active(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[username]
	return ok
}

// Activate claims a session for username. The check and the claim happen
// under one lock, so of two concurrent logins for the same name exactly one
// wins.
func (r *Registry) Activate(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[username]; ok {
		return false
	}
	r.active[username] = struct{}{}
	telemetry.ActiveSessions.Set(float64(len(r.active)))
	logger.Info("session_started", "user", username)
	return true
}

// Deactivate ends username's session if one exists.
func (r *Registry) Deactivate(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[username]; !ok {
		return
	}
	delete(r.active, username)
	telemetry.ActiveSessions.Set(float64(len(r.active)))
	logger.Info("session_ended", "user", username)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
