// Package session tracks which connection currently holds the recorder role
// and which holds the moderator role. The booth pairs exactly one of each.
package session

import "sync"

// Role is a participant role in the pairing.
type Role string

const (
	RoleRecorder  Role = "recorder"
	RoleModerator Role = "moderator"
)

// Valid reports whether r is a role the registry accepts.
func (r Role) Valid() bool {
	return r == RoleRecorder || r == RoleModerator
}

// Registry owns the two connection-identity fields; nothing else mutates
// them. Last register wins: a new device silently replaces the old holder.
type Registry struct {
	mu        sync.RWMutex
	recorder  string
	moderator string
}

// NewRegistry creates an empty registry (no recorder, no moderator).
func NewRegistry() *Registry {
	return &Registry{}
}

// Register assigns connID to the role, replacing any previous holder.
// It returns the replaced connection id, empty when the role was vacant.
func (r *Registry) Register(role Role, connID string) (replaced string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch role {
	case RoleRecorder:
		replaced = r.recorder
		r.recorder = connID
	case RoleModerator:
		replaced = r.moderator
		r.moderator = connID
	}
	if replaced == connID {
		replaced = ""
	}
	return replaced
}

// Unregister clears whichever roles connID holds. It reports which roles
// were cleared; both false means the id held no role and nothing changed.
func (r *Registry) Unregister(connID string) (wasRecorder, wasModerator bool) {
	if connID == "" {
		return false, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recorder == connID {
		r.recorder = ""
		wasRecorder = true
	}
	if r.moderator == connID {
		r.moderator = ""
		wasModerator = true
	}
	return wasRecorder, wasModerator
}

// Recorder returns the current recorder connection id, if any.
func (r *Registry) Recorder() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recorder, r.recorder != ""
}

// Moderator returns the current moderator connection id, if any.
func (r *Registry) Moderator() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.moderator, r.moderator != ""
}

// RecorderReady reports whether a recorder is currently registered.
func (r *Registry) RecorderReady() bool {
	_, ok := r.Recorder()
	return ok
}
