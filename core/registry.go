package core

import (
	"sort"

	"pkt.systems/sessiondeck/schema"
)

// Session is a registry entry for a backend session.
type Session struct {
	ID        schema.SessionID
	ServerID  schema.ServerID
	Connected bool
}

// Snapshot returns a transport-friendly view of the session.
func (s Session) Snapshot() schema.SessionSnapshot {
	return schema.SessionSnapshot{ID: s.ID, ServerID: s.ServerID, Connected: s.Connected}
}

// Registry maps session ids to backend metadata. It is not safe for concurrent
// use; the deck serializes access.
type Registry struct {
	sessions map[schema.SessionID]Session
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[schema.SessionID]Session)}
}

// Put inserts or replaces the entry keyed by the session id.
func (r *Registry) Put(session Session) error {
	if session.ID == "" {
		return schema.ErrInvalidRequest
	}
	r.sessions[session.ID] = session
	return nil
}

// Remove deletes an entry. Removing an unknown id is a no-op.
func (r *Registry) Remove(id schema.SessionID) {
	delete(r.sessions, id)
}

// Get returns the entry for id. A miss is a normal condition.
func (r *Registry) Get(id schema.SessionID) (Session, bool) {
	session, ok := r.sessions[id]
	return session, ok
}

// MarkDisconnected clears the connected flag and reports whether it changed.
func (r *Registry) MarkDisconnected(id schema.SessionID) bool {
	session, ok := r.sessions[id]
	if !ok || !session.Connected {
		return false
	}
	session.Connected = false
	r.sessions[id] = session
	return true
}

// List returns all entries ordered by session id.
func (r *Registry) List() []Session {
	out := make([]Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(r.sessions)
}
