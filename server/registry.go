package server

import (
	"errors"
	"log/slog"
	"sync"

	"mess/protocol"
)

// Presence statuses a logged-in user may hold. StatusOffline is a
// broadcast marker only, never stored in the registry.
const (
	StatusOnline  = "ONLINE"
	StatusBusy    = "BUSY"
	StatusOffline = "OFFLINE"
)

var (
	ErrNoSuchStatus  = errors.New("no such status")
	ErrNotRegistered = errors.New("user not registered")
)

func validStatus(status string) bool {
	return status == StatusOnline || status == StatusBusy
}

// Registry maps logged-in usernames to their sessions. It is the single
// source of truth for who is online, and every mutation fans a CHG
// notification out to the user's online friends.
type Registry struct {
	store Store

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(store Store) *Registry {
	return &Registry{
		store:    store,
		sessions: make(map[string]*Session),
	}
}

// SetIfAbsent atomically reserves name for session and announces the
// user's status to online friends. It reports false when another
// session already holds the name; the check and the registration happen
// under one lock so two concurrent logins can never both pass.
func (r *Registry) SetIfAbsent(name string, session *Session) bool {
	r.mu.Lock()
	if _, ok := r.sessions[name]; ok {
		r.mu.Unlock()
		return false
	}
	r.sessions[name] = session
	r.mu.Unlock()

	onlineUsers.Set(float64(r.Count()))
	r.broadcastStatus(name, session.Status())
	return true
}

// SetStatus moves a logged-in user to a new presence status and
// announces the change.
func (r *Registry) SetStatus(name, status string) error {
	if !validStatus(status) {
		return ErrNoSuchStatus
	}

	session, ok := r.Get(name)
	if !ok {
		return ErrNotRegistered
	}
	session.setStatus(status)

	r.broadcastStatus(name, status)
	return nil
}

// Remove drops the user from the registry and announces OFFLINE. The
// entry is deleted only while it still maps to the removing session, so
// a stale connection's teardown can never deregister a live one.
func (r *Registry) Remove(name string, session *Session) {
	r.mu.Lock()
	current, ok := r.sessions[name]
	if ok && current == session {
		delete(r.sessions, name)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	onlineUsers.Set(float64(r.Count()))
	r.broadcastStatus(name, StatusOffline)
}

func (r *Registry) Get(name string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[name]
	return session, ok
}

func (r *Registry) Contains(name string) bool {
	_, ok := r.Get(name)
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Online returns the names of all logged-in users.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	return names
}

// broadcastStatus sends CHG <name> <status> to every online friend of
// name. Friends who are offline are skipped, non-friends never hear
// about the change.
func (r *Registry) broadcastStatus(name, status string) {
	friends, err := r.store.Friends(name)
	if err != nil {
		slog.Error("failed to load friends for presence broadcast", "user", name, "err", err)
		return
	}

	delivered := 0
	for _, friend := range friends {
		session, ok := r.Get(friend)
		if !ok {
			continue
		}
		session.Send(protocol.NormalMessage{
			Cmd:    protocol.CmdChangeStatus,
			Params: []string{name, status},
		})
		delivered++
	}

	presenceFanout.Observe(float64(delivered))
}
