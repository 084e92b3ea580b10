package server

import (
	"errors"
	"sync"

	"chatd/models"
)

var ErrAlreadyOnline = errors.New("user is already online")

// registry is the single shared-state map between connection handlers:
// who is online, and what each online user has selected as chat
// context. One mutex domain covers both, so no handler ever sees a
// user online with a context from a previous session.
type registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
	contexts map[string]models.ChatContext
}

func newRegistry() *registry {
	return &registry{
		sessions: make(map[string]*session),
		contexts: make(map[string]models.ChatContext),
	}
}

// tryBind claims the username for sess. At most one live binding per
// username exists at any time; a concurrent second login observes
// ErrAlreadyOnline, never a replacement.
func (r *registry) tryBind(username string, sess *session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[username]; ok {
		return ErrAlreadyOnline
	}
	r.sessions[username] = sess
	return nil
}

// unbind releases the binding and any chat context. Idempotent.
func (r *registry) unbind(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, username)
	delete(r.contexts, username)
}

func (r *registry) lookup(username string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[username]
	return sess, ok
}

func (r *registry) setContext(username string, ctx models.ChatContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts[username] = ctx
}

func (r *registry) context(username string) (models.ChatContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, ok := r.contexts[username]
	return ctx, ok
}

func (r *registry) clearContext(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.contexts, username)
}

// onlineSet snapshots the online usernames. The snapshot may be stale
// by the time it is rendered; delivery code re-checks with lookup.
func (r *registry) onlineSet() map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	online := make(map[string]struct{}, len(r.sessions))
	for username := range r.sessions {
		online[username] = struct{}{}
	}
	return online
}

func (r *registry) allSessions() []*session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
