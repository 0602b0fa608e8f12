package session

import (
	"crypto/subtle"
	"fmt"
	"sort"
	"sync"

	"github.com/muurk/rotlink/internal/logging"
	"go.uber.org/zap"
)

// CredentialStore resolves a username to its password.
type CredentialStore interface {
	Lookup(username string) (password string, ok bool)
}

// StaticCredentials is an in-memory CredentialStore.
type StaticCredentials map[string]string

func (c StaticCredentials) Lookup(username string) (string, bool) {
	p, ok := c[username]
	return p, ok
}

// Peer is the part of a session the registry needs.
type Peer interface {
	ID() string
	SendMessage(text string) error
	Terminate(reason string) error
}

// Registry maps usernames to their single live session.
type Registry struct {
	mu       sync.Mutex
	creds    CredentialStore
	sessions map[string]Peer
}

// NewRegistry creates an empty registry that checks logins against creds.
func NewRegistry(creds CredentialStore) *Registry {
	if creds == nil {
		creds = StaticCredentials{}
	}
	return &Registry{
		creds:    creds,
		sessions: make(map[string]Peer),
	}
}

// Authenticate checks the credentials and that username has no live session,
// and registers p, all under one lock. Two concurrent logins for the same
// username can therefore never both succeed.
func (r *Registry) Authenticate(username, password string, p Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	want, ok := r.creds.Lookup(username)
	if !ok || subtle.ConstantTimeCompare([]byte(want), []byte(password)) != 1 {
		return ErrBadCredentials
	}
	if existing, taken := r.sessions[username]; taken {
		return fmt.Errorf("%w: held by session %s", ErrDuplicateLogin, existing.ID())
	}

	r.sessions[username] = p
	return nil
}

// Remove deletes username if it is held by p. Removing an absent entry, or
// one held by another session, is a no-op.
func (r *Registry) Remove(username string, p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[username]; ok && cur == p {
		delete(r.sessions, username)
		return true
	}
	return false
}

// Lookup returns the live session for username.
func (r *Registry) Lookup(username string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.sessions[username]
	return p, ok
}

// Usernames returns the logged-in usernames, sorted.
func (r *Registry) Usernames() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	r.mu.Unlock()

	sort.Strings(names)
	return names
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) snapshot() map[string]Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Peer, len(r.sessions))
	for k, v := range r.sessions {
		out[k] = v
	}
	return out
}

// Broadcast sends a MESSAGE to every live session and returns how many
// sends succeeded. Sends happen outside the registry lock.
func (r *Registry) Broadcast(text string) int {
	sent := 0
	for name, p := range r.snapshot() {
		if err := p.SendMessage(text); err != nil {
			logging.Warn("Broadcast to session failed",
				zap.String("username", name),
				zap.String("session_id", p.ID()),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}

// Clear terminates every live session with reason and empties the table.
// The server calls it on shutdown.
func (r *Registry) Clear(reason string) {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]Peer)
	r.mu.Unlock()

	for _, p := range sessions {
		_ = p.Terminate(reason)
	}
}
