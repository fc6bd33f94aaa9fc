// Package session implements the in-memory session store. Sessions exist
// only for the lifetime of the process: a server restart invalidates
// every token, by design.
package session

import (
	"sync"

	"github.com/google/uuid"
)

// Data is the identity bound to a live session token.
type Data struct {
	Username string
	Role     string
	UserID   string
}

// Store is a mutex-guarded map of session token to session data. The lock
// is held only for map access, never across I/O, so unrelated connections
// are not serialized.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]Data
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]Data)}
}

// Create generates a new opaque token and binds it to the given identity.
// uuid.New draws from crypto/rand, so tokens are unguessable.
func (s *Store) Create(username, role, userID string) string {
	token := uuid.New().String()
	s.mu.Lock()
	s.sessions[token] = Data{Username: username, Role: role, UserID: userID}
	s.mu.Unlock()
	return token
}

// Validate looks up a token. The second return is false for unknown or
// already-destroyed tokens; callers must then refuse the operation.
func (s *Store) Validate(token string) (Data, bool) {
	s.mu.RLock()
	data, ok := s.sessions[token]
	s.mu.RUnlock()
	return data, ok
}

// Destroy removes a token. It reports false when the token was not
// present, which callers treat as already-logged-out, not as a fault.
func (s *Store) Destroy(token string) bool {
	s.mu.Lock()
	_, ok := s.sessions[token]
	delete(s.sessions, token)
	s.mu.Unlock()
	return ok
}

// DestroyUser removes every token bound to userID. A fresh login calls
// this so the superseded session stops validating immediately.
func (s *Store) DestroyUser(userID string) {
	s.mu.Lock()
	for token, data := range s.sessions {
		if data.UserID == userID {
			delete(s.sessions, token)
		}
	}
	s.mu.Unlock()
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	n := len(s.sessions)
	s.mu.RUnlock()
	return n
}
