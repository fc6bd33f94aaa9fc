package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndValidate(t *testing.T) {
	s := NewStore()

	token := s.Create("alice", "user", "uid-1")
	require.NotEmpty(t, token)

	data, ok := s.Validate(token)
	require.True(t, ok)
	assert.Equal(t, "alice", data.Username)
	assert.Equal(t, "user", data.Role)
	assert.Equal(t, "uid-1", data.UserID)
}

func TestValidateUnknownToken(t *testing.T) {
	s := NewStore()

	_, ok := s.Validate("no-such-token")
	assert.False(t, ok)

	_, ok = s.Validate("")
	assert.False(t, ok)
}

func TestTokensAreUnique(t *testing.T) {
	s := NewStore()

	seen := make(map[string]bool)
	for range 100 {
		token := s.Create("alice", "user", "uid-1")
		assert.False(t, seen[token])
		seen[token] = true
	}
}

func TestDestroy(t *testing.T) {
	s := NewStore()

	token := s.Create("alice", "user", "uid-1")
	assert.True(t, s.Destroy(token))

	_, ok := s.Validate(token)
	assert.False(t, ok)

	// Destroying again reports absence, not an error.
	assert.False(t, s.Destroy(token))
}

func TestDestroyUser(t *testing.T) {
	s := NewStore()

	aliceToken := s.Create("alice", "user", "uid-1")
	bobToken := s.Create("bob", "user", "uid-2")

	s.DestroyUser("uid-1")

	_, ok := s.Validate(aliceToken)
	assert.False(t, ok)

	// Other users are untouched.
	_, ok = s.Validate(bobToken)
	assert.True(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestConcurrentAccess(t *testing.T) {
	s := NewStore()

	done := make(chan struct{})
	for range 8 {
		go func() {
			defer func() { done <- struct{}{} }()
			for range 50 {
				token := s.Create("alice", "user", "uid-1")
				s.Validate(token)
				s.Destroy(token)
			}
		}()
	}
	for range 8 {
		<-done
	}
}
