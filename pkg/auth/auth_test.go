package auth

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferryfs/ferry/pkg/metadata/models"
	"github.com/ferryfs/ferry/pkg/metadata/store"
	"github.com/ferryfs/ferry/pkg/session"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "metadata.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	// The minimum bcrypt cost keeps the work factor out of the test runtime.
	return NewHandler(st, session.NewStore(), BcryptHasher{Cost: 4})
}

func TestRegisterAndLogin(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.Register(ctx, "alice", "secret"))

	result, err := h.Login(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, "alice", result.Username)
	assert.Equal(t, "user", result.Role)
	assert.NotEmpty(t, result.UserID)

	data, ok := h.Sessions().Validate(result.SessionID)
	require.True(t, ok)
	assert.Equal(t, "alice", data.Username)
}

func TestRegisterEmptyCredentials(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.Register(ctx, "", "secret"), ErrEmptyCredentials)
	assert.ErrorIs(t, h.Register(ctx, "alice", ""), ErrEmptyCredentials)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.Register(ctx, "alice", "secret"))
	assert.ErrorIs(t, h.Register(ctx, "alice", "other"), models.ErrDuplicateUser)
}

func TestRegisterAdmin(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.RegisterAdmin(ctx, "root", "toor-secret"))

	result, err := h.Login(ctx, "root", "toor-secret")
	require.NoError(t, err)
	assert.Equal(t, "admin", result.Role)
}

func TestLoginWrongPassword(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.Register(ctx, "alice", "secret"))

	_, err := h.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestLoginUnknownUser(t *testing.T) {
	h := newTestHandler(t)

	// Unknown user and bad password collapse to the same error so the
	// response does not leak which usernames exist.
	_, err := h.Login(context.Background(), "nobody", "secret")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestLoginSupersedesPreviousSession(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.Register(ctx, "alice", "secret"))

	first, err := h.Login(ctx, "alice", "secret")
	require.NoError(t, err)

	second, err := h.Login(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)

	// Only the newest token validates.
	_, ok := h.Sessions().Validate(first.SessionID)
	assert.False(t, ok)
	_, ok = h.Sessions().Validate(second.SessionID)
	assert.True(t, ok)
	assert.Equal(t, 1, h.Sessions().Len())
}

func TestLogout(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.Register(ctx, "alice", "secret"))
	result, err := h.Login(ctx, "alice", "secret")
	require.NoError(t, err)

	require.NoError(t, h.Logout(ctx, result.SessionID))

	_, ok := h.Sessions().Validate(result.SessionID)
	assert.False(t, ok)

	// A second logout of the same token is an invalid session.
	assert.ErrorIs(t, h.Logout(ctx, result.SessionID), ErrInvalidSession)
}

func TestLogoutUnknownToken(t *testing.T) {
	h := newTestHandler(t)

	assert.ErrorIs(t, h.Logout(context.Background(), "never-issued"), ErrInvalidSession)
}

func TestBcryptHasher(t *testing.T) {
	h := BcryptHasher{Cost: 4}

	hash, err := h.Hash("secret")
	require.NoError(t, err)
	assert.NotEqual(t, "secret", hash)

	assert.True(t, h.Verify("secret", hash))
	assert.False(t, h.Verify("wrong", hash))
	assert.False(t, h.Verify("secret", "not-a-hash"))
}
