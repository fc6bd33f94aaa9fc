// Package auth implements account registration and the session lifecycle:
// login issues tokens through the session store, logout revokes them, and
// passwords are verified against bcrypt hashes from the metadata store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ferryfs/ferry/internal/logger"
	"github.com/ferryfs/ferry/pkg/metadata/models"
	"github.com/ferryfs/ferry/pkg/metadata/store"
	"github.com/ferryfs/ferry/pkg/session"
)

var (
	// ErrEmptyCredentials is returned when username or password is empty.
	ErrEmptyCredentials = errors.New("username and password must not be empty")

	// ErrInvalidSession is returned by Logout when the token is unknown,
	// already revoked, or lost to a restart. Callers should clear their
	// local session state regardless.
	ErrInvalidSession = errors.New("invalid session")
)

// LoginResult carries everything the client needs after a successful login.
type LoginResult struct {
	SessionID string
	Username  string
	Role      string
	UserID    string
}

// Handler performs registration, login, and logout against the metadata
// store and the in-memory session store.
type Handler struct {
	store    store.Store
	sessions *session.Store
	hasher   CredentialHasher
}

// NewHandler creates an auth handler. A nil hasher selects BcryptHasher.
func NewHandler(st store.Store, sessions *session.Store, hasher CredentialHasher) *Handler {
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	return &Handler{store: st, sessions: sessions, hasher: hasher}
}

// Sessions exposes the session store for token validation by the
// connection handler.
func (h *Handler) Sessions() *session.Store {
	return h.sessions
}

// Register creates a new account with the regular user role.
func (h *Handler) Register(ctx context.Context, username, password string) error {
	return h.register(ctx, username, password, models.RoleUser)
}

// RegisterAdmin creates an account with the admin role. It is reachable
// only from the server CLI, never from the wire protocol.
func (h *Handler) RegisterAdmin(ctx context.Context, username, password string) error {
	return h.register(ctx, username, password, models.RoleAdmin)
}

func (h *Handler) register(ctx context.Context, username, password string, role models.UserRole) error {
	if username == "" || password == "" {
		return ErrEmptyCredentials
	}

	hash, err := h.hasher.Hash(password)
	if err != nil {
		return err
	}

	user := &models.User{
		Username:     username,
		PasswordHash: hash,
		Role:         string(role),
	}
	if _, err := h.store.CreateUser(ctx, user); err != nil {
		return err
	}

	logger.Info("User registered", "user", username, "role", role)
	return nil
}

// Login verifies the password and opens a new session, transparently
// invalidating any previous session held by the same user.
func (h *Handler) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if username == "" || password == "" {
		return nil, models.ErrInvalidCredentials
	}

	user, err := h.store.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, models.ErrInvalidCredentials
		}
		return nil, err
	}

	if !h.hasher.Verify(password, user.PasswordHash) {
		logger.Warn("Login failed", "user", username)
		return nil, models.ErrInvalidCredentials
	}

	// One live session per user: drop the previous token before minting
	// a new one.
	h.sessions.DestroyUser(user.ID)

	token := h.sessions.Create(user.Username, user.Role, user.ID)
	if err := h.store.UpdateUserSession(ctx, user.ID, &token); err != nil {
		h.sessions.Destroy(token)
		return nil, fmt.Errorf("persist session: %w", err)
	}
	if err := h.store.UpdateLastLogin(ctx, user.ID, time.Now()); err != nil {
		logger.Warn("Failed to record last login", "user", username, "error", err)
	}

	logger.Info("User logged in", "user", username, "role", user.Role)
	return &LoginResult{
		SessionID: token,
		Username:  user.Username,
		Role:      user.Role,
		UserID:    user.ID,
	}, nil
}

// Logout destroys the session and clears the persisted token. Destroying
// an absent session returns ErrInvalidSession but leaves no error state:
// the operation is idempotent from the client's perspective.
func (h *Handler) Logout(ctx context.Context, sessionID string) error {
	data, ok := h.sessions.Validate(sessionID)
	if !h.sessions.Destroy(sessionID) {
		return ErrInvalidSession
	}
	if ok {
		if err := h.store.UpdateUserSession(ctx, data.UserID, nil); err != nil {
			logger.Warn("Failed to clear persisted session", "user", data.Username, "error", err)
		}
		logger.Info("User logged out", "user", data.Username)
	}
	return nil
}
