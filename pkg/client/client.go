// Package client is the ferry client library: one persistent TLS
// connection per Client, typed methods per protocol operation, and
// upload/download handshakes that mirror the server exactly.
//
// A Client is not safe for concurrent use; the protocol is strictly
// request/response on a single connection, and the internal mutex only
// guards against accidental interleaving, not ordering.
package client

import (
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ferryfs/ferry/pkg/protocol"
)

// Config configures a Client.
type Config struct {
	// Address is the server host:port.
	Address string

	// Separator overrides the control-message separator. Empty selects
	// the protocol default; it must match the server's setting.
	Separator string

	// TLS is the client TLS configuration. nil uses the system trust
	// store; set InsecureSkipVerify or pin a certificate as needed.
	TLS *tls.Config

	// BufferSize is the chunk size for payload streaming. 0 selects 4096.
	BufferSize int

	// Timeout bounds the dial and each blocking socket operation.
	// 0 means no timeout.
	Timeout time.Duration
}

// Session describes the authenticated identity after Login.
type Session struct {
	ID       string
	Username string
	Role     string
	UserID   string
}

// Entry is one id/name pair from a list response.
type Entry struct {
	ID   string
	Name string
}

// Client is a persistent connection to a ferry server.
type Client struct {
	mu    sync.Mutex
	conn  net.Conn
	codec protocol.Codec
	cfg   Config

	session Session
}

// Dial connects to the server over TLS.
func Dial(cfg Config) (*Client, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}

	dialer := &net.Dialer{Timeout: cfg.Timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", cfg.Address, cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Address, err)
	}

	return &Client{
		conn:  conn,
		codec: protocol.NewCodec(cfg.Separator),
		cfg:   cfg,
	}, nil
}

// Close sends QUIT (logging out server-side when a session is bound) and
// closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	_ = c.send(protocol.KwQuit)
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Session returns the current session identity. The ID is empty when not
// logged in.
func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// IsAdmin reports whether the logged-in user holds the admin role.
func (c *Client) IsAdmin() bool {
	return c.Session().Role == "admin"
}

// Register creates a new account. It does not log in.
func (c *Client) Register(username, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fields, err := c.roundTrip(protocol.KwRegister, username, password)
	if err != nil {
		return err
	}
	switch fields[0] {
	case protocol.RespRegisterSuccess:
		return nil
	case protocol.RespRegisterFailed:
		return fmt.Errorf("%w: %s", ErrRegisterFailed, detail(fields))
	default:
		return unexpected(fields)
	}
}

// Login authenticates and binds the returned session to this client.
func (c *Client) Login(username, password string) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fields, err := c.roundTrip(protocol.KwLogin, username, password)
	if err != nil {
		return Session{}, err
	}
	switch fields[0] {
	case protocol.RespLoginSuccess:
		if len(fields) < 5 {
			return Session{}, unexpected(fields)
		}
		c.session = Session{ID: fields[1], Username: fields[2], Role: fields[3], UserID: fields[4]}
		return c.session, nil
	case protocol.RespLoginFailed:
		return Session{}, ErrLoginFailed
	default:
		return Session{}, unexpected(fields)
	}
}

// Logout destroys the bound session. The local session state is cleared
// even when the server reports the token as already invalid.
func (c *Client) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.ID == "" {
		return ErrNotAuthenticated
	}

	fields, err := c.roundTrip(protocol.KwLogout, c.session.ID)
	c.session = Session{}
	if err != nil {
		return err
	}
	switch fields[0] {
	case protocol.RespLogoutSuccess:
		return nil
	case protocol.RespInvalidSession:
		return ErrInvalidSession
	default:
		return unexpected(fields)
	}
}

// Ping checks connection liveness.
func (c *Client) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fields, err := c.roundTrip(protocol.KwPing)
	if err != nil {
		return err
	}
	if fields[0] != protocol.RespPong {
		return unexpected(fields)
	}
	return nil
}

// List returns the id/name entries visible to the caller in a tier.
func (c *Client) List(tier protocol.Tier) ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.ID == "" {
		return nil, ErrNotAuthenticated
	}

	fields, err := c.roundTrip(listKeyword(tier), c.session.ID)
	if err != nil {
		return nil, err
	}
	switch fields[0] {
	case protocol.RespListEmpty:
		return nil, nil
	case protocol.RespListSuccess:
		if len(fields) < 2 {
			return nil, unexpected(fields)
		}
		return parseEntries(fields[1]), nil
	case protocol.RespInvalidSession:
		return nil, ErrInvalidSession
	default:
		return nil, unexpected(fields)
	}
}

// MakePublic promotes a caller-owned file to the public tier.
func (c *Client) MakePublic(identifier string) error {
	return c.visibilityOp(protocol.KwMakePublicUser, protocol.RespMakePublicSuccess, identifier)
}

// AdminMakePublic promotes any owner's file to the public tier.
// Requires the admin role.
func (c *Client) AdminMakePublic(identifier string) error {
	return c.visibilityOp(protocol.KwMakePublicAdmin, protocol.RespAdminPublicSuccess, identifier)
}

// MakeShared moves a caller-owned file into the shared tier for recipient.
func (c *Client) MakeShared(identifier, recipient string) error {
	return c.visibilityOp(protocol.KwMakeSharedUser, protocol.RespMakeSharedSuccess, identifier, recipient)
}

// Delete removes a caller-owned file.
func (c *Client) Delete(identifier string) error {
	return c.visibilityOp(protocol.KwDelete, protocol.RespDeleteSuccess, identifier)
}

// AdminDelete removes a public file. Requires the admin role.
func (c *Client) AdminDelete(identifier string) error {
	return c.visibilityOp(protocol.KwAdminDeleteFile, protocol.RespDeleteSuccess, identifier)
}

func (c *Client) visibilityOp(keyword, successResp string, args ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.ID == "" {
		return ErrNotAuthenticated
	}

	fields, err := c.roundTrip(keyword, append([]string{c.session.ID}, args...)...)
	if err != nil {
		return err
	}
	switch fields[0] {
	case successResp:
		return nil
	case protocol.RespFileNotFound:
		return ErrFileNotFound
	case protocol.RespPermissionDenied:
		return ErrPermissionDenied
	case protocol.RespInvalidSession:
		return ErrInvalidSession
	case protocol.RespError:
		return fmt.Errorf("%w: %s", ErrProtocol, detail(fields))
	default:
		return unexpected(fields)
	}
}

// send writes one control message without waiting for a response.
func (c *Client) send(keyword string, args ...string) error {
	c.applyDeadline()
	return protocol.WriteMessage(c.conn, c.codec.Join(append([]string{keyword}, args...)...))
}

// recv reads one control message and splits it into fields.
func (c *Client) recv() ([]string, error) {
	c.applyDeadline()
	message, err := protocol.ReadMessage(c.conn)
	if err != nil {
		return nil, err
	}
	return c.codec.Split(message), nil
}

// roundTrip sends a command and reads the response. The session check
// for AUTH_REQUIRED is mapped here since any command may be answered
// with it.
func (c *Client) roundTrip(keyword string, args ...string) ([]string, error) {
	if err := c.send(keyword, args...); err != nil {
		return nil, err
	}
	fields, err := c.recv()
	if err != nil {
		return nil, err
	}
	if fields[0] == protocol.RespAuthRequired {
		return nil, ErrNotAuthenticated
	}
	return fields, nil
}

func (c *Client) applyDeadline() {
	if c.cfg.Timeout <= 0 {
		return
	}
	_ = c.conn.SetDeadline(time.Now().Add(c.cfg.Timeout))
}

func listKeyword(tier protocol.Tier) string {
	switch tier {
	case protocol.TierPublic:
		return protocol.KwListPublic
	case protocol.TierShared:
		return protocol.KwListShared
	default:
		return protocol.KwListPrivate
	}
}

func parseEntries(payload string) []Entry {
	parts := strings.Split(payload, protocol.ListJoiner)
	entries := make([]Entry, 0, len(parts))
	for _, p := range parts {
		id, name, ok := strings.Cut(p, ":")
		if !ok {
			continue
		}
		entries = append(entries, Entry{ID: id, Name: name})
	}
	return entries
}

func detail(fields []string) string {
	if len(fields) > 1 {
		return strings.Join(fields[1:], " ")
	}
	return fields[0]
}

func unexpected(fields []string) error {
	return fmt.Errorf("%w: %s", ErrProtocol, strings.Join(fields, " "))
}
