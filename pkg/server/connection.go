package server

import (
	"context"
	"errors"
	"io"
	"net"
	"runtime/debug"
	"time"

	"github.com/ferryfs/ferry/internal/logger"
	"github.com/ferryfs/ferry/pkg/protocol"
)

// connection serves the command protocol for one accepted client.
//
// Commands are processed strictly sequentially: the handler never reads
// command N+1 before command N's response, including any payload
// streaming that command triggers, has been fully written. This is the
// protocol's ordering guarantee and the reason a long upload blocks that
// client's other requests.
type connection struct {
	server *Server
	conn   net.Conn
	codec  protocol.Codec

	// session is the token bound by this connection's own LOGIN, used to
	// log out on QUIT. Commands still carry their own token; this is
	// connection-local convenience state only.
	session string
}

func newConnection(server *Server, conn net.Conn) *connection {
	return &connection{
		server: server,
		conn:   conn,
		codec:  server.codec,
	}
}

// Serve handles all commands for this connection until the client
// disconnects, the idle timeout fires, or the server shuts down. Panic
// recovery prevents a single misbehaving connection from crashing the
// server.
func (c *connection) Serve(ctx context.Context) {
	defer c.handleClose()

	clientAddr := c.conn.RemoteAddr().String()
	logger.Debug("New connection", "address", clientAddr)

	c.resetIdleDeadline()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Connection closed due to shutdown", "address", clientAddr)
			return
		case <-c.server.shutdown:
			logger.Debug("Connection closed due to server shutdown", "address", clientAddr)
			return
		default:
		}

		message, err := protocol.ReadMessage(c.conn)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				logger.Debug("Connection closed by client", "address", clientAddr)
			case isTimeout(err):
				logger.Debug("Connection idle timeout", "address", clientAddr)
			default:
				logger.Debug("Error reading command", "address", clientAddr, "error", err)
			}
			return
		}

		quit := c.handleMessage(ctx, clientAddr, message)
		if quit {
			return
		}

		c.resetIdleDeadline()
	}
}

// handleMessage parses and dispatches one control message. Returns true
// when the connection should close (QUIT or unrecoverable write error).
func (c *connection) handleMessage(ctx context.Context, clientAddr, message string) bool {
	cmd, err := c.codec.Parse(message)
	if err != nil {
		if errors.Is(err, protocol.ErrMissingSession) {
			return c.write(protocol.RespAuthRequired) != nil
		}
		logger.Debug("Malformed command", "address", clientAddr, "error", err)
		return c.write(protocol.RespError, err.Error()) != nil
	}

	start := time.Now()
	outcome, err := c.dispatch(ctx, cmd)
	if c.server.metrics != nil {
		c.server.metrics.RecordCommand(cmd.Keyword(), outcome, time.Since(start))
	}
	if err != nil {
		logger.Debug("Command failed", "address", clientAddr, "command", cmd.Keyword(), "error", err)
		return true
	}

	_, isQuit := cmd.(protocol.Quit)
	return isQuit
}

// dispatch routes a parsed command to its handler. Session validation
// happens here, before any file operation is reached. The returned
// outcome is the first keyword of the response, for metrics; the error
// return is a connection-level failure (write error), not a protocol
// error.
func (c *connection) dispatch(ctx context.Context, cmd protocol.Command) (string, error) {
	switch v := cmd.(type) {
	case protocol.Register:
		return c.handleRegister(ctx, v)
	case protocol.Login:
		return c.handleLogin(ctx, v)
	case protocol.Logout:
		return c.handleLogout(ctx, v)
	case protocol.Ping:
		return protocol.RespPong, c.write(protocol.RespPong)
	case protocol.Quit:
		return c.handleQuit()
	case protocol.Unknown:
		return protocol.RespUnknownCommand, c.write(protocol.RespUnknownCommand, v.Raw)
	}

	// Everything below is a file operation; the session token must be
	// valid before any dispatch.
	sess, ok := c.server.auth.Sessions().Validate(cmd.SessionID())
	if !ok {
		return protocol.RespInvalidSession, c.write(protocol.RespInvalidSession)
	}

	switch v := cmd.(type) {
	case protocol.Upload:
		return c.handleUpload(ctx, sess, v)
	case protocol.Download:
		return c.handleDownload(ctx, sess, v)
	case protocol.List:
		return c.handleList(ctx, sess, v)
	case protocol.MakePublic:
		return c.handleMakePublic(ctx, sess, v)
	case protocol.MakeShared:
		return c.handleMakeShared(ctx, sess, v)
	case protocol.Delete:
		return c.handleDelete(ctx, sess, v)
	default:
		return protocol.RespUnknownCommand, c.write(protocol.RespUnknownCommand, cmd.Keyword())
	}
}

func (c *connection) handleQuit() (string, error) {
	if c.session != "" {
		// The connection context may already be cancelled by shutdown;
		// clearing the persisted token still needs a live context.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.server.auth.Logout(cleanupCtx, c.session); err != nil {
			logger.Debug("Logout on quit failed", "error", err)
		}
		c.session = ""
	}
	// No response; the client closes after sending QUIT.
	return "quit", nil
}

// write sends one control message assembled from fields.
func (c *connection) write(fields ...string) error {
	return protocol.WriteMessage(c.conn, c.codec.Join(fields...))
}

// resetIdleDeadline pushes the connection deadline forward. Called before
// every blocking read, including chunk reads during a transfer, so a
// stalled peer cannot hold the connection open indefinitely.
func (c *connection) resetIdleDeadline() {
	if c.server.config.IdleTimeout <= 0 {
		return
	}
	if err := c.conn.SetDeadline(time.Now().Add(c.server.config.IdleTimeout)); err != nil {
		logger.Warn("Failed to set deadline", "address", c.conn.RemoteAddr().String(), "error", err)
	}
}

func (c *connection) handleClose() {
	if r := recover(); r != nil {
		logger.Error("Panic in connection handler",
			"address", c.conn.RemoteAddr().String(),
			"error", r,
			"stack", string(debug.Stack()))
	}
	_ = c.conn.Close()
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
