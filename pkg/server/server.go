// Package server implements the ferry protocol listener: a TLS-secured
// TCP server that runs one goroutine per client connection, each handling
// commands strictly sequentially.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ferryfs/ferry/internal/logger"
	"github.com/ferryfs/ferry/pkg/auth"
	"github.com/ferryfs/ferry/pkg/metadata/store"
	"github.com/ferryfs/ferry/pkg/metrics"
	"github.com/ferryfs/ferry/pkg/protocol"
	"github.com/ferryfs/ferry/pkg/storage"
)

// Config holds the listener configuration.
type Config struct {
	// BindAddress is the IP address to bind to.
	// Empty string or "0.0.0.0" binds to all interfaces.
	BindAddress string

	// Port is the TCP port to listen on.
	Port int

	// MaxConnections limits the number of concurrent client connections.
	// 0 means unlimited.
	MaxConnections int

	// IdleTimeout closes a connection that sends no command within the
	// window. Also bounds each blocking read during a transfer.
	IdleTimeout time.Duration

	// BufferSize is the chunk size for payload streaming.
	BufferSize int

	// Separator is the control-message field separator token.
	Separator string

	// ShutdownTimeout is the maximum duration to wait for active
	// connections to complete during graceful shutdown.
	ShutdownTimeout time.Duration

	// TLS is the listener TLS configuration. Required.
	TLS *tls.Config
}

// Server accepts TLS connections and serves the ferry command protocol.
//
// Thread safety: all exported methods are safe for concurrent use. The
// shutdown mechanism uses sync.Once so Stop is idempotent.
type Server struct {
	config Config
	codec  protocol.Codec

	auth    *auth.Handler
	store   store.Store
	layout  *storage.Layout
	metrics metrics.ServerMetrics

	// listener is closed during shutdown to stop accepting connections.
	listener   net.Listener
	listenerMu sync.RWMutex

	// activeConns tracks connection goroutines for graceful shutdown.
	activeConns sync.WaitGroup

	shutdownOnce sync.Once

	// shutdown is closed by initiateShutdown and monitored by the
	// accept loop.
	shutdown chan struct{}

	connCount atomic.Int32

	// connSemaphore limits concurrent connections when MaxConnections > 0.
	connSemaphore chan struct{}

	// shutdownCtx is cancelled during shutdown so in-flight commands can
	// abort; it is the context passed to every connection handler.
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// trackedConns maps remote address to net.Conn for forced closure.
	trackedConns sync.Map

	// ListenerReady is closed once the listener accepts connections.
	// Tests use it to synchronize with startup.
	ListenerReady chan struct{}
}

// New creates a Server. The metrics recorder may be nil.
func New(config Config, authHandler *auth.Handler, st store.Store, layout *storage.Layout, m metrics.ServerMetrics) *Server {
	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 4096
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &Server{
		config:         config,
		codec:          protocol.NewCodec(config.Separator),
		auth:           authHandler,
		store:          st,
		layout:         layout,
		metrics:        m,
		shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
		ListenerReady:  make(chan struct{}),
	}
}

// Serve listens for TLS connections and handles them until ctx is
// cancelled or Stop is called. Returns nil on graceful shutdown.
func (s *Server) Serve(ctx context.Context) error {
	if s.config.TLS == nil {
		return fmt.Errorf("TLS configuration is required")
	}

	listenAddr := fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.Port)
	tcpListener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to create listener on %s: %w", listenAddr, err)
	}
	listener := tls.NewListener(tcpListener, s.config.TLS)

	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()
	close(s.ListenerReady)

	logger.Info("ferry server listening", "address", listener.Addr().String())

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received", "error", ctx.Err())
		s.initiateShutdown()
	}()

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}
			select {
			case <-s.shutdown:
				// Expected error during shutdown; listener was closed.
				return s.gracefulShutdown()
			default:
				logger.Debug("Error accepting connection", "error", err)
				continue
			}
		}

		s.activeConns.Add(1)
		s.connCount.Add(1)

		connAddr := tcpConn.RemoteAddr().String()
		s.trackedConns.Store(connAddr, tcpConn)

		currentConns := s.connCount.Load()
		if s.metrics != nil {
			s.metrics.RecordConnectionAccepted()
			s.metrics.SetActiveConnections(currentConns)
		}
		logger.Debug("Connection accepted", "address", connAddr, "active", currentConns)

		conn := newConnection(s, tcpConn)

		go func(addr string) {
			defer func() {
				s.trackedConns.Delete(addr)
				s.activeConns.Done()
				s.connCount.Add(-1)
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}
				if s.metrics != nil {
					s.metrics.RecordConnectionClosed()
					s.metrics.SetActiveConnections(s.connCount.Load())
				}
				logger.Debug("Connection closed", "address", addr, "active", s.connCount.Load())
			}()

			conn.Serve(s.shutdownCtx)
		}(connAddr)
	}
}

// initiateShutdown signals the accept loop first, then interrupts
// blocking reads and cancels in-flight command contexts. Safe to call
// multiple times.
func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("Shutdown initiated")

		close(s.shutdown)

		s.listenerMu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing listener", "error", err)
			}
		}
		s.listenerMu.Unlock()

		s.interruptBlockingReads()
		s.cancelRequests()
	})
}

// interruptBlockingReads sets a short deadline on every active connection
// so reads blocked on idle clients return promptly during shutdown.
func (s *Server) interruptBlockingReads() {
	deadline := time.Now().Add(100 * time.Millisecond)
	s.trackedConns.Range(func(key, value any) bool {
		if conn, ok := value.(net.Conn); ok {
			if err := conn.SetReadDeadline(deadline); err != nil {
				logger.Debug("Error setting shutdown deadline", "address", key, "error", err)
			}
		}
		return true
	})
}

// gracefulShutdown waits for active connections to drain or force-closes
// them after the configured timeout.
func (s *Server) gracefulShutdown() error {
	activeCount := s.connCount.Load()
	logger.Info("Graceful shutdown: waiting for active connections",
		"active", activeCount, "timeout", s.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Graceful shutdown complete: all connections closed")
		return nil

	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("Shutdown timeout exceeded, forcing closure",
			"active", remaining, "timeout", s.config.ShutdownTimeout)
		s.forceCloseConnections()
		return fmt.Errorf("shutdown timeout: %d connections force-closed", remaining)
	}
}

func (s *Server) forceCloseConnections() {
	closed := 0
	s.trackedConns.Range(func(key, value any) bool {
		conn := value.(net.Conn)
		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection", "address", key, "error", err)
		} else {
			closed++
		}
		return true
	})
	if closed > 0 {
		logger.Info("Force-closed connections", "count", closed)
	}
}

// Stop initiates graceful shutdown and waits for active connections up to
// ShutdownTimeout. Safe to call concurrently with Serve.
func (s *Server) Stop() error {
	s.initiateShutdown()
	return s.gracefulShutdown()
}

// ActiveConnections returns the current number of active connections.
func (s *Server) ActiveConnections() int32 {
	return s.connCount.Load()
}

// Addr returns the address the server is listening on. Blocks until the
// listener is ready, making it safe for tests racing against Serve.
func (s *Server) Addr() string {
	<-s.ListenerReady

	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
