package smtp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/busybox42/minimta/internal/store"
	"golang.org/x/sync/errgroup"
)

// Config represents the server configuration.
type Config struct {
	Hostname        string        // name announced in the 220 and 221 replies
	ListenAddr      string        // host:port to listen on
	Single          bool          // serve exactly one connection, then stop
	MaxLineLength   int           // 0 selects DefaultMaxLineLength
	IdleTimeout     time.Duration // 0 disables read deadlines
	ShutdownTimeout time.Duration // how long Close waits for sessions
	StatusAddr      string        // status endpoint address, empty disables it
}

const defaultShutdownTimeout = 30 * time.Second

// Server accepts connections and runs one Session per connection.
type Server struct {
	config    *Config
	store     store.Store
	metrics   *Metrics
	logger    *slog.Logger
	startTime time.Time

	listener   net.Listener
	statusLn   net.Listener
	httpServer *http.Server

	ctx       context.Context
	cancel    context.CancelFunc
	errGroup  *errgroup.Group
	closeOnce sync.Once
	closeErr  error
	closing   atomic.Bool
}

// NewServer creates a server that persists accepted messages to st.
func NewServer(config *Config, st store.Store, logger *slog.Logger) (*Server, error) {
	if config == nil {
		return nil, errors.New("server config is required")
	}
	if st == nil {
		return nil, errors.New("message store is required")
	}
	if config.ListenAddr == "" {
		return nil, errors.New("listen address is required")
	}
	if config.Hostname == "" {
		config.Hostname = "localhost"
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:   config,
		store:    st,
		metrics:  NewMetrics(nil),
		logger:   logger.With("component", "smtp-server"),
		ctx:      ctx,
		cancel:   cancel,
		errGroup: &errgroup.Group{},
	}, nil
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start binds the listener and begins accepting in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}
	s.listener = ln
	s.startTime = time.Now()

	if s.config.StatusAddr != "" {
		if err := s.startStatus(); err != nil {
			_ = ln.Close()
			return err
		}
	}

	s.logger.Info("SMTP server listening",
		"address", ln.Addr().String(),
		"hostname", s.config.Hostname,
		"single", s.config.Single,
		"store", s.store.Type(),
	)

	s.errGroup.Go(s.acceptConnections)
	return nil
}

func (s *Server) startStatus() error {
	ln, err := net.Listen("tcp", s.config.StatusAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on status address %s: %w", s.config.StatusAddr, err)
	}
	s.statusLn = ln
	s.httpServer = &http.Server{
		Handler:           s.StatusRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Status endpoint listening", "address", ln.Addr().String())
	s.errGroup.Go(func() error {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status endpoint failed", "error", err)
			return err
		}
		return nil
	})
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// StatusAddr returns the bound status address, or nil when disabled.
func (s *Server) StatusAddr() net.Addr {
	if s.statusLn == nil {
		return nil
	}
	return s.statusLn.Addr()
}

func (s *Server) listenAddr() string {
	if addr := s.Addr(); addr != nil {
		return addr.String()
	}
	return s.config.ListenAddr
}

// acceptConnections hands every accepted connection to its own goroutine.
// In single mode the one connection is served here and the loop ends.
func (s *Server) acceptConnections() error {
	var backoff time.Duration

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
				s.logger.Debug("Accept loop stopped")
				return nil
			}

			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(backoff*2, time.Second)
			}
			s.logger.Warn("Failed to accept connection, retrying",
				"error", err,
				"backoff", backoff.String(),
			)
			select {
			case <-time.After(backoff):
				continue
			case <-s.ctx.Done():
				return nil
			}
		}
		backoff = 0

		s.logger.Info("Connection accepted", "remote_addr", conn.RemoteAddr().String())

		if s.config.Single {
			s.serve(conn)
			if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("Failed to close listener", "error", err)
			}
			s.logger.Info("Single connection served, no longer accepting")
			return nil
		}

		s.errGroup.Go(func() error {
			s.serve(conn)
			return nil
		})
	}
}

// serve runs a session for conn. Session errors end only that session.
func (s *Server) serve(conn net.Conn) {
	start := time.Now()
	s.metrics.sessionStarted()
	defer func() {
		s.metrics.sessionEnded(time.Since(start).Seconds())
	}()

	defer func() {
		if r := recover(); r != nil {
			_ = conn.Close()
			s.logger.Error("panic in connection handler",
				"remote_addr", conn.RemoteAddr().String(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	session := NewSession(conn, s.config, s.store, s.metrics, s.logger)
	if err := session.Handle(s.ctx); err != nil {
		s.logger.Debug("Session ended with error",
			"session_id", session.ID(),
			"error", err,
		)
	}
}

// Wait blocks until the accept loop and every session have finished.
func (s *Server) Wait() error {
	return s.errGroup.Wait()
}

// Close stops accepting, closes every open session connection and waits up
// to the shutdown timeout for sessions to finish. It is safe to call more
// than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Info("Initiating server shutdown")
		s.closing.Store(true)
		s.cancel()

		if s.listener != nil {
			if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("Error closing listener", "error", err)
				s.closeErr = err
			}
		}

		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.logger.Warn("Error shutting down status endpoint", "error", err)
			}
			cancel()
		}

		done := make(chan error, 1)
		go func() {
			done <- s.errGroup.Wait()
		}()

		select {
		case err := <-done:
			if err != nil && s.closeErr == nil {
				s.closeErr = err
			}
			s.logger.Info("Server stopped")
		case <-time.After(s.config.ShutdownTimeout):
			s.logger.Warn("Sessions still running after shutdown timeout",
				"timeout", s.config.ShutdownTimeout.String(),
				"active_sessions", s.metrics.ActiveSessions(),
			)
			if s.closeErr == nil {
				s.closeErr = fmt.Errorf("shutdown timed out after %s", s.config.ShutdownTimeout)
			}
		}
	})
	return s.closeErr
}
