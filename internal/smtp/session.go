package smtp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"strings"
	"time"

	"github.com/busybox42/minimta/internal/logging"
	"github.com/busybox42/minimta/internal/store"
	"github.com/google/uuid"
)

// Session drives one server-side exchange over a single connection. All of
// its state is confined to the goroutine running Handle.
type Session struct {
	conn       *LineConn
	state      *SessionState
	store      store.Store
	metrics    *Metrics
	hostname   string
	sessionID  string
	remoteAddr string
	startTime  time.Time
	logger     *slog.Logger
	messageLog *logging.MessageLogger
}

// NewSession creates a session for conn. The session owns conn and closes
// it when Handle returns.
func NewSession(conn net.Conn, config *Config, st store.Store, metrics *Metrics, logger *slog.Logger) *Session {
	remoteAddr := conn.RemoteAddr().String()
	sessionID := uuid.New().String()

	messageLog := logging.NewMessageLogger(logger)
	logger = logger.With(
		"component", "smtp-session",
		"session_id", sessionID,
		"remote_addr", remoteAddr,
	)

	return &Session{
		conn:       NewLineConn(conn, config.MaxLineLength, config.IdleTimeout),
		state:      NewSessionState(logger),
		store:      st,
		metrics:    metrics,
		hostname:   config.Hostname,
		sessionID:  sessionID,
		remoteAddr: remoteAddr,
		startTime:  time.Now(),
		logger:     logger,
		messageLog: messageLog,
	}
}

// ID returns the session identifier used in log lines.
func (s *Session) ID() string {
	return s.sessionID
}

// Phase reports the current phase. Only meaningful once Handle has returned.
func (s *Session) Phase() Phase {
	return s.state.Phase()
}

// Handle runs the exchange until QUIT, end of stream, or a connection error.
// Cancelling ctx closes the connection, which unblocks any pending read.
// A peer that disconnects before QUIT yields an error wrapping ErrEndOfStream.
func (s *Session) Handle(ctx context.Context) (err error) {
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.Close()
	})
	defer func() {
		stop()
		if cerr := s.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			s.logger.DebugContext(ctx, "Connection close failed", "error", cerr)
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "Session panic recovered",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("session panic: %v", r)
		}
	}()

	s.logger.InfoContext(ctx, "Session started")

	if err := s.reply(ctx, "220 "+s.hostname); err != nil {
		return err
	}
	if err := s.state.SetPhase(ctx, PhaseAwaitHello); err != nil {
		return err
	}

	for {
		line, err := s.read(ctx)
		if err != nil {
			return s.abort(ctx, err)
		}

		done, err := s.dispatch(ctx, line)
		if err != nil {
			return s.abort(ctx, err)
		}
		if done {
			s.logger.InfoContext(ctx, "Session completed",
				"duration", time.Since(s.startTime).String(),
			)
			return nil
		}
	}
}

// dispatch handles one line according to the current phase. It reports true
// once the exchange is complete.
func (s *Session) dispatch(ctx context.Context, line string) (bool, error) {
	switch s.state.Phase() {
	case PhaseAwaitHello:
		if token, ok := parseHello(line); ok {
			return false, s.advance(ctx, PhaseAwaitSender,
				fmt.Sprintf("250 Hello %s, pleased to meet you", token))
		}

	case PhaseAwaitSender:
		if sender, ok := parseMailFrom(line); ok {
			if err := s.state.SetSender(ctx, sender); err != nil {
				return false, err
			}
			return false, s.advance(ctx, PhaseAwaitRecipient, "250 ok")
		}

	case PhaseAwaitRecipient:
		if recipient, ok := parseRcptTo(line); ok {
			if err := s.state.SetRecipient(ctx, recipient); err != nil {
				return false, err
			}
			return false, s.advance(ctx, PhaseAwaitData, "250 ok")
		}

	case PhaseAwaitData:
		if line == verbData {
			return false, s.handleData(ctx)
		}

	case PhaseAwaitQuit:
		if line == verbQuit {
			if err := s.reply(ctx, fmt.Sprintf("221 %s closing connection", s.hostname)); err != nil {
				return false, err
			}
			return true, s.state.SetPhase(ctx, PhaseClosed)
		}
	}

	s.metrics.UnrecognizedLines.Inc()
	s.logger.WarnContext(ctx, "Unrecognized line ignored",
		"phase", s.state.Phase().String(),
		"line", line,
	)
	return false, nil
}

// handleData collects the body up to the terminating "." line, hands the
// envelope to the store and acknowledges it.
func (s *Session) handleData(ctx context.Context) error {
	if err := s.reply(ctx, "354 End data with <CR><LF>.<CR><LF>"); err != nil {
		return err
	}

	mc := logging.MessageContext{
		SessionID:     s.sessionID,
		From:          s.state.Sender(),
		To:            s.state.Recipient(),
		ClientAddr:    s.remoteAddr,
		Store:         s.store.Type(),
		DataStartTime: time.Now(),
	}

	var body strings.Builder
	for {
		line, err := s.read(ctx)
		if err != nil {
			mc.Size = body.Len()
			mc.Error = err
			s.messageLog.LogAbandoned(ctx, mc)
			return err
		}
		if line == bodyTerminus {
			break
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}

	env := store.Envelope{
		Sender:    mc.From,
		Recipient: mc.To,
		Body:      body.String(),
	}
	mc.Size = len(env.Body)
	s.metrics.MessageSize.Observe(float64(mc.Size))

	if err := s.store.Store(ctx, env); err != nil {
		// The peer is still told the message was accepted.
		s.metrics.StoreFailures.Inc()
		mc.Error = err
		s.messageLog.LogStoreFailure(ctx, mc)
	} else {
		s.metrics.messageAccepted()
		mc.StoredTime = time.Now()
		s.messageLog.LogReception(ctx, mc)
	}

	return s.advance(ctx, PhaseAwaitQuit, "250 ok Message accepted for delivery")
}

func (s *Session) advance(ctx context.Context, next Phase, reply string) error {
	if err := s.reply(ctx, reply); err != nil {
		return err
	}
	return s.state.SetPhase(ctx, next)
}

func (s *Session) reply(ctx context.Context, line string) error {
	s.logger.InfoContext(ctx, "sent", "line", line)
	if err := s.conn.WriteLine(line); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

func (s *Session) read(ctx context.Context) (string, error) {
	line, err := s.conn.ReadLine()
	if err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "received", "line", line)
	return line, nil
}

// abort records why the exchange ended before QUIT.
func (s *Session) abort(ctx context.Context, err error) error {
	phase := s.state.Phase()
	switch {
	case errors.Is(err, ErrEndOfStream):
		s.metrics.Disconnects.Inc()
		s.logger.InfoContext(ctx, "Peer disconnected before QUIT", "phase", phase.String())
	case errors.Is(err, ErrIdleTimeout):
		s.logger.InfoContext(ctx, "Session idle timeout", "phase", phase.String())
	default:
		s.logger.WarnContext(ctx, "Session aborted", "phase", phase.String(), "error", err)
	}
	return fmt.Errorf("session aborted in phase %s: %w", phase, err)
}
