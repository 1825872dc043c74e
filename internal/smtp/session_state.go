package smtp

import (
	"context"
	"errors"
	"log/slog"
)

// Phase is the server-side position in the exchange.
type Phase int

const (
	PhaseGreeting Phase = iota
	PhaseAwaitHello
	PhaseAwaitSender
	PhaseAwaitRecipient
	PhaseAwaitData
	PhaseAwaitQuit
	PhaseClosed
)

// String returns the string representation of Phase
func (p Phase) String() string {
	switch p {
	case PhaseGreeting:
		return "GREETING"
	case PhaseAwaitHello:
		return "AWAIT_HELLO"
	case PhaseAwaitSender:
		return "AWAIT_SENDER"
	case PhaseAwaitRecipient:
		return "AWAIT_RECIPIENT"
	case PhaseAwaitData:
		return "AWAIT_DATA"
	case PhaseAwaitQuit:
		return "AWAIT_QUIT"
	case PhaseClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

var (
	errSenderMissing    = errors.New("recipient set before sender")
	errRecipientMissing = errors.New("data phase entered before recipient")
	errEmptyAddress     = errors.New("empty address")
)

// SessionState is the envelope accumulated by one session. It is owned by
// the session goroutine and is not safe for concurrent use.
type SessionState struct {
	phase     Phase
	sender    string
	recipient string
	logger    *slog.Logger
}

// NewSessionState returns a state positioned at PhaseGreeting.
func NewSessionState(logger *slog.Logger) *SessionState {
	return &SessionState{
		phase:  PhaseGreeting,
		logger: logger.With("component", "session-state"),
	}
}

func (s *SessionState) Phase() Phase      { return s.phase }
func (s *SessionState) Sender() string    { return s.sender }
func (s *SessionState) Recipient() string { return s.recipient }

// SetPhase moves the session to phase, refusing to enter PhaseAwaitData
// without a recipient.
func (s *SessionState) SetPhase(ctx context.Context, phase Phase) error {
	if phase == PhaseAwaitData && s.recipient == "" {
		return errRecipientMissing
	}
	old := s.phase
	s.phase = phase
	s.logger.DebugContext(ctx, "phase transition",
		"old_phase", old.String(),
		"new_phase", phase.String(),
	)
	return nil
}

// SetSender records the envelope sender.
func (s *SessionState) SetSender(ctx context.Context, sender string) error {
	if sender == "" {
		return errEmptyAddress
	}
	s.sender = sender
	s.logger.DebugContext(ctx, "sender set", "sender", sender)
	return nil
}

// SetRecipient records the envelope recipient. The sender must already be set.
func (s *SessionState) SetRecipient(ctx context.Context, recipient string) error {
	if s.sender == "" {
		return errSenderMissing
	}
	if recipient == "" {
		return errEmptyAddress
	}
	s.recipient = recipient
	s.logger.DebugContext(ctx, "recipient set", "recipient", recipient)
	return nil
}
