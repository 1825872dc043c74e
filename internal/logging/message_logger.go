package logging

import (
	"context"
	"log/slog"
	"time"
)

// MessageLogger writes one structured event per message outcome.
type MessageLogger struct {
	logger *slog.Logger
}

// NewMessageLogger creates a new message logger
func NewMessageLogger(logger *slog.Logger) *MessageLogger {
	return &MessageLogger{
		logger: logger.With("component", "message-lifecycle"),
	}
}

// MessageContext describes one message at the moment it leaves the session.
type MessageContext struct {
	SessionID     string
	From          string
	To            string
	Size          int
	ClientAddr    string
	Store         string
	DataStartTime time.Time
	StoredTime    time.Time
	Error         error
}

func (mc MessageContext) storeDelay() time.Duration {
	if mc.DataStartTime.IsZero() || mc.StoredTime.IsZero() {
		return 0
	}
	return mc.StoredTime.Sub(mc.DataStartTime)
}

// LogReception logs a message that was persisted.
func (ml *MessageLogger) LogReception(ctx context.Context, mc MessageContext) {
	ml.logger.InfoContext(ctx, "message_reception",
		"event_type", "reception",
		"session_id", mc.SessionID,
		"from", mc.From,
		"to", mc.To,
		"size", mc.Size,
		"client_addr", mc.ClientAddr,
		"store", mc.Store,
		"store_delay_ms", mc.storeDelay().Milliseconds(),
		"status", "stored",
	)
}

// LogStoreFailure logs a message the store could not persist. The peer has
// still been told the message was accepted.
func (ml *MessageLogger) LogStoreFailure(ctx context.Context, mc MessageContext) {
	ml.logger.ErrorContext(ctx, "message_store_failure",
		"event_type", "store_failure",
		"session_id", mc.SessionID,
		"from", mc.From,
		"to", mc.To,
		"size", mc.Size,
		"client_addr", mc.ClientAddr,
		"store", mc.Store,
		"error", mc.Error,
		"status", "lost",
	)
}

// LogAbandoned logs a body that never reached its terminating line.
func (ml *MessageLogger) LogAbandoned(ctx context.Context, mc MessageContext) {
	ml.logger.WarnContext(ctx, "message_abandoned",
		"event_type", "abandoned",
		"session_id", mc.SessionID,
		"from", mc.From,
		"to", mc.To,
		"size", mc.Size,
		"client_addr", mc.ClientAddr,
		"error", mc.Error,
		"status", "discarded",
	)
}
