// Package store persists accepted envelopes, one record per recipient.
//
// Every backend overwrites the previous record for a recipient; there is no
// append or versioning. Concurrent writes naming the same recipient race and
// the last write to complete wins.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Common errors
var (
	ErrNotFound           = errors.New("no message stored for recipient")
	ErrInvalidRecipient   = errors.New("invalid recipient key")
	ErrIncompleteEnvelope = errors.New("envelope requires sender and recipient")
	ErrUnsupportedType    = errors.New("unsupported store type")
)

// Envelope is one accepted message transfer.
type Envelope struct {
	Sender    string
	Recipient string
	Body      string
}

// Validate checks that both addresses are present.
func (e Envelope) Validate() error {
	if e.Sender == "" || e.Recipient == "" {
		return ErrIncompleteEnvelope
	}
	return nil
}

// Store defines the interface that all message store backends must satisfy
type Store interface {
	// Store persists env under its recipient, replacing any earlier record.
	Store(ctx context.Context, env Envelope) error

	// Load returns the record currently stored for recipient.
	Load(ctx context.Context, recipient string) (Envelope, error)

	// Type returns the backend name (e.g. "file", "redis").
	Type() string

	// Close releases backend resources.
	Close() error
}

// Config represents the configuration for a message store
type Config struct {
	Type      string // file, memory, redis, memcached, sqlite, postgres, mysql
	Dir       string // file backend directory
	URL       string // redis URL, memcached server list, or SQL DSN
	KeyPrefix string // key prefix for redis and memcached

	Breaker         bool
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// New creates a store based on configuration
func New(cfg Config, logger *slog.Logger) (Store, error) {
	var (
		st  Store
		err error
	)

	switch cfg.Type {
	case "", "file":
		st, err = NewFile(cfg.Dir)
	case "memory":
		st = NewMemory()
	case "redis":
		st, err = NewRedis(cfg)
	case "memcached":
		st, err = NewMemcached(cfg)
	case "sqlite", "sqlite3", "postgres", "mysql":
		st, err = NewSQL(cfg.Type, cfg.URL)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Breaker {
		st = NewBreaker(st, cfg, logger)
	}

	logger.Info("message store ready", "type", st.Type(), "breaker", cfg.Breaker)
	return st, nil
}

// RecipientKey validates a recipient and returns the normalized key it is
// stored under.
func RecipientKey(recipient string) (string, error) {
	key := norm.NFC.String(recipient)
	if key == "" || key == "." || key == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}
	if strings.ContainsAny(key, "/\\\x00") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}
	return key, nil
}

// FormatRecord renders env as stored on disk: the sender on the first line
// followed by the raw body.
func FormatRecord(env Envelope) string {
	return env.Sender + "\n" + env.Body
}

// ParseRecord is the inverse of FormatRecord.
func ParseRecord(recipient, record string) Envelope {
	sender, body, _ := strings.Cut(record, "\n")
	return Envelope{
		Sender:    sender,
		Recipient: recipient,
		Body:      body,
	}
}

// prepare validates env and returns its storage key.
func prepare(env Envelope) (string, error) {
	if err := env.Validate(); err != nil {
		return "", err
	}
	return RecipientKey(env.Recipient)
}
