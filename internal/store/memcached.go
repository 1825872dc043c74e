package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bradfitz/gomemcache/memcache"
)

// Memcached implements Store on a memcached cluster.
type Memcached struct {
	client *memcache.Client
	prefix string
}

// NewMemcached connects to the comma separated server list in cfg.URL.
func NewMemcached(cfg Config) (*Memcached, error) {
	var servers []string
	for _, s := range strings.Split(cfg.URL, ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	if len(servers) == 0 {
		servers = append(servers, "localhost:11211")
	}

	client := memcache.New(servers...)
	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to Memcached: %w", err)
	}

	return &Memcached{client: client, prefix: cfg.KeyPrefix}, nil
}

// memcached keys may not contain whitespace or control characters.
func (m *Memcached) key(recipient string) (string, error) {
	k := m.prefix + recipient
	if len(k) > 250 || strings.IndexFunc(k, func(r rune) bool { return r <= ' ' || r == 0x7f }) >= 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}
	return k, nil
}

// Store sets the recipient item.
func (m *Memcached) Store(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := prepare(env)
	if err != nil {
		return err
	}
	k, err := m.key(key)
	if err != nil {
		return err
	}

	if err := m.client.Set(&memcache.Item{Key: k, Value: []byte(FormatRecord(env))}); err != nil {
		return fmt.Errorf("memcached set: %w", err)
	}
	return nil
}

// Load fetches the recipient item.
func (m *Memcached) Load(ctx context.Context, recipient string) (Envelope, error) {
	if err := ctx.Err(); err != nil {
		return Envelope{}, err
	}
	key, err := RecipientKey(recipient)
	if err != nil {
		return Envelope{}, err
	}
	k, err := m.key(key)
	if err != nil {
		return Envelope{}, err
	}

	item, err := m.client.Get(k)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return Envelope{}, ErrNotFound
	} else if err != nil {
		return Envelope{}, fmt.Errorf("memcached get: %w", err)
	}

	return ParseRecord(recipient, string(item.Value)), nil
}

// Type returns the type of this store
func (m *Memcached) Type() string {
	return "memcached"
}

// Close is a no-op; the memcache client holds no resources that need releasing.
func (m *Memcached) Close() error {
	return nil
}
