package store

import (
	"context"
	"sync"
)

// Memory implements Store in process memory.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Envelope
	writes  int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Envelope)}
}

// Store replaces the record for env's recipient.
func (m *Memory) Store(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := prepare(env)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = env
	m.writes++
	return nil
}

// Load returns the record for recipient.
func (m *Memory) Load(ctx context.Context, recipient string) (Envelope, error) {
	if err := ctx.Err(); err != nil {
		return Envelope{}, err
	}
	key, err := RecipientKey(recipient)
	if err != nil {
		return Envelope{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	env, ok := m.records[key]
	if !ok {
		return Envelope{}, ErrNotFound
	}
	return env, nil
}

// Writes returns how many successful Store calls have been made.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Type returns the type of this store
func (m *Memory) Type() string {
	return "memory"
}

// Close is a no-op for the memory store.
func (m *Memory) Close() error {
	return nil
}
