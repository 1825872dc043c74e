package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestRedisStoreIntegration tests the Redis backend against a local server
func TestRedisStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis integration test in short mode")
	}

	st, err := NewRedis(Config{URL: "redis://localhost:6379/0", KeyPrefix: "minimta:test:"})
	if err != nil {
		t.Skipf("Redis not available, skipping test: %v", err)
	}
	defer st.Close()

	assert.Equal(t, "redis", st.Type())
	exerciseStore(t, st)
}

func TestRedisStoreBadURL(t *testing.T) {
	_, err := NewRedis(Config{URL: "http://localhost:6379"})
	assert.Error(t, err)
}

// TestMemcachedStoreIntegration tests the Memcached backend against a local server
func TestMemcachedStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Memcached integration test in short mode")
	}

	st, err := NewMemcached(Config{URL: "localhost:11211", KeyPrefix: "minimta:test:"})
	if err != nil {
		t.Skipf("Memcached not available, skipping test: %v", err)
	}
	defer st.Close()

	assert.Equal(t, "memcached", st.Type())
	exerciseStore(t, st)
}

func TestMemcachedKeyRejectsWhitespace(t *testing.T) {
	m := &Memcached{prefix: "minimta:"}

	_, err := m.key("bob smith")
	assert.ErrorIs(t, err, ErrInvalidRecipient)

	k, err := m.key("bob")
	assert.NoError(t, err)
	assert.Equal(t, "minimta:bob", k)
}
