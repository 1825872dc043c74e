package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Store with one string key per recipient.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to the server named by cfg.URL (redis://host:port/db).
func NewRedis(cfg Config) (*Redis, error) {
	url := cfg.URL
	if url == "" {
		url = "redis://localhost:6379/0"
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Redis{client: client, prefix: cfg.KeyPrefix}, nil
}

func (r *Redis) key(recipient string) string {
	return r.prefix + recipient
}

// Store sets the recipient key to the formatted record.
func (r *Redis) Store(ctx context.Context, env Envelope) error {
	key, err := prepare(env)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(key), FormatRecord(env), 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Load reads the recipient key.
func (r *Redis) Load(ctx context.Context, recipient string) (Envelope, error) {
	key, err := RecipientKey(recipient)
	if err != nil {
		return Envelope{}, err
	}

	val, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return Envelope{}, ErrNotFound
	} else if err != nil {
		return Envelope{}, fmt.Errorf("redis get: %w", err)
	}

	return ParseRecord(recipient, val), nil
}

// Type returns the type of this store
func (r *Redis) Type() string {
	return "redis"
}

// Close closes the connection to Redis
func (r *Redis) Close() error {
	return r.client.Close()
}
