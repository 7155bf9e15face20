// Package redis provides a Redis-backed sessionstore.Store. Bindings are
// stored as JSON documents whose Redis TTL matches the binding expiry.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ggoodman/taskd/sessionstore"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis store. The env tags are read by the config package.
type Config struct {
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=taskd:sessions:"`
}

// Store implements sessionstore.Store using Redis.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

var _ sessionstore.Store = (*Store)(nil)

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*Store, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(cl, cfg.KeyPrefix)
}

// NewWithClient wraps an existing client. The store takes ownership of it.
func NewWithClient(client *redis.Client, keyPrefix string) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if keyPrefix == "" {
		keyPrefix = "taskd:sessions:"
	}
	return &Store{client: client, keyPrefix: keyPrefix}, nil
}

func (s *Store) Put(ctx context.Context, b sessionstore.Binding) error {
	if err := b.Validate(); err != nil {
		return err
	}
	ttl := time.Until(b.ExpiresAt)
	if ttl <= 0 {
		return sessionstore.ErrExpired
	}

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal binding: %w", err)
	}

	key := s.buildKey(b.UserID, b.TokenDigest)
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, userID, digest string) (*sessionstore.Binding, error) {
	key := s.buildKey(userID, digest)

	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	var b sessionstore.Binding
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal binding: %w", err)
	}
	// Redis expiry is authoritative; this guards against clock skew between
	// the writer and Redis.
	if b.IsExpired(time.Now()) {
		s.client.Del(ctx, key)
		return nil, nil
	}
	return &b, nil
}

func (s *Store) Delete(ctx context.Context, userID, digest string) error {
	if digest != "" {
		key := s.buildKey(userID, digest)
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", key, err)
		}
		return nil
	}

	pattern := s.userPrefix(globEscaper.Replace(userID)) + "*"
	keys, err := s.scanKeys(ctx, pattern)
	if err != nil {
		return fmt.Errorf("failed to scan keys for pattern %s: %w", pattern, err)
	}
	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
	}
	return nil
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func (s *Store) userPrefix(userID string) string { return s.keyPrefix + "user:" + userID + ":" }

func (s *Store) buildKey(userID, digest string) string {
	return s.userPrefix(userID) + "token:" + digest
}

func (s *Store) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
