// Package memory provides an in-memory sessionstore.Store backed by
// github.com/hashicorp/golang-lru/v2. Bindings beyond the configured
// capacity are evicted least-recently-used first.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/taskd/sessionstore"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Store implements sessionstore.Store in process memory.
type Store struct {
	mu    sync.Mutex
	cache *lru.Cache[string, sessionstore.Binding]
	now   func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

var _ sessionstore.Store = (*Store)(nil)

// New creates a store holding at most maxItems bindings. Expired bindings are
// swept every sweepEvery; zero selects five minutes.
func New(maxItems int, sweepEvery time.Duration) (*Store, error) {
	cache, err := lru.New[string, sessionstore.Binding](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	if sweepEvery <= 0 {
		sweepEvery = 5 * time.Minute
	}

	s := &Store{
		cache: cache,
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	go s.cleanupExpired(sweepEvery)
	return s, nil
}

func (s *Store) Put(ctx context.Context, b sessionstore.Binding) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if b.IsExpired(s.now()) {
		return sessionstore.ErrExpired
	}

	s.mu.Lock()
	s.cache.Add(buildKey(b.UserID, b.TokenDigest), b)
	s.mu.Unlock()
	return nil
}

func (s *Store) Get(ctx context.Context, userID, digest string) (*sessionstore.Binding, error) {
	key := buildKey(userID, digest)

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.cache.Get(key)
	if !ok {
		return nil, nil
	}
	if b.IsExpired(s.now()) {
		s.cache.Remove(key)
		return nil, nil
	}
	return &b, nil
}

func (s *Store) Delete(ctx context.Context, userID, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if digest != "" {
		s.cache.Remove(buildKey(userID, digest))
		return nil
	}

	// LRU has no prefix iteration; walk the key set.
	prefix := userPrefix(userID)
	for _, k := range s.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			s.cache.Remove(k)
		}
	}
	return nil
}

// Close stops the sweeper and drops all bindings.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

func userPrefix(userID string) string { return "user:" + userID + ":" }

func buildKey(userID, digest string) string {
	return userPrefix(userID) + "token:" + digest
}

func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, k := range s.cache.Keys() {
		if b, ok := s.cache.Peek(k); ok && b.IsExpired(now) {
			s.cache.Remove(k)
		}
	}
}

func (s *Store) cleanupExpired(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}
