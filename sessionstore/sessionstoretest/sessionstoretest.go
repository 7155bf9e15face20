// Package sessionstoretest is a conformance suite for sessionstore.Store
// implementations.
package sessionstoretest

import (
	"context"
	"testing"
	"time"

	"github.com/ggoodman/taskd/sessionstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreFactory creates a new, empty Store for a single subtest. The suite
// closes it.
type StoreFactory func(t *testing.T) sessionstore.Store

// RunStoreTests runs the complete Store test suite against the provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("PutAndGet", func(t *testing.T) { testPutAndGet(t, factory) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("UserIsolation", func(t *testing.T) { testUserIsolation(t, factory) })
	t.Run("RejectsExpired", func(t *testing.T) { testRejectsExpired(t, factory) })
	t.Run("RejectsInvalid", func(t *testing.T) { testRejectsInvalid(t, factory) })
	t.Run("ExpiresAfterTTL", func(t *testing.T) { testExpiresAfterTTL(t, factory) })
	t.Run("DeleteOne", func(t *testing.T) { testDeleteOne(t, factory) })
	t.Run("DeleteUser", func(t *testing.T) { testDeleteUser(t, factory) })
}

func open(t *testing.T, factory StoreFactory) sessionstore.Store {
	t.Helper()
	s := factory(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func binding(user, tok string, ttl time.Duration) sessionstore.Binding {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return sessionstore.Binding{
		TokenDigest: sessionstore.Digest(tok),
		UserID:      user,
		SessionID:   "sess-" + tok,
		Provider:    "test",
		BoundAt:     now,
		ExpiresAt:   now.Add(ttl),
	}
}

func testPutAndGet(t *testing.T, factory StoreFactory) {
	s := open(t, factory)
	ctx := context.Background()

	b := binding("u1", "tok-1", time.Hour)
	require.NoError(t, s.Put(ctx, b))

	got, err := s.Get(ctx, "u1", b.TokenDigest)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, b.UserID, got.UserID)
	assert.Equal(t, b.SessionID, got.SessionID)
	assert.Equal(t, b.Provider, got.Provider)
	assert.True(t, b.ExpiresAt.Equal(got.ExpiresAt))
}

func testGetMissing(t *testing.T, factory StoreFactory) {
	s := open(t, factory)
	got, err := s.Get(context.Background(), "u1", sessionstore.Digest("never-stored"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testUserIsolation(t *testing.T, factory StoreFactory) {
	s := open(t, factory)
	ctx := context.Background()

	b := binding("u1", "tok-shared", time.Hour)
	require.NoError(t, s.Put(ctx, b))

	got, err := s.Get(ctx, "u2", b.TokenDigest)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testRejectsExpired(t *testing.T, factory StoreFactory) {
	s := open(t, factory)
	err := s.Put(context.Background(), binding("u1", "tok-old", -time.Second))
	require.ErrorIs(t, err, sessionstore.ErrExpired)
}

func testRejectsInvalid(t *testing.T, factory StoreFactory) {
	s := open(t, factory)
	b := binding("", "tok", time.Hour)
	require.Error(t, s.Put(context.Background(), b))
}

func testExpiresAfterTTL(t *testing.T, factory StoreFactory) {
	s := open(t, factory)
	ctx := context.Background()

	b := binding("u1", "tok-short", 1100*time.Millisecond)
	require.NoError(t, s.Put(ctx, b))

	got, err := s.Get(ctx, "u1", b.TokenDigest)
	require.NoError(t, err)
	require.NotNil(t, got)

	time.Sleep(1500 * time.Millisecond)

	got, err = s.Get(ctx, "u1", b.TokenDigest)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testDeleteOne(t *testing.T, factory StoreFactory) {
	s := open(t, factory)
	ctx := context.Background()

	a := binding("u1", "tok-a", time.Hour)
	b := binding("u1", "tok-b", time.Hour)
	require.NoError(t, s.Put(ctx, a))
	require.NoError(t, s.Put(ctx, b))

	require.NoError(t, s.Delete(ctx, "u1", a.TokenDigest))

	got, err := s.Get(ctx, "u1", a.TokenDigest)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.Get(ctx, "u1", b.TokenDigest)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func testDeleteUser(t *testing.T, factory StoreFactory) {
	s := open(t, factory)
	ctx := context.Background()

	a := binding("u1", "tok-a", time.Hour)
	b := binding("u1", "tok-b", time.Hour)
	other := binding("u2", "tok-c", time.Hour)
	for _, x := range []sessionstore.Binding{a, b, other} {
		require.NoError(t, s.Put(ctx, x))
	}

	require.NoError(t, s.Delete(ctx, "u1", ""))

	for _, d := range []string{a.TokenDigest, b.TokenDigest} {
		got, err := s.Get(ctx, "u1", d)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	got, err := s.Get(ctx, "u2", other.TokenDigest)
	require.NoError(t, err)
	assert.NotNil(t, got)
}
