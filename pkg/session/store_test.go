package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := NewStore(Config{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestNewStoreInvalidURL(t *testing.T) {
	_, err := NewStore(Config{URL: "invalid://url"})
	assert.Error(t, err)
}

func TestNewStoreUnreachable(t *testing.T) {
	_, err := NewStore(Config{URL: "redis://127.0.0.1:1"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSetGetDelete(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, UserKey("alice"), "token-a", 0))

	value, err := store.Get(ctx, UserKey("alice"))
	require.NoError(t, err)
	assert.Equal(t, "token-a", value)

	removed, err := store.Delete(ctx, UserKey("alice"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = store.Get(ctx, UserKey("alice"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewestWriteWins(t *testing.T) {
	// At most one live session per subject: a later login overwrites the
	// cached token, so the earlier token no longer matches.
	store, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, UserKey("alice"), "token-a", 0))
	require.NoError(t, store.Set(ctx, UserKey("alice"), "token-b", 0))

	value, err := store.Get(ctx, UserKey("alice"))
	require.NoError(t, err)
	assert.NotEqual(t, "token-a", value)
	assert.Equal(t, "token-b", value)
}

func TestExists(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	ok, err := store.Exists(ctx, UserKey("alice"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, UserKey("alice"), "token-a", 0))
	ok, err = store.Exists(ctx, UserKey("alice"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, UserKey("alice"), "token-a", 600*time.Second))

	ttl, err := store.RemainingTTL(ctx, UserKey("alice"))
	require.NoError(t, err)
	assert.Equal(t, int64(600), ttl)

	mr.FastForward(601 * time.Second)
	_, err = store.Get(ctx, UserKey("alice"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemainingTTLConventions(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, UserKey("alice"), "token-a", 0))
	ttl, err := store.RemainingTTL(ctx, UserKey("alice"))
	require.NoError(t, err)
	assert.Equal(t, int64(-1), ttl, "no expiry")

	ttl, err = store.RemainingTTL(ctx, UserKey("nobody"))
	require.NoError(t, err)
	assert.Equal(t, int64(-2), ttl, "absent key")
}

func TestExpireExtendsSession(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, UserKey("alice"), "token-a", 10*time.Second))

	ok, err := store.Expire(ctx, UserKey("alice"), 600*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(30 * time.Second)
	_, err = store.Get(ctx, UserKey("alice"))
	assert.NoError(t, err, "session must survive past its original TTL")

	ok, err = store.Expire(ctx, UserKey("nobody"), 600*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeysAndOnlineCount(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, UserKey("alice"), "a", 0))
	require.NoError(t, store.Set(ctx, UserKey("bob"), "b", 0))
	require.NoError(t, store.Set(ctx, "unrelated-key", "c", 0))

	keys, err := store.Keys(ctx, UserKeyPattern)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	n, err := store.OnlineCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUnavailableAfterClose(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewStore(Config{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)

	mr.Close()

	_, err = store.Get(context.Background(), UserKey("alice"))
	assert.ErrorIs(t, err, ErrUnavailable)

	err = store.Set(context.Background(), UserKey("alice"), "t", 0)
	assert.ErrorIs(t, err, ErrUnavailable)

	store.Close()
}
