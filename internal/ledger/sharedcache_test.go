// internal/ledger/sharedcache_test.go
package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotagate/internal/common/logger"
	"quotagate/internal/store"
)

func newSharedCache(t *testing.T) (*SharedCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewSharedCache(client, time.Minute, logger.NewNoOpLogger()), mr
}

func TestSharedCacheRoundTrip(t *testing.T) {
	sc, _ := newSharedCache(t)
	ctx := context.Background()

	rec := store.NewUserRecord(42, time.Now())
	rec.TokensRemaining = 9000
	sc.Set(ctx, rec)

	got, ok := sc.Get(ctx, 42)
	require.True(t, ok)
	assert.Equal(t, int64(42), got.UserID)
	assert.Equal(t, 9000, got.TokensRemaining)
}

func TestSharedCacheMiss(t *testing.T) {
	sc, _ := newSharedCache(t)
	_, ok := sc.Get(context.Background(), 7)
	assert.False(t, ok)
}

func TestSharedCacheDelete(t *testing.T) {
	sc, _ := newSharedCache(t)
	ctx := context.Background()

	sc.Set(ctx, store.NewUserRecord(42, time.Now()))
	sc.Delete(ctx, 42)

	_, ok := sc.Get(ctx, 42)
	assert.False(t, ok)
}

func TestSharedCacheCorruptEntryIgnored(t *testing.T) {
	sc, mr := newSharedCache(t)
	require.NoError(t, mr.Set("ledger:user:42", "not json"))

	_, ok := sc.Get(context.Background(), 42)
	assert.False(t, ok)
}

func TestSharedCacheEntriesExpire(t *testing.T) {
	sc, mr := newSharedCache(t)
	ctx := context.Background()

	sc.Set(ctx, store.NewUserRecord(42, time.Now()))
	mr.FastForward(2 * time.Minute)

	_, ok := sc.Get(ctx, 42)
	assert.False(t, ok)
}
