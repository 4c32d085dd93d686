package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSharedCaches(t *testing.T) (*VersionedCache, *VersionedCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	newInstance := func() *VersionedCache {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		c, err := NewVersionedCache(client, 64, nil)
		require.NoError(t, err)
		return c
	}
	return newInstance(), newInstance(), mr
}

func TestVersionedCacheMemoises(t *testing.T) {
	cache, err := NewVersionedCache(nil, 8, nil)
	require.NoError(t, err)
	loads := 0
	load := func(context.Context) ([]string, error) {
		loads++
		return []string{"pages.view"}, nil
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		names, err := cache.Effective(ctx, 1, load)
		require.NoError(t, err)
		assert.Equal(t, []string{"pages.view"}, names)
	}
	assert.Equal(t, 1, loads)

	require.NoError(t, cache.Invalidate(ctx))
	_, err = cache.Effective(ctx, 1, load)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}

func TestVersionedCacheReturnsCopies(t *testing.T) {
	cache, err := NewVersionedCache(nil, 8, nil)
	require.NoError(t, err)
	load := func(context.Context) ([]string, error) { return []string{"a.b"}, nil }

	first, err := cache.Effective(context.Background(), 1, load)
	require.NoError(t, err)
	first[0] = "mutated"
	second, err := cache.Effective(context.Background(), 1, load)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.b"}, second)
}

func TestVersionedCacheLoadErrorNotCached(t *testing.T) {
	cache, err := NewVersionedCache(nil, 8, nil)
	require.NoError(t, err)
	boom := errors.New("db down")
	_, err = cache.Effective(context.Background(), 1, func(context.Context) ([]string, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, cache.Len())
}

func TestVersionedCacheLoadIgnoresCallerCancellation(t *testing.T) {
	cache, err := NewVersionedCache(nil, 8, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	names, err := cache.Effective(ctx, 1, func(ctx context.Context) ([]string, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []string{"pages.view"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pages.view"}, names)
	assert.Equal(t, 1, cache.Len())
}

func TestVersionedCacheInvalidationVisibleAcrossInstances(t *testing.T) {
	a, b, mr := setupSharedCaches(t)
	ctx := context.Background()
	granted := []string{"pages.view"}
	load := func(context.Context) ([]string, error) { return granted, nil }

	names, err := b.Effective(ctx, 3, load)
	require.NoError(t, err)
	assert.Equal(t, []string{"pages.view"}, names)

	granted = []string{"pages.edit", "pages.view"}
	require.NoError(t, a.Invalidate(ctx))

	names, err = b.Effective(ctx, 3, load)
	require.NoError(t, err)
	assert.Equal(t, []string{"pages.edit", "pages.view"}, names)

	ver, err := mr.Get(cacheVersionKey)
	require.NoError(t, err)
	assert.Equal(t, "2", ver)
}

func TestVersionedCacheListenPurgesPeers(t *testing.T) {
	a, b, _ := setupSharedCaches(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.Listen(ctx))

	_, err := b.Effective(ctx, 1, func(context.Context) ([]string, error) { return []string{"x.y"}, nil })
	require.NoError(t, err)
	require.Equal(t, 1, b.Len())

	require.NoError(t, a.Invalidate(ctx))
	assert.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, 10*time.Millisecond)
}
