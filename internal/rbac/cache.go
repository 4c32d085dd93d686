package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	cacheVersionKey = "rbac:perm_version"
	bumpChannel     = "rbac.bump"
)

// PermissionCache memoises effective permission names per identity.
// Invalidate must be called synchronously after every write to roles,
// permissions or their assignments.
type PermissionCache interface {
	Effective(ctx context.Context, userID int64, load func(context.Context) ([]string, error)) ([]string, error)
	Invalidate(ctx context.Context) error
}

// VersionedCache keys a per-process LRU by a monotonic version counter held
// in Redis. Any instance bumping the counter makes every instance miss on
// its next lookup. Without a Redis client the counter is process-local.
type VersionedCache struct {
	client *redis.Client
	local  atomic.Int64
	memo   *lru.Cache[string, []string]
	group  singleflight.Group
	logger *slog.Logger
}

// NewVersionedCache constructs the cache. size bounds the per-process memo.
func NewVersionedCache(client *redis.Client, size int, logger *slog.Logger) (*VersionedCache, error) {
	if size <= 0 {
		size = 1024
	}
	memo, err := lru.New[string, []string](size)
	if err != nil {
		return nil, fmt.Errorf("rbac: cache: %w", err)
	}
	c := &VersionedCache{client: client, memo: memo, logger: logger}
	c.local.Store(1)
	return c, nil
}

// Version returns the current shared version, initialising it when missing.
func (c *VersionedCache) Version(ctx context.Context) (int64, error) {
	if c.client == nil {
		return c.local.Load(), nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Effective returns cached names for userID or loads them once per version.
// Concurrent callers share one load, which ignores any single caller's
// cancellation.
func (c *VersionedCache) Effective(ctx context.Context, userID int64, load func(context.Context) ([]string, error)) ([]string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("rbac: cache version: %w", err)
	}
	key := strconv.FormatInt(ver, 10) + ":" + strconv.FormatInt(userID, 10)
	if names, ok := c.memo.Get(key); ok {
		return clone(names), nil
	}
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(key, func() (any, error) {
		names, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.memo.Add(key, clone(names))
		return names, nil
	})
	if err != nil {
		return nil, err
	}
	return clone(v.([]string)), nil
}

// Invalidate bumps the version and broadcasts the bump to peers.
func (c *VersionedCache) Invalidate(ctx context.Context) error {
	c.memo.Purge()
	if c.client == nil {
		c.local.Add(1)
		return nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return fmt.Errorf("rbac: bump cache version: %w", err)
	}
	if err := c.client.Publish(ctx, bumpChannel, strconv.FormatInt(ver, 10)).Err(); err != nil && c.logger != nil {
		c.logger.Warn("rbac cache bump publish", slog.Any("error", err))
	}
	return nil
}

// Listen purges the local memo whenever a peer bumps the version. Entries
// keyed by an old version are unreachable anyway; this only frees memory.
func (c *VersionedCache) Listen(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, bumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("rbac: subscribe: %w", err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				c.memo.Purge()
			}
		}
	}()
	return nil
}

// Len reports the number of memoised identities.
func (c *VersionedCache) Len() int {
	return c.memo.Len()
}

func clone(names []string) []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}

var _ PermissionCache = (*VersionedCache)(nil)
