package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"prompt-coach/internal/domain"
)

// Cache is a Redis-backed app.Cache. Every backend failure disables it; while
// disabled, operations are skipped and at most one PING per probe interval
// checks whether the backend is back.
type Cache struct {
	client     *redis.Client
	probeEvery time.Duration
	now        func() time.Time

	enabled   atomic.Bool
	lastProbe atomic.Int64 // unix nanos

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// NewCache pings the backend once; an unreachable backend yields a disabled cache, not an error.
func NewCache(ctx context.Context, client *redis.Client, probeEvery time.Duration) *Cache {
	if probeEvery <= 0 {
		probeEvery = 30 * time.Second
	}
	c := &Cache{
		client:     client,
		probeEvery: probeEvery,
		now:        time.Now,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	c.lastProbe.Store(c.now().UnixNano())
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, continuing without cache", "error", err)
		return c
	}
	c.enabled.Store(true)
	slog.Info("redis connected", "addr", client.Options().Addr)
	return c
}

// Enabled reports the current health state.
func (c *Cache) Enabled() bool {
	return c.enabled.Load()
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if !c.available(ctx) {
		slog.Warn("cache disabled, treating as miss", "key", key)
		return nil, false
	}
	value, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.fail(ctx, "get", err)
		return nil, false
	}
	return value, true
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if !c.available(ctx) {
		return
	}
	if err := c.client.Set(ctx, key, value, c.ttlWithJitter(ttl)).Err(); err != nil {
		c.fail(ctx, "set", err)
	}
}

func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 || !c.available(ctx) {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.fail(ctx, "delete", err)
	}
}

// DeletePrefix removes every key starting with prefix using SCAN, so it never blocks Redis.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) {
	if !c.available(ctx) {
		return
	}
	pattern := prefix + "*"
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.fail(ctx, "scan", err)
			return
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.fail(ctx, "delete", err)
				return
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// available reports whether the backend may be used, probing it when the
// cache is disabled and the probe interval has elapsed.
func (c *Cache) available(ctx context.Context) bool {
	if c.enabled.Load() {
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	now := c.now().UnixNano()
	last := c.lastProbe.Load()
	if time.Duration(now-last) < c.probeEvery {
		return false
	}
	if !c.lastProbe.CompareAndSwap(last, now) {
		return false
	}
	if err := c.client.Ping(ctx).Err(); err != nil {
		slog.Debug("redis still unavailable", "error", err)
		return false
	}
	if c.enabled.CompareAndSwap(false, true) {
		slog.Info("redis reachable again, cache re-enabled")
	}
	return true
}

// fail records a backend error. A failure caused by the caller's own context
// ending says nothing about Redis and leaves the health state alone.
func (c *Cache) fail(ctx context.Context, op string, err error) {
	if callerGone(ctx, err) {
		slog.Debug("redis call abandoned by caller", "op", op, "error", err)
		return
	}
	c.markDown(op, err)
}

func callerGone(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled)
}

func (c *Cache) markDown(op string, err error) {
	c.lastProbe.Store(c.now().UnixNano())
	if c.enabled.CompareAndSwap(true, false) {
		slog.Warn("redis operation failed, cache disabled", "op", op,
			"error", fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, err))
	}
}

func (c *Cache) ttlWithJitter(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	jitterMax := int64(ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
