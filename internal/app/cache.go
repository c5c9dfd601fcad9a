package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"prompt-coach/internal/domain"
)

// Cache is a best-effort key/value store. Implementations swallow backend
// failures: Get reports a miss and Set/Delete become no-ops.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, keys ...string)
	DeletePrefix(ctx context.Context, prefix string)
}

// RateLimiter decides whether a feature invocation fits the caller's quota.
type RateLimiter interface {
	CheckAndConsume(ctx context.Context, feature domain.Feature, userID, guildID string) bool
}

// AllowAll is the degraded limiter used when no counter backend is configured.
type AllowAll struct{}

func (AllowAll) CheckAndConsume(context.Context, domain.Feature, string, string) bool {
	return true
}

// loadTimeout bounds a shared cache-miss load. It runs detached from the
// first caller so one caller giving up does not fail the others.
const loadTimeout = 10 * time.Second

// readThrough serves cache-aside reads and counts invalidations per scope
// (a key or a key prefix). A load that overlaps an invalidation of its scope
// must not leave its result behind in the cache.
type readThrough struct {
	cache Cache
	sf    singleflight.Group

	mu   sync.Mutex
	gens map[string]uint64
}

func newReadThrough(cache Cache) *readThrough {
	return &readThrough{cache: cache, gens: make(map[string]uint64)}
}

func (r *readThrough) generation(scope string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gens[scope]
}

func (r *readThrough) bump(scope string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gens[scope]++
}

// invalidate drops cached keys belonging to scope.
func (r *readThrough) invalidate(ctx context.Context, scope string, keys ...string) {
	r.bump(scope)
	r.cache.Delete(ctx, keys...)
}

// invalidatePrefix drops every cached key under prefix, which is also the scope.
func (r *readThrough) invalidatePrefix(ctx context.Context, prefix string) {
	r.bump(prefix)
	r.cache.DeletePrefix(ctx, prefix)
}

// cacheAside serves key from the cache or loads it, coalescing concurrent
// misses of the same scope generation. Errors from load are returned as-is
// and never cached.
func cacheAside[T any](ctx context.Context, r *readThrough, scope, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var zero T
	if raw, ok := r.cache.Get(ctx, key); ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		slog.Warn("dropping undecodable cache entry", "key", key)
		r.cache.Delete(ctx, key)
	}

	gen := r.generation(scope)
	flight := key + "#" + strconv.FormatUint(gen, 10)
	ch := r.sf.DoChan(flight, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		v, err := load(loadCtx)
		if err != nil {
			return v, err
		}
		if raw, err := json.Marshal(v); err == nil {
			r.cache.Set(loadCtx, key, raw, ttl)
			// An invalidation may have landed between the load and the Set.
			if r.generation(scope) != gen {
				r.cache.Delete(loadCtx, key)
			}
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func leaderboardPrefix(guildID string) string {
	return "quiz:leaderboard:" + guildID + ":"
}

func leaderboardKey(guildID string, page, pageSize int) string {
	return leaderboardPrefix(guildID) + strconv.Itoa(page) + ":" + strconv.Itoa(pageSize)
}

func userStatsKey(userID string) string {
	return "quiz:user:" + userID + ":stats"
}

func activeChallengeKey(guildID string) string {
	return "challenge:active:" + guildID
}

func solutionsPrefix(challengeID string) string {
	return "challenge:solutions:" + challengeID + ":"
}

func solutionsKey(challengeID string, page, pageSize int) string {
	return solutionsPrefix(challengeID) + strconv.Itoa(page) + ":" + strconv.Itoa(pageSize)
}

const maxPageSize = 100

// pageBounds converts a 1-based page into LIMIT/OFFSET.
func pageBounds(page, pageSize int) (limit, offset int, err error) {
	if page < 1 {
		return 0, 0, fmt.Errorf("%w: page must be >= 1, got %d", domain.ErrValidation, page)
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return 0, 0, fmt.Errorf("%w: page size must be in [1, %d], got %d", domain.ErrValidation, maxPageSize, pageSize)
	}
	return pageSize, (page - 1) * pageSize, nil
}
