package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"prompt-coach/internal/domain"
)

// RateLimiter enforces fixed-window quotas per user and per guild. Counters
// live in the cache's Redis and share its health state. When Redis is down
// every call is allowed.
type RateLimiter struct {
	cache  *Cache
	limits map[domain.Feature]domain.FeatureLimits
}

func NewRateLimiter(cache *Cache, limits map[domain.Feature]domain.FeatureLimits) *RateLimiter {
	return &RateLimiter{cache: cache, limits: limits}
}

// CheckAndConsume counts one invocation against both windows and reports
// whether both are still within their maxima. A denied call still counts.
func (l *RateLimiter) CheckAndConsume(ctx context.Context, feature domain.Feature, userID, guildID string) bool {
	limits, ok := l.limits[feature]
	if !ok {
		return true
	}
	if !l.cache.available(ctx) {
		slog.Warn("rate limiting disabled, redis unavailable", "feature", feature, "user", userID, "guild", guildID)
		return true
	}

	userKey := counterKey(feature, "user", userID)
	guildKey := counterKey(feature, "guild", guildID)

	var userCount, guildCount *redis.IntCmd
	_, err := l.cache.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		userCount = pipe.Incr(ctx, userKey)
		pipe.Expire(ctx, userKey, limits.PerUser.Window)
		guildCount = pipe.Incr(ctx, guildKey)
		pipe.Expire(ctx, guildKey, limits.PerGuild.Window)
		return nil
	})
	if err != nil {
		if callerGone(ctx, err) {
			slog.Debug("rate limit check abandoned by caller", "feature", feature, "error", err)
			return true
		}
		l.cache.markDown("rate_limit", err)
		slog.Warn("rate limit check failed, allowing request", "feature", feature, "error", err)
		return true
	}

	allowed := userCount.Val() <= int64(limits.PerUser.Max) && guildCount.Val() <= int64(limits.PerGuild.Max)
	if !allowed {
		slog.Debug("rate limit exceeded", "feature", feature, "user", userID, "guild", guildID,
			"user_count", userCount.Val(), "guild_count", guildCount.Val())
	}
	return allowed
}

func counterKey(feature domain.Feature, scope, id string) string {
	return "rate_limit:" + string(feature) + ":" + scope + ":" + id
}
