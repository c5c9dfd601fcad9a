package app

import (
	"context"
	"time"

	"prompt-coach/internal/domain"
)

// QuizHistoryRepository persists quiz results (Postgres, in-memory, etc).
// Writes are single statements; nothing here spans the challenge store.
type QuizHistoryRepository interface {
	Insert(ctx context.Context, result domain.QuizResult) (int64, error)
	Leaderboard(ctx context.Context, guildID string, since time.Time, limit, offset int) ([]domain.LeaderboardEntry, error)
	UserStats(ctx context.Context, userID string, since time.Time) (map[string]domain.CategoryStats, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// QuizService records quiz results and serves cached aggregates over them.
type QuizService struct {
	history   QuizHistoryRepository
	retention time.Duration
	cacheTTL  time.Duration
	now       func() time.Time
	reads     *readThrough
}

func NewQuizService(history QuizHistoryRepository, cache Cache, retention, cacheTTL time.Duration) *QuizService {
	return &QuizService{
		history:   history,
		retention: retention,
		cacheTTL:  cacheTTL,
		now:       time.Now,
		reads:     newReadThrough(cache),
	}
}

// Record validates and appends a result, then invalidates the guild
// leaderboard pages and the user's stats.
func (s *QuizService) Record(ctx context.Context, result domain.QuizResult) (int64, error) {
	if err := result.Validate(); err != nil {
		return 0, err
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = s.now()
	}

	id, err := s.history.Insert(ctx, result)
	if err != nil {
		return 0, err
	}

	s.reads.invalidatePrefix(ctx, leaderboardPrefix(result.GuildID))
	statsKey := userStatsKey(result.UserID)
	s.reads.invalidate(ctx, statsKey, statsKey)
	return id, nil
}

// Leaderboard ranks a guild's members by average score over the retention window.
func (s *QuizService) Leaderboard(ctx context.Context, guildID string, page, pageSize int) ([]domain.LeaderboardEntry, error) {
	limit, offset, err := pageBounds(page, pageSize)
	if err != nil {
		return nil, err
	}
	return cacheAside(ctx, s.reads, leaderboardPrefix(guildID), leaderboardKey(guildID, page, pageSize), s.cacheTTL, func(ctx context.Context) ([]domain.LeaderboardEntry, error) {
		entries, err := s.history.Leaderboard(ctx, guildID, s.windowStart(), limit, offset)
		if entries == nil && err == nil {
			entries = []domain.LeaderboardEntry{}
		}
		return entries, err
	})
}

// UserStats summarizes a user's attempts per category over the retention window.
func (s *QuizService) UserStats(ctx context.Context, userID string) (map[string]domain.CategoryStats, error) {
	key := userStatsKey(userID)
	return cacheAside(ctx, s.reads, key, key, s.cacheTTL, func(ctx context.Context) (map[string]domain.CategoryStats, error) {
		stats, err := s.history.UserStats(ctx, userID, s.windowStart())
		if stats == nil && err == nil {
			stats = map[string]domain.CategoryStats{}
		}
		return stats, err
	})
}

func (s *QuizService) windowStart() time.Time {
	return s.now().Add(-s.retention)
}
