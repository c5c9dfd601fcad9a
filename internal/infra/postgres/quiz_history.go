package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"prompt-coach/internal/domain"
)

// PoolConfig bounds the connection pool. AcquireTimeout caps how long
// opening a pooled connection may take.
type PoolConfig struct {
	URL            string
	MaxConns       int32
	AcquireTimeout time.Duration
}

// NewPool opens a bounded pgx pool and verifies connectivity.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	pgCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.ConnectConfig(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func poolConfig(cfg PoolConfig) (*pgxpool.Config, error) {
	pgCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pgCfg.MaxConns = cfg.MaxConns
	} else {
		pgCfg.MaxConns = 20
	}
	pgCfg.MaxConnIdleTime = 30 * time.Second
	if cfg.AcquireTimeout > 0 {
		pgCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	return pgCfg, nil
}

// QuizHistory stores quiz results in the quiz_history table.
type QuizHistory struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewQuizHistory(pool *pgxpool.Pool, timeout time.Duration) *QuizHistory {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &QuizHistory{pool: pool, timeout: timeout}
}

func (h *QuizHistory) Insert(ctx context.Context, result domain.QuizResult) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var id int64
	err := h.pool.QueryRow(ctx, `
		INSERT INTO quiz_history (user_id, guild_id, category, score, total_questions, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		result.UserID, result.GuildID, result.Category, result.Score, result.TotalQuestions, result.Timestamp,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert quiz result: %w: %w", domain.ErrStorage, err)
	}
	return id, nil
}

func (h *QuizHistory) Leaderboard(ctx context.Context, guildID string, since time.Time, limit, offset int) ([]domain.LeaderboardEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	rows, err := h.pool.Query(ctx, `
		SELECT user_id,
		       COUNT(*) AS quizzes_taken,
		       AVG(score::float8 / total_questions) AS avg_score
		FROM quiz_history
		WHERE guild_id = $1
		  AND timestamp > $2
		GROUP BY user_id
		ORDER BY avg_score DESC, user_id ASC
		LIMIT $3 OFFSET $4`,
		guildID, since, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w: %w", domain.ErrStorage, err)
	}
	defer rows.Close()

	entries := make([]domain.LeaderboardEntry, 0, limit)
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.AttemptCount, &e.AvgScore); err != nil {
			return nil, fmt.Errorf("scan leaderboard: %w: %w", domain.ErrStorage, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read leaderboard: %w: %w", domain.ErrStorage, err)
	}
	return entries, nil
}

func (h *QuizHistory) UserStats(ctx context.Context, userID string, since time.Time) (map[string]domain.CategoryStats, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	rows, err := h.pool.Query(ctx, `
		SELECT category,
		       COUNT(*) AS attempts,
		       AVG(score::float8 / total_questions) AS avg_score
		FROM quiz_history
		WHERE user_id = $1
		  AND timestamp > $2
		GROUP BY category`,
		userID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query user stats: %w: %w", domain.ErrStorage, err)
	}
	defer rows.Close()

	stats := make(map[string]domain.CategoryStats)
	for rows.Next() {
		var category string
		var s domain.CategoryStats
		if err := rows.Scan(&category, &s.Attempts, &s.AvgScore); err != nil {
			return nil, fmt.Errorf("scan user stats: %w: %w", domain.ErrStorage, err)
		}
		stats[category] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read user stats: %w: %w", domain.ErrStorage, err)
	}
	return stats, nil
}

// DeleteBefore removes rows older than cutoff and refreshes the rankings view.
func (h *QuizHistory) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := h.pool.Exec(ctx, `DELETE FROM quiz_history WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired quiz results: %w: %w", domain.ErrStorage, err)
	}
	if err := h.RefreshRankings(ctx); err != nil {
		return tag.RowsAffected(), err
	}
	return tag.RowsAffected(), nil
}

// RefreshRankings rebuilds the user_rankings materialized view without blocking readers.
func (h *QuizHistory) RefreshRankings(ctx context.Context) error {
	if _, err := h.pool.Exec(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY user_rankings`); err != nil {
		return fmt.Errorf("refresh user_rankings: %w: %w", domain.ErrStorage, err)
	}
	return nil
}
