package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"prompt-coach/internal/domain"
)

// QuizHistory is an in-memory app.QuizHistoryRepository for tests and demos.
type QuizHistory struct {
	mu      sync.RWMutex
	nextID  int64
	results []domain.QuizResult
}

func NewQuizHistory() *QuizHistory {
	return &QuizHistory{}
}

func (h *QuizHistory) Insert(_ context.Context, result domain.QuizResult) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	result.ID = h.nextID
	h.results = append(h.results, result)
	return result.ID, nil
}

func (h *QuizHistory) Leaderboard(_ context.Context, guildID string, since time.Time, limit, offset int) ([]domain.LeaderboardEntry, error) {
	h.mu.RLock()
	type agg struct {
		count int64
		sum   float64
	}
	byUser := make(map[string]*agg)
	for _, r := range h.results {
		if r.GuildID != guildID || !r.Timestamp.After(since) {
			continue
		}
		a, ok := byUser[r.UserID]
		if !ok {
			a = &agg{}
			byUser[r.UserID] = a
		}
		a.count++
		a.sum += float64(r.Score) / float64(r.TotalQuestions)
	}
	h.mu.RUnlock()

	entries := make([]domain.LeaderboardEntry, 0, len(byUser))
	for userID, a := range byUser {
		entries = append(entries, domain.LeaderboardEntry{
			UserID:       userID,
			AttemptCount: a.count,
			AvgScore:     a.sum / float64(a.count),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].AvgScore != entries[j].AvgScore {
			return entries[i].AvgScore > entries[j].AvgScore
		}
		return entries[i].UserID < entries[j].UserID
	})
	return window(entries, limit, offset), nil
}

func (h *QuizHistory) UserStats(_ context.Context, userID string, since time.Time) (map[string]domain.CategoryStats, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sums := make(map[string]float64)
	stats := make(map[string]domain.CategoryStats)
	for _, r := range h.results {
		if r.UserID != userID || !r.Timestamp.After(since) {
			continue
		}
		s := stats[r.Category]
		s.Attempts++
		sums[r.Category] += float64(r.Score) / float64(r.TotalQuestions)
		stats[r.Category] = s
	}
	for category, s := range stats {
		s.AvgScore = sums[category] / float64(s.Attempts)
		stats[category] = s
	}
	return stats, nil
}

func (h *QuizHistory) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.results[:0]
	var removed int64
	for _, r := range h.results {
		if r.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	h.results = kept
	return removed, nil
}

// Len reports the number of stored results.
func (h *QuizHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.results)
}

func window[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
