package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"prompt-coach/internal/domain"
	"prompt-coach/internal/infra/memory"
)

type failingPurger struct{}

func (failingPurger) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestSweepRemovesExpiredRecords(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 11, 22, 0, 0, 0, 0, time.UTC)

	history := memory.NewQuizHistory()
	challenges := memory.NewChallengeStore()
	for _, age := range []time.Duration{6 * 24 * time.Hour, 5*24*time.Hour + time.Minute, time.Hour} {
		_, _ = history.Insert(ctx, domain.QuizResult{UserID: "u1", GuildID: "g1", Category: "c", Score: 1, TotalQuestions: 1, Timestamp: now.Add(-age)})
	}
	old := sampleChallenge("g1")
	old.Timestamp = now.Add(-6 * 24 * time.Hour)
	old.Solutions = []domain.Solution{{UserID: "u1", SolutionText: "x", Timestamp: now.Add(-6 * 24 * time.Hour)}}
	oldID, _ := challenges.Insert(ctx, old)
	fresh := sampleChallenge("g1")
	fresh.Timestamp = now.Add(-time.Hour)
	_, _ = challenges.Insert(ctx, fresh)

	s := NewSweeper(5*24*time.Hour, time.Hour,
		SweepTarget{Name: "broken", Purger: failingPurger{}},
		SweepTarget{Name: "quiz_history", Purger: history},
		SweepTarget{Name: "challenge_history", Purger: challenges},
	)
	s.now = func() time.Time { return now }

	deleted := s.Sweep(ctx)
	if deleted["quiz_history"] != 2 || deleted["challenge_history"] != 1 {
		t.Fatalf("unexpected deletions %+v", deleted)
	}
	if _, ok := deleted["broken"]; ok {
		t.Fatalf("failed target must not report a count")
	}
	if history.Len() != 1 {
		t.Fatalf("expected one recent result kept, got %d", history.Len())
	}
	if _, ok := challenges.Get(oldID); ok {
		t.Fatalf("expected expired challenge and its solutions removed")
	}

	again := s.Sweep(ctx)
	if again["quiz_history"] != 0 || again["challenge_history"] != 0 {
		t.Fatalf("expected idempotent sweep, got %+v", again)
	}
}

func TestSweeperStartRunsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	history := memory.NewQuizHistory()
	_, _ = history.Insert(ctx, domain.QuizResult{UserID: "u1", GuildID: "g1", Category: "c", Score: 1, TotalQuestions: 1, Timestamp: time.Now().Add(-10 * 24 * time.Hour)})

	NewSweeper(5*24*time.Hour, time.Hour, SweepTarget{Name: "quiz_history", Purger: history}).Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for history.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected startup sweep to remove the stale result")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
