package domain

import (
	"errors"
	"testing"
	"time"
)

func TestQuizResultValidate(t *testing.T) {
	valid := QuizResult{UserID: "u", GuildID: "g", Category: "c", Score: 3, TotalQuestions: 3}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}

	invalid := map[string]QuizResult{
		"score above total": {UserID: "u", GuildID: "g", Category: "c", Score: 4, TotalQuestions: 3},
		"negative score":    {UserID: "u", GuildID: "g", Category: "c", Score: -1, TotalQuestions: 3},
		"no questions":      {UserID: "u", GuildID: "g", Category: "c"},
		"blank category":    {UserID: "u", GuildID: "g", Category: " ", Score: 1, TotalQuestions: 1},
		"missing guild":     {UserID: "u", Category: "c", Score: 1, TotalQuestions: 1},
	}
	for name, r := range invalid {
		if err := r.Validate(); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestChallengeValidateDifficulty(t *testing.T) {
	c := Challenge{GuildID: "g", Title: "t", Description: "d", Category: "c", Difficulty: 6}
	if err := c.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected difficulty rejected, got %v", err)
	}
	c.Difficulty = 0
	if err := c.Validate(); err != nil {
		t.Fatalf("expected unset difficulty accepted, got %v", err)
	}
}

func TestQuizSessionResult(t *testing.T) {
	started := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	s := NewQuizSession("g", "u", "basics", 5, started)
	if s.ID == "" || s.StartedAt != started {
		t.Fatalf("unexpected session %+v", s)
	}
	s.Score = 4
	r := s.Result(started.Add(time.Minute))
	if err := r.Validate(); err != nil {
		t.Fatalf("expected valid result, got %v", err)
	}
	if r.Score != 4 || r.TotalQuestions != 5 || MemberScope("g", "u") != "guild:g:user:u" {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestNoActiveChallengeIsNotFound(t *testing.T) {
	if !errors.Is(ErrNoActiveChallenge, ErrNotFound) {
		t.Fatalf("expected ErrNoActiveChallenge to wrap ErrNotFound")
	}
}
