package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Feature names a rate-limited bot feature.
type Feature string

const (
	FeatureQuiz      Feature = "quiz"
	FeatureChallenge Feature = "challenge"
)

// Limit is a fixed-window quota.
type Limit struct {
	Max    int
	Window time.Duration
}

// FeatureLimits holds the per-user and per-guild quotas of one feature.
type FeatureLimits struct {
	PerUser  Limit
	PerGuild Limit
}

// QuizResult is one completed quiz. Rows are append-only.
type QuizResult struct {
	ID             int64     `json:"id"`
	UserID         string    `json:"userId"`
	GuildID        string    `json:"guildId"`
	Category       string    `json:"category"`
	Score          int       `json:"score"`
	TotalQuestions int       `json:"totalQuestions"`
	Timestamp      time.Time `json:"timestamp"`
}

// Validate checks the score bounds and required identities.
func (r QuizResult) Validate() error {
	if r.UserID == "" || r.GuildID == "" {
		return fmt.Errorf("%w: user and guild are required", ErrValidation)
	}
	if strings.TrimSpace(r.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrValidation)
	}
	if r.TotalQuestions < 1 {
		return fmt.Errorf("%w: total questions must be positive, got %d", ErrValidation, r.TotalQuestions)
	}
	if r.Score < 0 || r.Score > r.TotalQuestions {
		return fmt.Errorf("%w: score %d outside [0, %d]", ErrValidation, r.Score, r.TotalQuestions)
	}
	return nil
}

// LeaderboardEntry aggregates a user's attempts inside the retention window.
type LeaderboardEntry struct {
	UserID       string  `json:"userId"`
	AttemptCount int64   `json:"attemptCount"`
	AvgScore     float64 `json:"avgScore"` // mean of score/totalQuestions
}

// CategoryStats aggregates a user's attempts for a single category.
type CategoryStats struct {
	Attempts int64   `json:"attempts"`
	AvgScore float64 `json:"avgScore"`
}

// Solution is a user's answer to a challenge. It lives inside its Challenge.
type Solution struct {
	UserID        string    `json:"userId" bson:"user_id"`
	Username      string    `json:"username" bson:"username"`
	SolutionText  string    `json:"solution" bson:"solution"`
	ModelResponse string    `json:"modelResponse" bson:"model_response"`
	Evaluation    string    `json:"evaluation" bson:"evaluation"`
	Timestamp     time.Time `json:"timestamp" bson:"timestamp"`
}

// Validate checks the fields a submission must carry.
func (s Solution) Validate() error {
	if s.UserID == "" {
		return fmt.Errorf("%w: solution user is required", ErrValidation)
	}
	if strings.TrimSpace(s.SolutionText) == "" {
		return fmt.Errorf("%w: solution text is required", ErrValidation)
	}
	return nil
}

// Challenge is a generated prompt-engineering challenge for a guild.
type Challenge struct {
	ID          string         `json:"id"`
	GuildID     string         `json:"guildId"`
	CreatedBy   string         `json:"createdBy,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Tips        []string       `json:"tips"`
	Category    string         `json:"category"`
	Difficulty  int            `json:"difficulty,omitempty"` // 0 when unset, else 1..5
	Behavior    map[string]any `json:"behavior,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Solutions   []Solution     `json:"solutions"`
}

// Validate checks required fields and the difficulty range.
func (c Challenge) Validate() error {
	switch {
	case c.GuildID == "":
		return fmt.Errorf("%w: challenge guild is required", ErrValidation)
	case strings.TrimSpace(c.Title) == "":
		return fmt.Errorf("%w: challenge title is required", ErrValidation)
	case strings.TrimSpace(c.Description) == "":
		return fmt.Errorf("%w: challenge description is required", ErrValidation)
	case strings.TrimSpace(c.Category) == "":
		return fmt.Errorf("%w: challenge category is required", ErrValidation)
	case c.Difficulty < 0 || c.Difficulty > 5:
		return fmt.Errorf("%w: difficulty %d outside [1, 5]", ErrValidation, c.Difficulty)
	}
	return nil
}

// QuizSession tracks a quiz a member is currently taking.
type QuizSession struct {
	ID              string    `json:"id"`
	GuildID         string    `json:"guildId"`
	UserID          string    `json:"userId"`
	Category        string    `json:"category"`
	TotalQuestions  int       `json:"totalQuestions"`
	CurrentQuestion int       `json:"currentQuestion"`
	Score           int       `json:"score"`
	StartedAt       time.Time `json:"startedAt"`
}

// NewQuizSession starts a session with a fresh id.
func NewQuizSession(guildID, userID, category string, totalQuestions int, now time.Time) QuizSession {
	return QuizSession{
		ID:             uuid.NewString(),
		GuildID:        guildID,
		UserID:         userID,
		Category:       category,
		TotalQuestions: totalQuestions,
		StartedAt:      now,
	}
}

// Result converts a finished session into a persistable QuizResult.
func (s QuizSession) Result(now time.Time) QuizResult {
	return QuizResult{
		UserID:         s.UserID,
		GuildID:        s.GuildID,
		Category:       s.Category,
		Score:          s.Score,
		TotalQuestions: s.TotalQuestions,
		Timestamp:      now,
	}
}

// GuildScope keys guild-wide sessions such as the active challenge.
func GuildScope(guildID string) string {
	return "guild:" + guildID
}

// MemberScope keys per-member sessions such as a running quiz.
func MemberScope(guildID, userID string) string {
	return "guild:" + guildID + ":user:" + userID
}
