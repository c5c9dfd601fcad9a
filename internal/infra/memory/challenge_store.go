package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"prompt-coach/internal/domain"
)

// ChallengeStore is an in-memory app.ChallengeRepository for tests and demos.
type ChallengeStore struct {
	mu         sync.RWMutex
	nextID     int
	challenges map[string]domain.Challenge
}

func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{challenges: make(map[string]domain.Challenge)}
}

func (s *ChallengeStore) Insert(_ context.Context, challenge domain.Challenge) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	challenge.ID = "challenge-" + strconv.Itoa(s.nextID)
	challenge.Tips = append([]string(nil), challenge.Tips...)
	challenge.Solutions = append([]domain.Solution(nil), challenge.Solutions...)
	s.challenges[challenge.ID] = challenge
	return challenge.ID, nil
}

func (s *ChallengeStore) PushSolution(_ context.Context, challengeID string, solution domain.Solution) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	challenge, ok := s.challenges[challengeID]
	if !ok {
		return "", fmt.Errorf("challenge %q: %w", challengeID, domain.ErrNotFound)
	}
	challenge.Solutions = append(challenge.Solutions, solution)
	s.challenges[challengeID] = challenge
	return challenge.GuildID, nil
}

func (s *ChallengeStore) LatestSince(_ context.Context, guildID string, since time.Time) (domain.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *domain.Challenge
	for id := range s.challenges {
		c := s.challenges[id]
		if c.GuildID != guildID || !c.Timestamp.After(since) {
			continue
		}
		if latest == nil || c.Timestamp.After(latest.Timestamp) {
			latest = &c
		}
	}
	if latest == nil {
		return domain.Challenge{}, domain.ErrNotFound
	}
	out := *latest
	out.Solutions = append([]domain.Solution(nil), latest.Solutions...)
	return out, nil
}

func (s *ChallengeStore) Solutions(_ context.Context, challengeID string, limit, offset int) ([]domain.Solution, error) {
	s.mu.RLock()
	challenge, ok := s.challenges[challengeID]
	s.mu.RUnlock()
	if !ok {
		return []domain.Solution{}, nil
	}
	solutions := append([]domain.Solution(nil), challenge.Solutions...)
	sort.SliceStable(solutions, func(i, j int) bool {
		return solutions[i].Timestamp.After(solutions[j].Timestamp)
	})
	return window(solutions, limit, offset), nil
}

func (s *ChallengeStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, c := range s.challenges {
		if c.Timestamp.Before(cutoff) {
			delete(s.challenges, id)
			removed++
		}
	}
	return removed, nil
}

// Get returns a stored challenge by id.
func (s *ChallengeStore) Get(challengeID string) (domain.Challenge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.challenges[challengeID]
	return c, ok
}
