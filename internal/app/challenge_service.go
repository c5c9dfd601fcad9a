package app

import (
	"context"
	"errors"
	"time"

	"prompt-coach/internal/domain"
)

// ChallengeRepository persists challenges with their embedded solutions.
// Each call is atomic on its own; callers must not assume atomicity with the
// quiz history store.
type ChallengeRepository interface {
	Insert(ctx context.Context, challenge domain.Challenge) (string, error)
	// PushSolution appends to the challenge and returns its guild. It returns
	// domain.ErrNotFound when no challenge has that id.
	PushSolution(ctx context.Context, challengeID string, solution domain.Solution) (string, error)
	// LatestSince returns the newest challenge of the guild created after since,
	// or domain.ErrNotFound.
	LatestSince(ctx context.Context, guildID string, since time.Time) (domain.Challenge, error)
	// Solutions returns solutions newest first.
	Solutions(ctx context.Context, challengeID string, limit, offset int) ([]domain.Solution, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ChallengeService manages challenges and the per-guild active challenge.
type ChallengeService struct {
	store     ChallengeRepository
	active    *SessionRegistry[domain.Challenge]
	freshness time.Duration
	cacheTTL  time.Duration
	now       func() time.Time
	reads     *readThrough
}

func NewChallengeService(store ChallengeRepository, cache Cache, active *SessionRegistry[domain.Challenge], freshness, cacheTTL time.Duration) *ChallengeService {
	return &ChallengeService{
		store:     store,
		active:    active,
		freshness: freshness,
		cacheTTL:  cacheTTL,
		now:       time.Now,
		reads:     newReadThrough(cache),
	}
}

// Create stores a new challenge and makes it the guild's active one.
func (s *ChallengeService) Create(ctx context.Context, challenge domain.Challenge) (domain.Challenge, error) {
	if err := challenge.Validate(); err != nil {
		return domain.Challenge{}, err
	}
	challenge.Timestamp = s.now()
	if challenge.Tips == nil {
		challenge.Tips = []string{}
	}
	challenge.Solutions = []domain.Solution{}

	id, err := s.store.Insert(ctx, challenge)
	if err != nil {
		return domain.Challenge{}, err
	}
	challenge.ID = id

	activeKey := activeChallengeKey(challenge.GuildID)
	s.reads.invalidate(ctx, activeKey, activeKey)
	s.active.SetActive(domain.GuildScope(challenge.GuildID), challenge)
	return challenge, nil
}

// SubmitSolution appends a solution to an existing challenge.
func (s *ChallengeService) SubmitSolution(ctx context.Context, challengeID string, solution domain.Solution) error {
	if err := solution.Validate(); err != nil {
		return err
	}
	if solution.Timestamp.IsZero() {
		solution.Timestamp = s.now()
	}

	guildID, err := s.store.PushSolution(ctx, challengeID, solution)
	if err != nil {
		return err
	}

	s.reads.invalidatePrefix(ctx, solutionsPrefix(challengeID))
	activeKey := activeChallengeKey(guildID)
	s.reads.invalidate(ctx, activeKey, activeKey)
	// The registry copy no longer has every solution; let Current reload it.
	scope := domain.GuildScope(guildID)
	if current, ok := s.active.GetActive(scope); ok && current.ID == challengeID {
		s.active.Clear(scope)
	}
	return nil
}

// Active returns the newest challenge of the guild created within the
// freshness window, or domain.ErrNoActiveChallenge.
func (s *ChallengeService) Active(ctx context.Context, guildID string) (domain.Challenge, error) {
	key := activeChallengeKey(guildID)
	challenge, err := cacheAside(ctx, s.reads, key, key, s.cacheTTL, func(ctx context.Context) (domain.Challenge, error) {
		c, err := s.store.LatestSince(ctx, guildID, s.now().Add(-s.freshness))
		if errors.Is(err, domain.ErrNotFound) {
			return c, domain.ErrNoActiveChallenge
		}
		return c, err
	})
	if err != nil {
		return domain.Challenge{}, err
	}
	if !s.fresh(challenge) {
		return domain.Challenge{}, domain.ErrNoActiveChallenge
	}
	return challenge, nil
}

// Current consults the session registry first and falls back to the store,
// re-seeding the registry. After a restart the registry is rebuilt this way.
func (s *ChallengeService) Current(ctx context.Context, guildID string) (domain.Challenge, error) {
	scope := domain.GuildScope(guildID)
	if challenge, ok := s.active.GetActive(scope); ok && s.fresh(challenge) {
		return challenge, nil
	}
	challenge, err := s.Active(ctx, guildID)
	if err != nil {
		return domain.Challenge{}, err
	}
	s.active.SetActive(scope, challenge)
	return challenge, nil
}

// Solutions pages through a challenge's solutions, newest first.
func (s *ChallengeService) Solutions(ctx context.Context, challengeID string, page, pageSize int) ([]domain.Solution, error) {
	limit, offset, err := pageBounds(page, pageSize)
	if err != nil {
		return nil, err
	}
	return cacheAside(ctx, s.reads, solutionsPrefix(challengeID), solutionsKey(challengeID, page, pageSize), s.cacheTTL, func(ctx context.Context) ([]domain.Solution, error) {
		solutions, err := s.store.Solutions(ctx, challengeID, limit, offset)
		if solutions == nil && err == nil {
			solutions = []domain.Solution{}
		}
		return solutions, err
	})
}

func (s *ChallengeService) fresh(challenge domain.Challenge) bool {
	return challenge.Timestamp.After(s.now().Add(-s.freshness))
}
