package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for malformed input; callers should not retry.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a referenced challenge or session does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNoActiveChallenge indicates the guild has no challenge inside the freshness window.
	ErrNoActiveChallenge = fmt.Errorf("no active challenge: %w", ErrNotFound)
	// ErrBackendUnavailable marks cache or rate-limiter backend failures. It is only logged.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrStorage wraps datastore query and connection failures.
	ErrStorage = errors.New("storage failure")
)
