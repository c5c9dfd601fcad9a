package app

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SessionRegistry holds at most one active payload per scope key for this
// process. It mirrors persisted state and is not shared across instances.
type SessionRegistry[T any] struct {
	name     string
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]sessionEntry[T]
}

type sessionEntry[T any] struct {
	payload   T
	createdAt time.Time
}

// NewSessionRegistry creates a registry whose entries expire after maxAge and
// are swept every interval once Start is called.
func NewSessionRegistry[T any](name string, maxAge, interval time.Duration) *SessionRegistry[T] {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SessionRegistry[T]{
		name:     name,
		maxAge:   maxAge,
		interval: interval,
		now:      time.Now,
		entries:  make(map[string]sessionEntry[T]),
	}
}

// SetActive replaces whatever was active for key. Last writer wins.
func (r *SessionRegistry[T]) SetActive(key string, payload T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = sessionEntry[T]{payload: payload, createdAt: r.now()}
}

// GetActive returns the payload for key unless it is missing or older than maxAge.
func (r *SessionRegistry[T]) GetActive(key string) (T, bool) {
	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok || r.expired(entry, r.now()) {
		var zero T
		return zero, false
	}
	return entry.payload, true
}

func (r *SessionRegistry[T]) Clear(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}

// Len reports the number of entries, expired or not.
func (r *SessionRegistry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Sweep evicts expired entries and returns how many were removed.
func (r *SessionRegistry[T]) Sweep() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, entry := range r.entries {
		if r.expired(entry, now) {
			delete(r.entries, key)
			removed++
		}
	}
	return removed
}

// Start runs the sweep loop until ctx is done.
func (r *SessionRegistry[T]) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.Sweep(); n > 0 {
					slog.Info("evicted stale sessions", "registry", r.name, "count", n)
				}
			}
		}
	}()
}

func (r *SessionRegistry[T]) expired(entry sessionEntry[T], now time.Time) bool {
	return r.maxAge > 0 && now.Sub(entry.createdAt) >= r.maxAge
}
