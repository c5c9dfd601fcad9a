package app

import (
	"context"
	"log/slog"
	"time"
)

// Purger deletes records older than cutoff and reports how many went away.
type Purger interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SweepTarget names a store for logging.
type SweepTarget struct {
	Name   string
	Purger Purger
}

// Sweeper enforces the retention window across every target store.
type Sweeper struct {
	targets   []SweepTarget
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

func NewSweeper(retention, interval time.Duration, targets ...SweepTarget) *Sweeper {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Sweeper{
		targets:   targets,
		retention: retention,
		interval:  interval,
		now:       time.Now,
	}
}

// Start runs a sweep immediately and then once per interval until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Sweeper) run(ctx context.Context) {
	slog.Info("retention sweeper started", "interval", s.interval, "retention", s.retention)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep deletes everything older than now-retention. A failing target is
// logged and skipped; the next run retries it. The returned map holds the
// deleted count of each target that succeeded.
func (s *Sweeper) Sweep(ctx context.Context) map[string]int64 {
	cutoff := s.now().Add(-s.retention)
	deleted := make(map[string]int64, len(s.targets))

	for _, target := range s.targets {
		n, err := target.Purger.DeleteBefore(ctx, cutoff)
		if err != nil {
			slog.Error("retention sweep failed", "target", target.Name, "cutoff", cutoff, "error", err)
			continue
		}
		deleted[target.Name] = n
		if n > 0 {
			slog.Info("retention sweep removed records", "target", target.Name, "count", n, "cutoff", cutoff)
		} else {
			slog.Debug("retention sweep found nothing to remove", "target", target.Name)
		}
	}
	return deleted
}
