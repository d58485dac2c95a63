package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRetentionInterval is how often the retention worker sweeps.
const DefaultRetentionInterval = 5 * time.Minute

// RetentionConfig controls the retention worker.
type RetentionConfig struct {
	// Retention is the age after which exchanges are pruned.
	Retention time.Duration
	// UserIdle is the inactivity after which users without exchanges are pruned.
	// Zero uses Retention.
	UserIdle time.Duration
	// Interval between sweeps. Zero uses DefaultRetentionInterval.
	Interval time.Duration
}

// StartRetentionWorker runs a background goroutine that periodically prunes
// old exchanges and idle users. The returned channel is closed once the
// worker has stopped after ctx is done.
func StartRetentionWorker(ctx context.Context, repo Repository, cfg RetentionConfig) <-chan struct{} {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRetentionInterval
	}
	if cfg.UserIdle <= 0 {
		cfg.UserIdle = cfg.Retention
	}

	done := make(chan struct{})
	ticker := time.NewTicker(cfg.Interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", cfg.Interval, "retention", cfg.Retention)

		for {
			select {
			case <-ticker.C:
				Sweep(ctx, repo, cfg, time.Now())
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

// Sweep performs one retention pass relative to now.
func Sweep(ctx context.Context, repo Repository, cfg RetentionConfig, now time.Time) {
	if cfg.Retention <= 0 {
		return
	}
	if cfg.UserIdle <= 0 {
		cfg.UserIdle = cfg.Retention
	}

	exchanges, err := repo.DeleteExchangesBefore(ctx, now.Add(-cfg.Retention))
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Retention worker: context canceled during sweep", "error", err)
			return
		}
		slog.Error("Retention worker failed to prune exchanges", "error", err)
		return
	}

	users, err := repo.DeleteUsersNotSeenSince(ctx, now.Add(-cfg.UserIdle))
	if err != nil {
		slog.Error("Retention worker failed to prune idle users", "error", err)
		return
	}

	if exchanges > 0 || users > 0 {
		slog.Info("Retention worker cleanup completed", "exchanges", exchanges, "users", users)
	}
}
