package alert

import (
	"context"
	"log/slog"
	"time"
)

// ReaperConfig holds configuration for the stale alert reaper.
type ReaperConfig struct {
	// Interval is how often the reaper scans for stale alerts.
	Interval time.Duration

	// StaleThreshold is how long an alert can stay shown before the reaper
	// closes it.
	StaleThreshold time.Duration

	// BatchSize is the maximum number of stale alerts to close per cycle.
	BatchSize int
}

// Reaper periodically closes alerts that are still marked shown long after
// their dismiss task should have run, e.g. because Redis lost the task.
// The alert log is the source of truth; the reaper reconciles hosts with it.
type Reaper struct {
	store     LogStore
	publisher EventPublisher
	config    ReaperConfig
}

// NewReaper creates a new stale alert reaper.
func NewReaper(store LogStore, publisher EventPublisher, cfg ReaperConfig) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}

	return &Reaper{
		store:     store,
		publisher: publisher,
		config:    cfg,
	}
}

// Run starts the reaper loop. It blocks until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	slog.Info("reaper started",
		"interval", r.config.Interval,
		"stale_threshold", r.config.StaleThreshold,
		"batch_size", r.config.BatchSize,
	)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one reaper cycle and returns how many alerts it expired.
func (r *Reaper) Sweep(ctx context.Context) int {
	olderThan := time.Now().Add(-r.config.StaleThreshold)

	stale, err := r.store.ListStale(ctx, olderThan, r.config.BatchSize)
	if err != nil {
		slog.Error("reaper: failed to list stale alerts", "error", err)
		return 0
	}

	if len(stale) == 0 {
		return 0
	}

	slog.Warn("reaper: found stale alerts", "count", len(stale))

	expired := 0
	for _, alertLog := range stale {
		if err := r.publisher.Publish(ctx, alertLog.SessionID, Event{
			Type:    EventDismiss,
			AlertID: alertLog.ID,
			Tag:     alertLog.Tag,
		}); err != nil {
			slog.Error("reaper: failed to publish dismiss",
				"alert_id", alertLog.ID,
				"error", err,
			)
			continue
		}

		if err := r.store.UpdateStatus(ctx, alertLog.ID, StatusExpired, ""); err != nil {
			slog.Error("reaper: failed to mark alert expired",
				"alert_id", alertLog.ID,
				"error", err,
			)
			continue
		}

		expired++
		slog.Info("reaper: expired stale alert",
			"alert_id", alertLog.ID,
			"session_id", alertLog.SessionID,
			"age", time.Since(alertLog.UpdatedAt).Round(time.Second),
		)
	}

	if expired > 0 {
		slog.Info("reaper: sweep complete", "expired", expired, "total_stale", len(stale))
	}
	return expired
}
