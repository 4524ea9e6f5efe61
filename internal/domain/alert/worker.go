package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Worker processes delayed alert tasks from the queue.
// It closes alerts that are still up when their dismiss task comes due.
type Worker struct {
	store     LogStore
	publisher EventPublisher
}

// NewWorker creates a new alert worker.
func NewWorker(store LogStore, publisher EventPublisher) *Worker {
	return &Worker{
		store:     store,
		publisher: publisher,
	}
}

// ProcessDismiss handles a dismiss task. Alerts the viewer already closed or
// clicked are left alone.
func (w *Worker) ProcessDismiss(ctx context.Context, p *DismissAlertPayload) error {
	start := time.Now()

	alertLog, err := w.store.GetByID(ctx, p.AlertID)
	if err != nil {
		return fmt.Errorf("fetching alert log %s: %w", p.AlertID, err)
	}

	if alertLog == nil {
		slog.Warn("alert log not found, dismissing anyway", "alert_id", p.AlertID)
	} else if alertLog.Status != StatusShown {
		slog.Debug("alert already closed", "alert_id", p.AlertID, "status", alertLog.Status)
		return nil
	}

	if err := w.publisher.Publish(ctx, p.SessionID, Event{
		Type:    EventDismiss,
		AlertID: p.AlertID,
		Tag:     p.Tag,
	}); err != nil {
		return fmt.Errorf("publishing dismiss for alert %s: %w", p.AlertID, err)
	}

	if alertLog != nil {
		if err := w.store.UpdateStatus(ctx, p.AlertID, StatusDismissed, ""); err != nil {
			slog.Error("failed to update status to dismissed", "alert_id", p.AlertID, "error", err)
		}
	}

	slog.Info("alert auto-dismissed",
		"alert_id", p.AlertID,
		"session_id", p.SessionID,
		"tag", p.Tag,
		"duration", time.Since(start),
	)

	return nil
}
