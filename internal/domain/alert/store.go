package alert

import (
	"context"
	"time"
)

// LogStore defines the contract for persisting alert audit records.
// Implementations live in infra/store/ (e.g., Supabase).
type LogStore interface {
	// Create inserts a new alert log. log.ID is set by the caller.
	Create(ctx context.Context, log *Log) error

	// GetByID retrieves an alert log by its ID. Returns nil, nil if not found.
	GetByID(ctx context.Context, id string) (*Log, error)

	// UpdateStatus moves an alert log to a new status.
	UpdateStatus(ctx context.Context, id string, status LogStatus, errMsg string) error

	// List retrieves alert logs with pagination and filtering.
	List(ctx context.Context, filter ListFilter) ([]*Log, int, error)

	// ListStale retrieves alerts still shown whose last update is older than olderThan.
	// Used by the reaper to close alerts whose dismiss task was lost.
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*Log, error)
}

// PermissionStore persists the last permission state each viewer's host reported.
type PermissionStore interface {
	// GetPermission returns the stored state, or PermissionDefault if none.
	GetPermission(ctx context.Context, viewerID string) (Permission, error)

	// SavePermission upserts the viewer's permission state.
	SavePermission(ctx context.Context, viewerID string, p Permission) error
}

// ViewerRateLimiter caps how many alerts one viewer may receive.
// Implementations live in infra/ratelimit/.
type ViewerRateLimiter interface {
	// Allow reports whether another alert may be delivered to viewerID.
	Allow(ctx context.Context, viewerID string) (bool, error)
}

// EventPublisher appends host commands to a session's event stream.
// Implementations live in infra/stream/.
type EventPublisher interface {
	Publish(ctx context.Context, sessionID string, event Event) error
}

// StreamedEvent is an event read back from a session's stream, with the
// stream position to resume after it.
type StreamedEvent struct {
	ID    string
	Event Event
}

// EventReader reads a session's event stream.
// Implementations live in infra/stream/.
type EventReader interface {
	// Now returns a position that reads only events appended from now on.
	Now(ctx context.Context) (string, error)

	// Read blocks up to block for events after lastID. It returns no events
	// and no error when the block time passes quietly.
	Read(ctx context.Context, sessionID, lastID string, block time.Duration) ([]StreamedEvent, error)
}

// DismissScheduler schedules the delayed close of a shown alert.
// Implementations live in infra/queue/.
type DismissScheduler interface {
	ScheduleDismiss(p DismissAlertPayload, delay time.Duration) error
}
