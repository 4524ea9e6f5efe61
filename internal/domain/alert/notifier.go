package alert

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCapabilityUnavailable means the host cannot show system notifications.
	ErrCapabilityUnavailable = errors.New("alerting capability unavailable")

	// ErrPermissionDenied means the host has not granted notification permission.
	ErrPermissionDenied = errors.New("alert permission not granted")

	// ErrHostRefused means the host bridge declined to deliver an alert.
	ErrHostRefused = errors.New("host refused alert")
)

// ShowOptions are the presentation options passed along with an alert.
type ShowOptions struct {
	Body               string
	Icon               string
	Tag                string
	RequireInteraction bool
	Silent             bool

	// DismissAfter asks the host to close the alert after this long if the
	// viewer has not already done so. Zero disables auto-dismiss.
	DismissAfter time.Duration
}

// Handle refers to one alert that was handed to the host.
type Handle interface {
	// Close dismisses the alert. Safe to call more than once.
	Close()

	// OnActivate sets the callback run when the viewer clicks the alert.
	OnActivate(fn func())
}

// Notifier is the host-provided alerting capability.
// Implementations live in infra/stream/.
type Notifier interface {
	// Supported reports whether the host can show system notifications at all.
	Supported() bool

	// Permission returns the host's current permission state.
	Permission() Permission

	// RequestPermission prompts the viewer and waits for the answer.
	RequestPermission(ctx context.Context) (Permission, error)

	// Show surfaces an alert. An error means nothing was shown.
	Show(title string, opts ShowOptions) (Handle, error)
}

// Focuser is implemented by notifiers that can bring the host window to the
// foreground. It is optional.
type Focuser interface {
	Focus()
}

// Host is the per-session notifier together with the signals the viewer's
// client reports back to the service.
type Host interface {
	Notifier

	// Activate runs the activation callback of the live alert with the given
	// tag. It returns false if no such alert is live.
	Activate(tag string) bool

	// ReportPermission records a permission change reported by the host and
	// resolves any pending RequestPermission call.
	ReportPermission(ctx context.Context, p Permission) error

	// Release frees everything the host holds for the session.
	Release()
}

// HostFactory creates the host bridge for a new session.
type HostFactory func(ctx context.Context, sessionID string, viewer Viewer, supported bool, permission Permission) (Host, error)

// TitleRenderer renders the alert title for a sender.
// Implementations live in infra/template/.
type TitleRenderer interface {
	RenderTitle(senderLabel string) (string, error)
}
