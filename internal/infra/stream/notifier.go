package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chatalert/internal/domain/alert"

	"github.com/google/uuid"
)

var (
	_ alert.Host    = (*Notifier)(nil)
	_ alert.Focuser = (*Notifier)(nil)
)

const defaultOpTimeout = 3 * time.Second

// StreamDeleter removes a session's event stream.
type StreamDeleter interface {
	Delete(ctx context.Context, sessionID string) error
}

// Deps are the shared backends every session's notifier writes through.
type Deps struct {
	Publisher alert.EventPublisher

	// Logs records alert audit entries. Optional.
	Logs alert.LogStore

	// Scheduler runs auto-dismiss out of process. Optional: without it the
	// notifier dismisses with an in-process timer.
	Scheduler alert.DismissScheduler

	// Limiter caps alerts per viewer. Optional.
	Limiter alert.ViewerRateLimiter

	// Streams deletes the session's event stream once the session ends.
	// Optional: without it the stream lingers until its TTL.
	Streams StreamDeleter

	// OpTimeout bounds each backend call made on behalf of Show and Close.
	OpTimeout time.Duration
}

// NewFactory returns a HostFactory that bridges each session to its viewer's
// browser through deps.
func NewFactory(deps Deps) alert.HostFactory {
	return func(ctx context.Context, sessionID string, viewer alert.Viewer, supported bool, permission alert.Permission) (alert.Host, error) {
		if deps.Publisher == nil {
			return nil, fmt.Errorf("stream: no event publisher configured")
		}
		return NewNotifier(sessionID, viewer, supported, permission, deps), nil
	}
}

// Notifier is the alerting capability of one viewer session. It turns
// alerts into commands on the session's event stream, which the viewer's
// browser turns into system notifications.
type Notifier struct {
	sessionID string
	viewer    alert.Viewer
	supported bool
	deps      Deps

	mu         sync.Mutex
	permission alert.Permission
	waiters    []chan alert.Permission
	handles    map[string]*handle
	released   bool
}

// NewNotifier creates the notifier for one session.
func NewNotifier(sessionID string, viewer alert.Viewer, supported bool, permission alert.Permission, deps Deps) *Notifier {
	if deps.OpTimeout <= 0 {
		deps.OpTimeout = defaultOpTimeout
	}
	if !permission.IsValid() {
		permission = alert.PermissionDefault
	}
	return &Notifier{
		sessionID:  sessionID,
		viewer:     viewer,
		supported:  supported,
		deps:       deps,
		permission: permission,
		handles:    make(map[string]*handle),
	}
}

// Supported reports what the browser said at session start.
func (n *Notifier) Supported() bool {
	return n.supported
}

// Permission returns the last permission state the browser reported.
func (n *Notifier) Permission() alert.Permission {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.permission
}

// RequestPermission asks the browser to prompt the viewer and waits for the
// answer to come back through ReportPermission.
func (n *Notifier) RequestPermission(ctx context.Context) (alert.Permission, error) {
	if !n.supported {
		return alert.PermissionDenied, alert.ErrCapabilityUnavailable
	}

	n.mu.Lock()
	if n.permission != alert.PermissionDefault {
		p := n.permission
		n.mu.Unlock()
		return p, nil
	}
	ch := make(chan alert.Permission, 1)
	n.waiters = append(n.waiters, ch)
	n.mu.Unlock()

	if err := n.deps.Publisher.Publish(ctx, n.sessionID, alert.Event{Type: alert.EventPermissionRequest}); err != nil {
		return alert.PermissionDefault, fmt.Errorf("publishing permission request: %w", err)
	}

	select {
	case p := <-ch:
		return p, nil
	case <-ctx.Done():
		return n.Permission(), ctx.Err()
	}
}

// ReportPermission records the browser's permission state and wakes any
// pending RequestPermission.
func (n *Notifier) ReportPermission(ctx context.Context, p alert.Permission) error {
	if !p.IsValid() {
		return fmt.Errorf("unsupported permission state: %s", p)
	}

	n.mu.Lock()
	n.permission = p
	waiters := n.waiters
	n.waiters = nil
	n.mu.Unlock()

	for _, ch := range waiters {
		select {
		case ch <- p:
		default:
		}
	}
	return nil
}

// Show appends an alert command to the session stream and schedules its
// auto-dismiss. An alert with the same tag as a live one replaces it, as
// browsers do with tagged notifications.
func (n *Notifier) Show(title string, opts alert.ShowOptions) (alert.Handle, error) {
	if !n.supported {
		return nil, alert.ErrCapabilityUnavailable
	}
	if n.Permission() != alert.PermissionGranted {
		return nil, alert.ErrPermissionDenied
	}

	n.mu.Lock()
	released := n.released
	n.mu.Unlock()
	if released {
		return nil, fmt.Errorf("%w: session ended", alert.ErrHostRefused)
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.deps.OpTimeout)
	defer cancel()

	if n.deps.Limiter != nil {
		allowed, err := n.deps.Limiter.Allow(ctx, string(n.viewer.ID))
		if err != nil {
			// Fail open: the cap is a flood guard, not a correctness check
			slog.Warn("viewer alert limit check failed, proceeding", "viewer_id", n.viewer.ID, "error", err)
		} else if !allowed {
			return nil, fmt.Errorf("%w: viewer alert cap reached", alert.ErrHostRefused)
		}
	}

	h := &handle{
		notifier: n,
		id:       uuid.New().String(),
		tag:      opts.Tag,
	}

	if err := n.deps.Publisher.Publish(ctx, n.sessionID, alert.Event{
		Type:               alert.EventAlert,
		AlertID:            h.id,
		Tag:                opts.Tag,
		Title:              title,
		Body:               opts.Body,
		Icon:               opts.Icon,
		RequireInteraction: opts.RequireInteraction,
		Silent:             opts.Silent,
	}); err != nil {
		n.record(ctx, h, title, opts.Body, alert.StatusFailed, err.Error())
		return nil, fmt.Errorf("publishing alert: %w", err)
	}

	n.track(h)
	n.record(ctx, h, title, opts.Body, alert.StatusShown, "")

	if opts.DismissAfter > 0 {
		n.scheduleDismiss(h, opts.DismissAfter)
	}

	return h, nil
}

// Focus asks the browser to bring the dashboard window to the foreground.
func (n *Notifier) Focus() {
	ctx, cancel := context.WithTimeout(context.Background(), n.deps.OpTimeout)
	defer cancel()

	if err := n.deps.Publisher.Publish(ctx, n.sessionID, alert.Event{Type: alert.EventFocus}); err != nil {
		slog.Warn("publishing focus failed", "session_id", n.sessionID, "error", err)
	}
}

// Activate runs the activation callback of the live alert with tag.
func (n *Notifier) Activate(tag string) bool {
	n.mu.Lock()
	h, ok := n.handles[tag]
	n.mu.Unlock()
	if !ok {
		return false
	}
	return h.activate()
}

// Release closes every live alert of the session and then deletes its event
// stream. It does not block on the backends.
func (n *Notifier) Release() {
	n.mu.Lock()
	n.released = true
	live := make([]*handle, 0, len(n.handles))
	for _, h := range n.handles {
		live = append(live, h)
	}
	n.handles = make(map[string]*handle)
	n.waiters = nil
	n.mu.Unlock()

	if len(live) == 0 && n.deps.Streams == nil {
		return
	}
	go func() {
		for _, h := range live {
			h.Close()
		}
		n.deleteStream()
	}()
}

func (n *Notifier) deleteStream() {
	if n.deps.Streams == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.deps.OpTimeout)
	defer cancel()

	if err := n.deps.Streams.Delete(ctx, n.sessionID); err != nil {
		slog.Warn("deleting session stream failed", "session_id", n.sessionID, "error", err)
	}
}

// track registers h as the live alert for its tag, retiring any older one.
func (n *Notifier) track(h *handle) {
	n.mu.Lock()
	old := n.handles[h.tag]
	n.handles[h.tag] = h
	n.mu.Unlock()

	if old != nil {
		old.retire()
	}
}

// forget drops h if it is still the live alert for its tag.
func (n *Notifier) forget(h *handle) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.handles[h.tag] == h {
		delete(n.handles, h.tag)
	}
}

func (n *Notifier) record(ctx context.Context, h *handle, title, body string, status alert.LogStatus, errMsg string) {
	if n.deps.Logs == nil {
		return
	}

	err := n.deps.Logs.Create(ctx, &alert.Log{
		ID:             h.id,
		SessionID:      n.sessionID,
		ViewerID:       string(n.viewer.ID),
		ConversationID: strings.TrimPrefix(h.tag, "chat-"),
		Tag:            h.tag,
		Title:          title,
		Body:           body,
		Status:         status,
		ErrorMessage:   errMsg,
	})
	if err != nil {
		slog.Error("recording alert log failed", "alert_id", h.id, "error", err)
	}
}

// scheduleDismiss hands the dismiss to the worker when a scheduler is set.
// The worker then owns the dismiss event and the log status; the local timer
// only drops the handle so the alert can no longer be activated here.
func (n *Notifier) scheduleDismiss(h *handle, delay time.Duration) {
	if n.deps.Scheduler == nil {
		time.AfterFunc(delay, h.Close)
		return
	}

	err := n.deps.Scheduler.ScheduleDismiss(alert.DismissAlertPayload{
		AlertID:   h.id,
		SessionID: n.sessionID,
		Tag:       h.tag,
	}, delay)
	if err != nil {
		slog.Warn("scheduling dismiss failed, using local timer", "alert_id", h.id, "error", err)
		time.AfterFunc(delay, h.Close)
		return
	}
	time.AfterFunc(delay, h.expire)
}

func (n *Notifier) updateStatus(id string, status alert.LogStatus, errMsg string) {
	if n.deps.Logs == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.deps.OpTimeout)
	defer cancel()

	if err := n.deps.Logs.UpdateStatus(ctx, id, status, errMsg); err != nil {
		slog.Error("updating alert status failed", "alert_id", id, "status", status, "error", err)
	}
}

// handle is one alert shown in a session.
type handle struct {
	notifier *Notifier
	id       string
	tag      string

	mu         sync.Mutex
	onActivate func()
	activated  bool
	closed     bool
}

// OnActivate sets the callback run when the viewer clicks the alert.
func (h *handle) OnActivate(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onActivate = fn
}

// Close dismisses the alert in the browser. Later calls do nothing.
func (h *handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	status := alert.StatusDismissed
	if h.activated {
		status = alert.StatusActivated
	}
	h.mu.Unlock()

	n := h.notifier
	n.forget(h)

	ctx, cancel := context.WithTimeout(context.Background(), n.deps.OpTimeout)
	defer cancel()

	var errMsg string
	if err := n.deps.Publisher.Publish(ctx, n.sessionID, alert.Event{
		Type:    alert.EventDismiss,
		AlertID: h.id,
		Tag:     h.tag,
	}); err != nil {
		slog.Warn("publishing dismiss failed", "alert_id", h.id, "error", err)
		errMsg = "dismiss not delivered: " + err.Error()
	}

	n.updateStatus(h.id, status, errMsg)
}

// activate runs the activation callback, or closes the alert if none is set.
func (h *handle) activate() bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.activated = true
	fn := h.onActivate
	h.mu.Unlock()

	if fn != nil {
		fn()
	} else {
		h.Close()
	}
	return true
}

// retire marks an alert replaced by a newer one with the same tag. The
// browser already swapped it out, so no dismiss is sent.
func (h *handle) retire() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.notifier.updateStatus(h.id, alert.StatusDismissed, "")
}

// expire drops an alert the worker already dismissed. Nothing is published
// and the log is left to the worker.
func (h *handle) expire() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.notifier.forget(h)
}
