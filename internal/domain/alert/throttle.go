package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// bodyLimit is the longest body shown unmodified.
	bodyLimit = 50

	// bodyCut is where longer bodies are cut before the ellipsis.
	bodyCut = 47
)

// ThrottleState maps a conversation to the time of its last emitted alert.
// A missing entry means the conversation has never alerted.
type ThrottleState map[ConversationID]time.Time

// canAlert reports whether conversationID is armed at now.
func (s ThrottleState) canAlert(conversationID ConversationID, now time.Time, cooldown time.Duration) bool {
	last, ok := s[conversationID]
	if !ok {
		return true
	}
	return now.Sub(last) >= cooldown
}

// Throttle decides, per conversation, whether a new-message alert may be
// surfaced to one viewer, and emits it through the viewer's notifier.
//
// A conversation is armed until an alert is emitted for it, then cooled for
// Policy.Cooldown. The transition back to armed is evaluated lazily on every
// check; nothing runs in the background.
type Throttle struct {
	mu       sync.Mutex
	state    ThrottleState
	viewer   Viewer
	notifier Notifier
	titles   TitleRenderer
	policy   Policy

	promptOnce sync.Once
}

// NewThrottle creates a throttle with empty state. titles may be nil.
func NewThrottle(viewer Viewer, notifier Notifier, titles TitleRenderer, policy Policy) *Throttle {
	if policy.Cooldown <= 0 {
		policy.Cooldown = DefaultPolicy().Cooldown
	}
	if len(policy.EligibleRoles) == 0 {
		policy.EligibleRoles = DefaultPolicy().EligibleRoles
	}

	return &Throttle{
		state:    make(ThrottleState),
		viewer:   viewer,
		notifier: notifier,
		titles:   titles,
		policy:   policy,
	}
}

// Eligible reports whether the viewer's role may receive alerts.
func (t *Throttle) Eligible() bool {
	return t.policy.Eligible(t.viewer.Role)
}

// ready reports whether the notifier is supported and explicitly granted.
// It never prompts.
func (t *Throttle) ready() bool {
	return t.notifier != nil &&
		t.notifier.Supported() &&
		t.notifier.Permission() == PermissionGranted
}

// CanAlert reports whether an alert for conversationID is permitted at now.
func (t *Throttle) CanAlert(conversationID ConversationID, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.canAlert(conversationID, now, t.policy.Cooldown)
}

// LastAlert returns when conversationID last alerted.
func (t *Throttle) LastAlert(conversationID ConversationID) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.state[conversationID]
	return last, ok
}

// PromptOnce asks the host for permission the first time it is called for an
// eligible viewer whose permission is still unset. Later calls do nothing.
func (t *Throttle) PromptOnce(ctx context.Context) {
	if !t.Eligible() || t.notifier == nil || !t.notifier.Supported() {
		return
	}

	t.promptOnce.Do(func() {
		if t.notifier.Permission() != PermissionDefault {
			return
		}
		p, err := t.notifier.RequestPermission(ctx)
		if err != nil {
			slog.Warn("permission request failed", "viewer_id", t.viewer.ID, "error", err)
			return
		}
		slog.Info("permission request answered", "viewer_id", t.viewer.ID, "permission", p)
	})
}

// Emit raises an alert for conversationID if the viewer is eligible, the
// notifier is ready and the conversation is armed. It re-checks all three
// immediately before showing, so a caller's earlier CanAlert is only a hint.
//
// The conversation's slot is reserved under the lock and Show runs without
// it, so checks for other conversations never wait on the host. The
// reservation stands once Show returns without error, whatever happens to
// the alert afterwards. A Show error is logged and swallowed, and the
// reservation is rolled back. Emit reports whether an alert was shown.
func (t *Throttle) Emit(conversationID ConversationID, senderLabel, body string, now time.Time) bool {
	if !t.Eligible() || !t.ready() {
		return false
	}

	t.mu.Lock()
	if !t.state.canAlert(conversationID, now, t.policy.Cooldown) {
		t.mu.Unlock()
		return false
	}
	prev, hadPrev := t.state[conversationID]
	t.state[conversationID] = now
	t.mu.Unlock()

	title := t.title(senderLabel)
	handle, err := t.notifier.Show(title, ShowOptions{
		Body:         TruncateBody(body),
		Icon:         t.policy.Icon,
		Tag:          Tag(conversationID),
		DismissAfter: t.policy.DismissAfter,
	})
	if err != nil {
		t.release(conversationID, now, prev, hadPrev)
		slog.Error("alert emit failed",
			"viewer_id", t.viewer.ID,
			"conversation_id", conversationID,
			"error", err,
		)
		return false
	}

	if handle != nil {
		notifier := t.notifier
		handle.OnActivate(func() {
			if f, ok := notifier.(Focuser); ok {
				f.Focus()
			}
			handle.Close()
		})
	}

	slog.Info("alert emitted",
		"viewer_id", t.viewer.ID,
		"conversation_id", conversationID,
	)
	return true
}

// CheckForNewMessages diffs two snapshots of a conversation and raises at
// most one alert for the messages that arrived in between.
//
// New messages are those in current whose ID is absent from previous, minus
// the viewer's own. The last one by position in current is announced. Nil
// snapshots are ignored. It reports whether an alert was shown.
func (t *Throttle) CheckForNewMessages(previous, current []Message, conversationID ConversationID, senderLabel string, now time.Time) bool {
	if previous == nil || current == nil || !t.Eligible() {
		return false
	}

	latest, ok := latestIncoming(previous, current, t.viewer.ID)
	if !ok {
		return false
	}

	if !t.CanAlert(conversationID, now) {
		return false
	}

	return t.Emit(conversationID, senderLabel, latest.Body, now)
}

// release undoes a reservation made at reservedAt, unless a later emit has
// replaced it since.
func (t *Throttle) release(conversationID ConversationID, reservedAt, prev time.Time, hadPrev bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.state[conversationID]; !ok || !cur.Equal(reservedAt) {
		return
	}
	if hadPrev {
		t.state[conversationID] = prev
	} else {
		delete(t.state, conversationID)
	}
}

func (t *Throttle) title(senderLabel string) string {
	if t.titles != nil {
		title, err := t.titles.RenderTitle(senderLabel)
		if err == nil {
			return title
		}
		slog.Warn("rendering alert title failed, using default", "error", err)
	}
	return DefaultTitle(senderLabel)
}

// latestIncoming returns the last message in current that is not in previous
// and was not sent by self.
func latestIncoming(previous, current []Message, self ID) (Message, bool) {
	seen := make(map[ID]struct{}, len(previous))
	for _, m := range previous {
		seen[m.ID] = struct{}{}
	}

	var (
		latest Message
		found  bool
	)
	for _, m := range current {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		if m.SenderID == self {
			continue
		}
		latest, found = m, true
	}
	return latest, found
}

// Tag is the host coalescing tag for a conversation's alerts.
func Tag(conversationID ConversationID) string {
	return fmt.Sprintf("chat-%s", conversationID)
}

// DefaultTitle is used when no title template is configured.
func DefaultTitle(senderLabel string) string {
	return fmt.Sprintf("New message from %s", senderLabel)
}

// TruncateBody shortens bodies longer than 50 characters to 47 plus "...".
func TruncateBody(body string) string {
	r := []rune(body)
	if len(r) <= bodyLimit {
		return body
	}
	return string(r[:bodyCut]) + "..."
}
