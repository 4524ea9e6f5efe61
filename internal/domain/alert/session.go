package alert

import (
	"sync"
	"time"
)

// Session is one viewer's dashboard session. It owns the viewer's throttle
// state and the last snapshot seen per conversation; both are dropped when
// the session ends.
type Session struct {
	ID        string
	Viewer    Viewer
	StartedAt time.Time

	host     Host
	throttle *Throttle

	mu        sync.Mutex
	snapshots map[ConversationID][]Message
}

func newSession(id string, viewer Viewer, host Host, throttle *Throttle, now time.Time) *Session {
	return &Session{
		ID:        id,
		Viewer:    viewer,
		StartedAt: now,
		host:      host,
		throttle:  throttle,
		snapshots: make(map[ConversationID][]Message),
	}
}

// Throttle returns the session's throttle.
func (s *Session) Throttle() *Throttle {
	return s.throttle
}

// Observe records the latest snapshot of a conversation and checks it
// against the previous one. The first snapshot of a conversation only
// establishes the baseline.
func (s *Session) Observe(conversationID ConversationID, senderLabel string, current []Message, now time.Time) bool {
	if current == nil {
		return false
	}

	s.mu.Lock()
	previous := s.snapshots[conversationID]
	s.snapshots[conversationID] = current
	s.mu.Unlock()

	return s.throttle.CheckForNewMessages(previous, current, conversationID, senderLabel, now)
}

// end releases the host bridge.
func (s *Session) end() {
	s.host.Release()
}
