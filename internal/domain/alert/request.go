package alert

import "time"

// StartSessionRequest is what the viewer's client reports about its host
// when a dashboard session starts.
type StartSessionRequest struct {
	Supported  bool       `json:"supported"`
	Permission Permission `json:"permission"`
}

// SessionResponse describes a started session.
type SessionResponse struct {
	ID         string     `json:"id"`
	Viewer     Viewer     `json:"viewer"`
	Eligible   bool       `json:"eligible"`
	Supported  bool       `json:"supported"`
	Permission Permission `json:"permission"`
	StartedAt  time.Time  `json:"started_at"`
}

// CapabilityResponse exposes what the UI needs to decide whether to offer an
// "enable notifications" affordance.
type CapabilityResponse struct {
	Supported  bool       `json:"supported"`
	Permission Permission `json:"permission"`
	Eligible   bool       `json:"eligible"`
}

// PermissionRequest is the host's report of its permission state.
type PermissionRequest struct {
	Permission Permission `json:"permission" binding:"required"`
}

// CanAlertResponse reports whether a conversation is armed.
type CanAlertResponse struct {
	ConversationID ConversationID `json:"conversation_id"`
	CanAlert       bool           `json:"can_alert"`
	LastAlertAt    *time.Time     `json:"last_alert_at,omitempty"`
}

// CheckRequest carries two snapshots of one conversation.
// A missing or null list means the snapshot is absent.
type CheckRequest struct {
	ConversationID ConversationID `json:"conversation_id" binding:"required"`
	SenderLabel    string         `json:"sender_label"`
	Previous       []Message      `json:"previous"`
	Current        []Message      `json:"current"`
}

// SnapshotRequest carries the current snapshot of one conversation.
type SnapshotRequest struct {
	SenderLabel string    `json:"sender_label"`
	Messages    []Message `json:"messages"`
}

// CheckResponse reports whether the check raised an alert.
type CheckResponse struct {
	ConversationID ConversationID `json:"conversation_id"`
	Alerted        bool           `json:"alerted"`
}
