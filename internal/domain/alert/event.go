package alert

// EventType names a command sent to the viewer's host over the event stream.
type EventType string

const (
	EventAlert             EventType = "alert"
	EventDismiss           EventType = "dismiss"
	EventFocus             EventType = "focus"
	EventPermissionRequest EventType = "permission_request"
)

// Event is one host command. Fields not relevant to Type are omitted.
type Event struct {
	Type               EventType `json:"type"`
	AlertID            string    `json:"alert_id,omitempty"`
	Tag                string    `json:"tag,omitempty"`
	Title              string    `json:"title,omitempty"`
	Body               string    `json:"body,omitempty"`
	Icon               string    `json:"icon,omitempty"`
	RequireInteraction bool      `json:"require_interaction,omitempty"`
	Silent             bool      `json:"silent,omitempty"`
}
