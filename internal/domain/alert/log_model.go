package alert

import "time"

// LogStatus represents the lifecycle state of a shown alert.
type LogStatus string

const (
	StatusShown     LogStatus = "shown"
	StatusDismissed LogStatus = "dismissed"
	StatusActivated LogStatus = "activated"
	StatusExpired   LogStatus = "expired"
	StatusFailed    LogStatus = "failed"
)

// Log is the persisted audit record of one alert handed to a host.
type Log struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	ViewerID       string     `json:"viewer_id"`
	ConversationID string     `json:"conversation_id"`
	Tag            string     `json:"tag"`
	Title          string     `json:"title"`
	Body           string     `json:"body"`
	Status         LogStatus  `json:"status"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DismissedAt    *time.Time `json:"dismissed_at,omitempty"`
	ActivatedAt    *time.Time `json:"activated_at,omitempty"`
}

// ListFilter defines pagination and filtering options for listing alert logs.
type ListFilter struct {
	Page           int    `form:"page"`
	PageSize       int    `form:"page_size"`
	Status         string `form:"status"`
	ViewerID       string `form:"viewer_id"`
	ConversationID string `form:"conversation_id"`
}

// ListResponse wraps a paginated list of alert logs.
type ListResponse struct {
	Alerts   []*Log `json:"alerts"`
	Total    int    `json:"total"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

// normalize applies the default page and page size.
func (f *ListFilter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 100 {
		f.PageSize = 20
	}
}
