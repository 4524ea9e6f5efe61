package alert

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// TaskTypeDismissAlert is the asynq task type for auto-dismissing a shown alert.
const TaskTypeDismissAlert = "alert:dismiss"

// DismissAlertPayload is the serialized payload for a dismiss task.
type DismissAlertPayload struct {
	AlertID   string `json:"alert_id"`
	SessionID string `json:"session_id"`
	Tag       string `json:"tag"`
}

// NewDismissAlertTask creates a new asynq task for dismissing an alert.
func NewDismissAlertTask(p DismissAlertPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshaling task payload: %w", err)
	}
	return asynq.NewTask(TaskTypeDismissAlert, payload), nil
}

// ParseDismissAlertPayload deserializes the task payload.
func ParseDismissAlertPayload(data []byte) (*DismissAlertPayload, error) {
	var p DismissAlertPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling task payload: %w", err)
	}
	if p.AlertID == "" {
		return nil, fmt.Errorf("dismiss task payload missing alert_id")
	}
	return &p, nil
}
