package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chatalert/internal/domain/alert"

	"github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"
)

const (
	alertsTable      = "alert_logs"
	permissionsTable = "alert_permissions"
)

var (
	_ alert.LogStore        = (*SupabaseStore)(nil)
	_ alert.PermissionStore = (*SupabaseStore)(nil)
)

// SupabaseStore implements the alert log and permission stores using the
// Supabase Go SDK.
type SupabaseStore struct {
	client *supa.Client
}

// NewSupabaseStore creates a new Supabase-backed store.
func NewSupabaseStore(supabaseURL, serviceKey string) (*SupabaseStore, error) {
	client, err := supa.NewClient(supabaseURL, serviceKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating supabase client: %w", err)
	}
	return &SupabaseStore{client: client}, nil
}

// alertRow is the PostgREST representation of an alert log.
type alertRow struct {
	ID             string  `json:"id"`
	SessionID      string  `json:"session_id"`
	ViewerID       string  `json:"viewer_id"`
	ConversationID string  `json:"conversation_id"`
	Tag            string  `json:"tag"`
	Title          string  `json:"title"`
	Body           string  `json:"body"`
	Status         string  `json:"status"`
	ErrorMessage   *string `json:"error_message,omitempty"`
	CreatedAt      string  `json:"created_at,omitempty"`
	UpdatedAt      string  `json:"updated_at,omitempty"`
	DismissedAt    *string `json:"dismissed_at,omitempty"`
	ActivatedAt    *string `json:"activated_at,omitempty"`
}

// permissionRow is the PostgREST representation of a viewer's permission.
type permissionRow struct {
	ViewerID   string `json:"viewer_id"`
	Permission string `json:"permission"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

// Create inserts a new alert log record.
func (s *SupabaseStore) Create(ctx context.Context, log *alert.Log) error {
	now := time.Now().UTC()
	if log.CreatedAt.IsZero() {
		log.CreatedAt = now
	}
	log.UpdatedAt = log.CreatedAt

	row := logToRow(log)

	_, _, err := s.client.From(alertsTable).Insert(row, false, "", "minimal", "").Execute()
	if err != nil {
		return fmt.Errorf("inserting alert log: %w", err)
	}

	return nil
}

// GetByID retrieves an alert log by its ID. Returns nil, nil if not found.
func (s *SupabaseStore) GetByID(ctx context.Context, id string) (*alert.Log, error) {
	data, _, err := s.client.From(alertsTable).Select("*", "", false).Eq("id", id).Execute()
	if err != nil {
		return nil, fmt.Errorf("fetching alert log: %w", err)
	}

	var rows []alertRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing alert log: %w", err)
	}

	if len(rows) == 0 {
		return nil, nil
	}

	return rowToLog(&rows[0]), nil
}

// UpdateStatus moves an alert log to a new status.
func (s *SupabaseStore) UpdateStatus(ctx context.Context, id string, status alert.LogStatus, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	update := map[string]any{
		"status":     string(status),
		"updated_at": now,
	}

	if errMsg != "" {
		update["error_message"] = errMsg
	}

	switch status {
	case alert.StatusDismissed, alert.StatusExpired:
		update["dismissed_at"] = now
	case alert.StatusActivated:
		update["activated_at"] = now
	}

	_, _, err := s.client.From(alertsTable).Update(update, "", "").Eq("id", id).Execute()
	if err != nil {
		return fmt.Errorf("updating alert status: %w", err)
	}

	return nil
}

// List retrieves alert logs with pagination and filtering, newest first.
func (s *SupabaseStore) List(ctx context.Context, filter alert.ListFilter) ([]*alert.Log, int, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	offset := (filter.Page - 1) * filter.PageSize

	query := s.client.From(alertsTable).Select("*", "exact", false)

	if filter.Status != "" {
		query = query.Eq("status", filter.Status)
	}
	if filter.ViewerID != "" {
		query = query.Eq("viewer_id", filter.ViewerID)
	}
	if filter.ConversationID != "" {
		query = query.Eq("conversation_id", filter.ConversationID)
	}

	query = query.Order("created_at", &postgrest.OrderOpts{Ascending: false})
	query = query.Range(offset, offset+filter.PageSize-1, "")

	data, count, err := query.Execute()
	if err != nil {
		return nil, 0, fmt.Errorf("listing alert logs: %w", err)
	}

	var rows []alertRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, 0, fmt.Errorf("parsing alert list: %w", err)
	}

	logs := make([]*alert.Log, len(rows))
	for i := range rows {
		logs[i] = rowToLog(&rows[i])
	}

	return logs, int(count), nil
}

// ListStale retrieves alerts still shown whose last update is older than olderThan.
func (s *SupabaseStore) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*alert.Log, error) {
	if limit <= 0 {
		limit = 50
	}

	threshold := olderThan.UTC().Format(time.RFC3339Nano)

	query := s.client.From(alertsTable).
		Select("*", "", false).
		Eq("status", string(alert.StatusShown)).
		Lt("updated_at", threshold).
		Order("updated_at", &postgrest.OrderOpts{Ascending: true}).
		Range(0, limit-1, "")

	data, _, err := query.Execute()
	if err != nil {
		return nil, fmt.Errorf("listing stale alerts: %w", err)
	}

	var rows []alertRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing stale alerts: %w", err)
	}

	logs := make([]*alert.Log, len(rows))
	for i := range rows {
		logs[i] = rowToLog(&rows[i])
	}

	return logs, nil
}

// GetPermission returns the stored permission for viewerID, or
// PermissionDefault if the viewer has none.
func (s *SupabaseStore) GetPermission(ctx context.Context, viewerID string) (alert.Permission, error) {
	data, _, err := s.client.From(permissionsTable).Select("*", "", false).Eq("viewer_id", viewerID).Execute()
	if err != nil {
		return alert.PermissionDefault, fmt.Errorf("fetching permission: %w", err)
	}

	var rows []permissionRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return alert.PermissionDefault, fmt.Errorf("parsing permission: %w", err)
	}

	if len(rows) == 0 {
		return alert.PermissionDefault, nil
	}

	return alert.Permission(rows[0].Permission), nil
}

// SavePermission upserts the viewer's permission state.
func (s *SupabaseStore) SavePermission(ctx context.Context, viewerID string, p alert.Permission) error {
	row := permissionRow{
		ViewerID:   viewerID,
		Permission: string(p),
		UpdatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}

	_, _, err := s.client.From(permissionsTable).Insert(row, true, "viewer_id", "minimal", "").Execute()
	if err != nil {
		return fmt.Errorf("upserting permission: %w", err)
	}

	return nil
}

// logToRow converts an alert.Log to its PostgREST row.
func logToRow(log *alert.Log) alertRow {
	row := alertRow{
		ID:             log.ID,
		SessionID:      log.SessionID,
		ViewerID:       log.ViewerID,
		ConversationID: log.ConversationID,
		Tag:            log.Tag,
		Title:          log.Title,
		Body:           log.Body,
		Status:         string(log.Status),
		CreatedAt:      log.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:      log.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if log.ErrorMessage != "" {
		row.ErrorMessage = &log.ErrorMessage
	}
	return row
}

// rowToLog converts an alertRow to an alert.Log.
func rowToLog(row *alertRow) *alert.Log {
	log := &alert.Log{
		ID:             row.ID,
		SessionID:      row.SessionID,
		ViewerID:       row.ViewerID,
		ConversationID: row.ConversationID,
		Tag:            row.Tag,
		Title:          row.Title,
		Body:           row.Body,
		Status:         alert.LogStatus(row.Status),
		CreatedAt:      parseTime(row.CreatedAt),
		UpdatedAt:      parseTime(row.UpdatedAt),
	}

	if row.ErrorMessage != nil {
		log.ErrorMessage = *row.ErrorMessage
	}
	if row.DismissedAt != nil {
		if t := parseTime(*row.DismissedAt); !t.IsZero() {
			log.DismissedAt = &t
		}
	}
	if row.ActivatedAt != nil {
		if t := parseTime(*row.ActivatedAt); !t.IsZero() {
			log.ActivatedAt = &t
		}
	}

	return log
}

// parseTime parses a PostgREST timestamp, returning the zero time on failure.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
