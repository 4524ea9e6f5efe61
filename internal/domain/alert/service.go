package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chatalert/internal/common"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ServiceConfig holds the session registry settings.
type ServiceConfig struct {
	Policy Policy

	// MaxSessions bounds the registry; the least recently used session is
	// ended when it is full. Zero means unbounded.
	MaxSessions int

	// IdleTTL ends sessions that have not been touched for this long.
	IdleTTL time.Duration

	// PromptTimeout bounds how long the one-time permission prompt waits.
	PromptTimeout time.Duration
}

// Service owns the live viewer sessions and routes alert operations to them.
type Service struct {
	sessions    *expirable.LRU[string, *Session]
	hosts       HostFactory
	titles      TitleRenderer
	logs        LogStore
	permissions PermissionStore
	config      ServiceConfig

	now func() time.Time
}

// NewService creates a new alert service. titles and permissions may be nil.
func NewService(hosts HostFactory, titles TitleRenderer, logs LogStore, permissions PermissionStore, cfg ServiceConfig) *Service {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	if cfg.PromptTimeout <= 0 {
		cfg.PromptTimeout = 2 * time.Minute
	}

	onEvict := func(id string, s *Session) {
		s.end()
		slog.Info("session ended", "session_id", id, "viewer_id", s.Viewer.ID)
	}

	return &Service{
		sessions:    expirable.NewLRU[string, *Session](cfg.MaxSessions, onEvict, cfg.IdleTTL),
		hosts:       hosts,
		titles:      titles,
		logs:        logs,
		permissions: permissions,
		config:      cfg,
		now:         time.Now,
	}
}

// StartSession creates a session for viewer with empty throttle state. If the
// viewer is eligible and the host has not decided on permission yet, the
// viewer is prompted once in the background.
func (s *Service) StartSession(ctx context.Context, viewer Viewer, req *StartSessionRequest) (*SessionResponse, error) {
	if viewer.ID == "" {
		return nil, common.NewValidationError("viewer id is required")
	}

	permission := req.Permission
	if permission == "" {
		permission = s.storedPermission(ctx, viewer.ID)
	}
	if !permission.IsValid() {
		return nil, common.NewValidationError(fmt.Sprintf("unsupported permission state: %s", permission))
	}

	id := uuid.New().String()
	host, err := s.hosts(ctx, id, viewer, req.Supported, permission)
	if err != nil {
		return nil, common.NewUpstreamError("host bridge", err)
	}

	throttle := NewThrottle(viewer, host, s.titles, s.config.Policy)
	session := newSession(id, viewer, host, throttle, s.now())
	s.sessions.Add(id, session)

	slog.Info("session started",
		"session_id", id,
		"viewer_id", viewer.ID,
		"role", viewer.Role,
		"eligible", throttle.Eligible(),
		"supported", req.Supported,
		"permission", permission,
	)

	if throttle.Eligible() {
		go func() {
			promptCtx, cancel := context.WithTimeout(context.Background(), s.config.PromptTimeout)
			defer cancel()
			throttle.PromptOnce(promptCtx)
		}()
	}

	return &SessionResponse{
		ID:         id,
		Viewer:     viewer,
		Eligible:   throttle.Eligible(),
		Supported:  req.Supported,
		Permission: permission,
		StartedAt:  session.StartedAt,
	}, nil
}

// EndSession ends a session and discards its throttle state.
func (s *Service) EndSession(id string) error {
	if !s.sessions.Remove(id) {
		return common.NewNotFoundError("session", id)
	}
	return nil
}

// Session returns a live session and refreshes its idle timer.
func (s *Service) Session(id string) (*Session, error) {
	session, ok := s.sessions.Get(id)
	if !ok {
		return nil, common.NewNotFoundError("session", id)
	}
	s.sessions.Add(id, session)
	return session, nil
}

// Capability reports the host's support and permission for a session.
func (s *Service) Capability(id string) (*CapabilityResponse, error) {
	session, err := s.Session(id)
	if err != nil {
		return nil, err
	}
	return &CapabilityResponse{
		Supported:  session.host.Supported(),
		Permission: session.host.Permission(),
		Eligible:   session.throttle.Eligible(),
	}, nil
}

// ReportPermission records a permission state reported by the session's host.
func (s *Service) ReportPermission(ctx context.Context, id string, p Permission) error {
	if !p.IsValid() {
		return common.NewValidationError(fmt.Sprintf("unsupported permission state: %s", p))
	}

	session, err := s.Session(id)
	if err != nil {
		return err
	}

	if err := session.host.ReportPermission(ctx, p); err != nil {
		return common.NewUpstreamError("host bridge", fmt.Errorf("reporting permission: %w", err))
	}

	if s.permissions != nil {
		if err := s.permissions.SavePermission(ctx, string(session.Viewer.ID), p); err != nil {
			// The live session already has the new state; persistence only
			// seeds future sessions.
			slog.Error("saving permission failed", "viewer_id", session.Viewer.ID, "error", err)
		}
	}

	slog.Info("permission reported", "session_id", id, "permission", p)
	return nil
}

// CanAlert reports whether conversationID is armed for the session.
func (s *Service) CanAlert(id string, conversationID ConversationID) (*CanAlertResponse, error) {
	if conversationID == "" {
		return nil, common.NewValidationError("conversation id is required")
	}

	session, err := s.Session(id)
	if err != nil {
		return nil, err
	}

	resp := &CanAlertResponse{
		ConversationID: conversationID,
		CanAlert:       session.throttle.CanAlert(conversationID, s.now()),
	}
	if last, ok := session.throttle.LastAlert(conversationID); ok {
		resp.LastAlertAt = &last
	}
	return resp, nil
}

// CheckForNewMessages diffs the two snapshots in req for the session.
func (s *Service) CheckForNewMessages(id string, req *CheckRequest) (*CheckResponse, error) {
	session, err := s.Session(id)
	if err != nil {
		return nil, err
	}

	alerted := session.throttle.CheckForNewMessages(req.Previous, req.Current, req.ConversationID, req.SenderLabel, s.now())
	return &CheckResponse{ConversationID: req.ConversationID, Alerted: alerted}, nil
}

// ObserveSnapshot diffs req against the session's previous snapshot of the
// conversation and stores req as the new baseline.
func (s *Service) ObserveSnapshot(id string, conversationID ConversationID, req *SnapshotRequest) (*CheckResponse, error) {
	if conversationID == "" {
		return nil, common.NewValidationError("conversation id is required")
	}
	if req.Messages == nil {
		return nil, common.NewValidationError("messages are required")
	}

	session, err := s.Session(id)
	if err != nil {
		return nil, err
	}

	alerted := session.Observe(conversationID, req.SenderLabel, req.Messages, s.now())
	return &CheckResponse{ConversationID: conversationID, Alerted: alerted}, nil
}

// Activate reports that the viewer clicked the live alert with tag.
func (s *Service) Activate(id, tag string) error {
	session, err := s.Session(id)
	if err != nil {
		return err
	}

	if !session.host.Activate(tag) {
		return common.NewNotFoundError("alert", tag)
	}

	slog.Info("alert activated", "session_id", id, "tag", tag)
	return nil
}

// GetAlert retrieves an alert log by ID.
func (s *Service) GetAlert(ctx context.Context, id string) (*Log, error) {
	alertLog, err := s.logs.GetByID(ctx, id)
	if err != nil {
		return nil, common.NewUpstreamError("alert store", fmt.Errorf("fetching alert: %w", err))
	}
	if alertLog == nil {
		return nil, common.NewNotFoundError("alert", id)
	}
	return alertLog, nil
}

// ListAlerts retrieves alert logs with pagination and filtering.
func (s *Service) ListAlerts(ctx context.Context, filter ListFilter) (*ListResponse, error) {
	filter.normalize()

	logs, total, err := s.logs.List(ctx, filter)
	if err != nil {
		return nil, common.NewUpstreamError("alert store", fmt.Errorf("listing alerts: %w", err))
	}

	return &ListResponse{
		Alerts:   logs,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

// Shutdown ends every live session.
func (s *Service) Shutdown() {
	s.sessions.Purge()
}

func (s *Service) storedPermission(ctx context.Context, viewerID ID) Permission {
	if s.permissions == nil {
		return PermissionDefault
	}

	p, err := s.permissions.GetPermission(ctx, string(viewerID))
	if err != nil {
		slog.Error("loading stored permission failed, assuming default", "viewer_id", viewerID, "error", err)
		return PermissionDefault
	}
	if !p.IsValid() {
		return PermissionDefault
	}
	return p
}
