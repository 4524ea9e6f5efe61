package alert

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"chatalert/internal/common"
	"chatalert/internal/middleware"

	"github.com/gin-gonic/gin"
)

// streamBlock is how long one stream read waits before sending a ping.
const streamBlock = 25 * time.Second

// Handler handles HTTP requests for the alert domain.
type Handler struct {
	service *Service
	events  EventReader
}

// NewHandler creates a new alert handler. events may be nil, in which case
// the event stream endpoint reports 503.
func NewHandler(service *Service, events EventReader) *Handler {
	return &Handler{service: service, events: events}
}

// StartSession handles POST /api/v1/sessions
func (h *Handler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	viewer := Viewer{
		ID:   ID(c.GetString(middleware.ViewerIDKey)),
		Role: Role(c.GetString(middleware.ViewerRoleKey)),
	}

	resp, err := h.service.StartSession(c.Request.Context(), viewer, &req)
	if err != nil {
		slog.Error("start session failed", "viewer_id", viewer.ID, "error", err)
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusCreated, resp)
}

// EndSession handles DELETE /api/v1/sessions/:id
func (h *Handler) EndSession(c *gin.Context) {
	if err := h.service.EndSession(c.Param("id")); err != nil {
		common.HandleError(c, err)
		return
	}
	common.Success(c, http.StatusOK, gin.H{"status": "ended"})
}

// Capability handles GET /api/v1/sessions/:id/capability
func (h *Handler) Capability(c *gin.Context) {
	resp, err := h.service.Capability(c.Param("id"))
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.Success(c, http.StatusOK, resp)
}

// ReportPermission handles PUT /api/v1/sessions/:id/permission
func (h *Handler) ReportPermission(c *gin.Context) {
	var req PermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.service.ReportPermission(c.Request.Context(), c.Param("id"), req.Permission); err != nil {
		common.HandleError(c, err)
		return
	}
	common.Success(c, http.StatusOK, gin.H{"permission": req.Permission})
}

// CanAlert handles GET /api/v1/sessions/:id/conversations/:cid/can-alert
func (h *Handler) CanAlert(c *gin.Context) {
	resp, err := h.service.CanAlert(c.Param("id"), ConversationID(c.Param("cid")))
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.Success(c, http.StatusOK, resp)
}

// Check handles POST /api/v1/sessions/:id/check
func (h *Handler) Check(c *gin.Context) {
	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.service.CheckForNewMessages(c.Param("id"), &req)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.Success(c, http.StatusOK, resp)
}

// Snapshot handles POST /api/v1/sessions/:id/conversations/:cid/snapshot
func (h *Handler) Snapshot(c *gin.Context) {
	var req SnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.service.ObserveSnapshot(c.Param("id"), ConversationID(c.Param("cid")), &req)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.Success(c, http.StatusOK, resp)
}

// Activate handles POST /api/v1/sessions/:id/alerts/:tag/activate
func (h *Handler) Activate(c *gin.Context) {
	if err := h.service.Activate(c.Param("id"), c.Param("tag")); err != nil {
		common.HandleError(c, err)
		return
	}
	common.Success(c, http.StatusOK, gin.H{"status": "activated"})
}

// Events handles GET /api/v1/sessions/:id/events
// Streams host commands for the session as server-sent events.
func (h *Handler) Events(c *gin.Context) {
	if h.events == nil {
		common.Error(c, http.StatusServiceUnavailable, "event stream not configured")
		return
	}

	sessionID := c.Param("id")
	if _, err := h.service.Session(sessionID); err != nil {
		common.HandleError(c, err)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		common.Error(c, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := c.Request.Context()
	lastID := c.Query("last_id")
	if lastID == "" {
		pos, err := h.events.Now(ctx)
		if err != nil {
			slog.Error("reading stream position failed", "session_id", sessionID, "error", err)
			common.HandleError(c, common.NewUpstreamError("event stream", err))
			return
		}
		lastID = pos
	}

	setSSEHeaders(c.Writer)
	sseWrite(c.Writer, "ping", "ready")
	flusher.Flush()

	for {
		if ctx.Err() != nil {
			return
		}

		events, err := h.events.Read(ctx, sessionID, lastID, streamBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("reading session events failed", "session_id", sessionID, "error", err)
			sseWrite(c.Writer, "error", gin.H{"error": err.Error()})
			flusher.Flush()
			time.Sleep(time.Second)
			continue
		}

		if len(events) == 0 {
			// Keeps idle sessions alive while the viewer is connected.
			if _, err := h.service.Session(sessionID); err != nil {
				sseWrite(c.Writer, "end", gin.H{"session_id": sessionID})
				flusher.Flush()
				return
			}
			sseWrite(c.Writer, "ping", time.Now().UTC().Format(time.RFC3339Nano))
			flusher.Flush()
			continue
		}

		for _, ev := range events {
			lastID = ev.ID
			sseWrite(c.Writer, string(ev.Event.Type), ev.Event)
		}
		flusher.Flush()
	}
}

// GetAlert handles GET /api/v1/alerts/:id
func (h *Handler) GetAlert(c *gin.Context) {
	alertLog, err := h.service.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.Success(c, http.StatusOK, alertLog)
}

// ListAlerts handles GET /api/v1/alerts
func (h *Handler) ListAlerts(c *gin.Context) {
	var filter ListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid query parameters: "+err.Error())
		return
	}

	resp, err := h.service.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		common.HandleError(c, err)
		return
	}
	common.Success(c, http.StatusOK, resp)
}

// RegisterRoutes registers alert routes to the given router group.
// Session routes additionally require a viewer identity.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	sessions.POST("", middleware.Viewer(), h.StartSession)
	sessions.DELETE("/:id", h.EndSession)
	sessions.GET("/:id/capability", h.Capability)
	sessions.PUT("/:id/permission", h.ReportPermission)
	sessions.GET("/:id/conversations/:cid/can-alert", h.CanAlert)
	sessions.POST("/:id/conversations/:cid/snapshot", h.Snapshot)
	sessions.POST("/:id/check", h.Check)
	sessions.POST("/:id/alerts/:tag/activate", h.Activate)
	sessions.GET("/:id/events", h.Events)

	rg.GET("/alerts", h.ListAlerts)
	rg.GET("/alerts/:id", h.GetAlert)
}

func setSSEHeaders(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
}

func sseWrite(w http.ResponseWriter, event string, data any) {
	payload := marshalPayload(data)
	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}
	for _, line := range strings.Split(payload, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
}

func marshalPayload(data any) string {
	switch payload := data.(type) {
	case string:
		return payload
	case []byte:
		return string(payload)
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprintf("%v", data)
		}
		return string(b)
	}
}
