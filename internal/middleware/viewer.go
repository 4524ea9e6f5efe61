package middleware

import (
	"net/http"
	"strings"

	"chatalert/internal/common"

	"github.com/gin-gonic/gin"
)

const (
	viewerIDHeader   = "X-Viewer-ID"
	viewerRoleHeader = "X-Viewer-Role"

	// ViewerIDKey and ViewerRoleKey are the gin context keys set by Viewer.
	ViewerIDKey   = "viewerID"
	ViewerRoleKey = "viewerRole"

	defaultViewerRole = "user"
)

// Viewer reads the viewer identity asserted by the calling backend.
// It must run behind Auth: the headers are trusted as-is.
func Viewer() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(viewerIDHeader))
		if id == "" {
			common.Error(c, http.StatusUnauthorized, "missing X-Viewer-ID header")
			c.Abort()
			return
		}

		role := strings.ToLower(strings.TrimSpace(c.GetHeader(viewerRoleHeader)))
		if role == "" {
			role = defaultViewerRole
		}

		c.Set(ViewerIDKey, id)
		c.Set(ViewerRoleKey, role)
		c.Next()
	}
}
