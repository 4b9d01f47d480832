package realtime

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/richxcame/dispatch-core/pkg/logger"
	"github.com/richxcame/dispatch-core/pkg/models"
	ws "github.com/richxcame/dispatch-core/pkg/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: In production, implement proper origin checking
		return true
	},
}

// Handler upgrades authenticated HTTP requests into channels and
// registers them with the hub. Identity and role are fixed at upgrade
// time from the JWT middleware's context keys and never reread from
// the frame stream afterwards.
type Handler struct {
	hub *ws.Hub
}

// NewHandler builds a handler bound to hub. Presence bookkeeping
// (Connection Registry attach/detach) already happens inside hub via
// whichever OnPresenceChange callback was registered during wiring —
// the handler itself only deals with the HTTP<->WebSocket boundary.
func NewHandler(hub *ws.Hub) *Handler {
	return &Handler{hub: hub}
}

// HandleWebSocket upgrades the connection and registers a channel
// under the JWT-derived identity and role. Identity is never reread
// from the frame stream afterwards.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	id, ok := userID.(uuid.UUID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid identity"})
		return
	}

	role := string(models.RoleRider)
	if r, exists := c.Get("user_role"); exists {
		if ur, ok := r.(models.UserRole); ok {
			role = string(ur)
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Get().Warn("realtime: websocket upgrade failed", zap.Error(err))
		return
	}

	client := ws.NewClient(id.String(), conn, h.hub, role)
	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()

	logger.Get().Info("realtime: channel established", zap.String("identity", id.String()), zap.String("role", role))
}

// GetStats reports live channel counts for an admin dashboard polling
// connection health.
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": h.hub.GetClientCount(),
	})
}
