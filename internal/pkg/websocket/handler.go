package websocket

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/yigit/hackhub/internal/app/models/dto"
	"github.com/yigit/hackhub/internal/middleware"
)

// SessionOpener makes sure the user's session is running so that its store
// changes reach the hub
type SessionOpener interface {
	Open(ctx context.Context, userID string) error
}

// Handler for WebSocket connections
type Handler struct {
	hub      *Hub
	sessions SessionOpener
	logger   zerolog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, sessions SessionOpener, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		sessions: sessions,
		logger:   logger,
	}
}

// HandleConnection upgrades the request and streams the caller's store
// changes until the peer disconnects.
//
// GET /api/v1/ws
func (h *Handler) HandleConnection(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeUnauthorized, "Authentication required")))
		return
	}

	if err := h.sessions.Open(c.Request.Context(), identity.ID); err != nil {
		middleware.HandleAPIError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("userID", identity.ID).
			Msg("Failed to upgrade connection to WebSocket")
		return
	}

	client := &Client{
		hub:    h.hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: identity.ID,
		logger: h.logger,
	}

	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()

	h.logger.Info().
		Str("userID", identity.ID).
		Str("remoteAddr", conn.RemoteAddr().String()).
		Msg("WebSocket connection established")
}
