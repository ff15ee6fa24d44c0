package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/yigit/hackhub/internal/app/models/dto"
	"github.com/yigit/hackhub/internal/middleware"
)

// MessageController handles direct messages
type MessageController struct {
	sessions Sessions
}

// NewMessageController creates a new MessageController
func NewMessageController(sessions Sessions) *MessageController {
	return &MessageController{sessions: sessions}
}

// Conversations returns one summary per counterparty with unread counts
// @Router /conversations [get]
func (c *MessageController) Conversations(ctx *gin.Context) {
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	conversations, err := reg.Messages().Load(ctx.Request.Context())
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ok(ctx, gin.H{"conversations": conversations, "unreadCount": reg.Messages().UnreadCount()})
}

// Open returns the thread with a counterparty and marks it read
// @Router /conversations/{userId} [get]
func (c *MessageController) Open(ctx *gin.Context) {
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	if reg.Messages().Cache().Len() == 0 {
		if _, err := reg.Messages().Load(ctx.Request.Context()); err != nil {
			middleware.HandleAPIError(ctx, err)
			return
		}
	}
	thread, err := reg.Messages().Open(ctx.Request.Context(), ctx.Param("userId"))
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ok(ctx, thread)
}

// Send sends a direct message
// @Router /messages [post]
func (c *MessageController) Send(ctx *gin.Context) {
	var req dto.SendMessageRequest
	if !middleware.BindJSON(ctx, &req) {
		return
	}
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	msg, err := reg.Messages().Send(ctx.Request.Context(), req.ReceiverID, req.Content)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	created(ctx, msg)
}
