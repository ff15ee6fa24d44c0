package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yigit/hackhub/internal/app/models/dto"
	"github.com/yigit/hackhub/internal/middleware"
	"github.com/yigit/hackhub/internal/pkg/helpers"
	"github.com/yigit/hackhub/internal/registry"
)

// NotificationController handles the caller's notifications
type NotificationController struct {
	sessions Sessions
}

// NewNotificationController creates a new NotificationController
func NewNotificationController(sessions Sessions) *NotificationController {
	return &NotificationController{sessions: sessions}
}

// List returns a page of notifications, newest first
// @Router /notifications [get]
func (c *NotificationController) List(ctx *gin.Context) {
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	list, err := reg.Notifications().Load(ctx.Request.Context())
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	page, size := helpers.ParsePaginationParams(ctx)
	ok(ctx, gin.H{
		"notifications": helpers.Paginate(list, page, size),
		"unreadCount":   reg.Notifications().UnreadCount(),
	})
}

func ensureNotification(ctx *gin.Context, reg *registry.Registry) bool {
	if _, cached := reg.Notifications().Cache().Get(ctx.Param("id")); cached {
		return true
	}
	if _, err := reg.Notifications().Load(ctx.Request.Context()); err != nil {
		middleware.HandleAPIError(ctx, err)
		return false
	}
	return true
}

// MarkAsRead marks one notification read
// @Router /notifications/{id}/read [put]
func (c *NotificationController) MarkAsRead(ctx *gin.Context) {
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	if !ensureNotification(ctx, reg) {
		return
	}
	n, err := reg.Notifications().MarkAsRead(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ok(ctx, n)
}

// MarkAllAsRead marks every unread notification read
// @Router /notifications/read-all [put]
func (c *NotificationController) MarkAllAsRead(ctx *gin.Context) {
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	if err := reg.Notifications().MarkAllAsRead(ctx.Request.Context()); err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewMessageResponse("All notifications marked as read"))
}

// Delete removes a notification
// @Router /notifications/{id} [delete]
func (c *NotificationController) Delete(ctx *gin.Context) {
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	if !ensureNotification(ctx, reg) {
		return
	}
	if err := reg.Notifications().Delete(ctx.Request.Context(), ctx.Param("id")); err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, dto.NewMessageResponse("Notification deleted"))
}
