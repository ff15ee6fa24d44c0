package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/yigit/hackhub/internal/app/models/dto"
	"github.com/yigit/hackhub/internal/middleware"
)

// EventController handles community events and attendance
type EventController struct {
	sessions Sessions
}

// NewEventController creates a new EventController
func NewEventController(sessions Sessions) *EventController {
	return &EventController{sessions: sessions}
}

// List returns a community's events, soonest first
// @Router /communities/{id}/events [get]
func (c *EventController) List(ctx *gin.Context) {
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	events, err := reg.Events().Load(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ok(ctx, events)
}

// Create schedules an event; the creator attends it
// @Router /communities/{id}/events [post]
func (c *EventController) Create(ctx *gin.Context) {
	var req dto.CreateEventRequest
	if !middleware.BindJSON(ctx, &req) {
		return
	}
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	event, err := reg.Events().Create(ctx.Request.Context(), ctx.Param("id"), req.Title, req.Description, req.Location, req.StartsAt)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	created(ctx, event)
}

// ToggleAttend attends or leaves an event
// @Router /events/{id}/attend [post]
func (c *EventController) ToggleAttend(ctx *gin.Context) {
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	if _, err := reg.Events().LoadEvent(ctx.Request.Context(), ctx.Param("id")); err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	event, err := reg.Events().ToggleAttend(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ok(ctx, event)
}
