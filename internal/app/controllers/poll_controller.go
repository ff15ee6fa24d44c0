package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yigit/hackhub/internal/app/models/dto"
	"github.com/yigit/hackhub/internal/middleware"
)

// PollController handles polls and votes
type PollController struct {
	sessions Sessions
}

// NewPollController creates a new PollController
func NewPollController(sessions Sessions) *PollController {
	return &PollController{sessions: sessions}
}

// List returns the polls of a community or group with percentages
// @Router /polls [get]
func (c *PollController) List(ctx *gin.Context) {
	ownerID := ctx.Query("ownerId")
	if ownerID == "" {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeInvalidRequest, "ownerId is required").WithField("ownerId")))
		return
	}
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	polls, err := reg.Polls().Load(ctx.Request.Context(), ownerID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ok(ctx, polls)
}

// Create creates a poll with its options
// @Router /polls [post]
func (c *PollController) Create(ctx *gin.Context) {
	var req dto.CreatePollRequest
	if !middleware.BindJSON(ctx, &req) {
		return
	}
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	poll, err := reg.Polls().Create(ctx.Request.Context(), req.OwnerID, req.Question, req.MultipleChoice, req.Options)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	created(ctx, poll)
}

// Vote casts the caller's vote
// @Router /polls/{id}/votes [post]
func (c *PollController) Vote(ctx *gin.Context) {
	var req dto.VoteRequest
	if !middleware.BindJSON(ctx, &req) {
		return
	}
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	if _, err := reg.Polls().LoadPoll(ctx.Request.Context(), ctx.Param("id")); err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	poll, err := reg.Polls().Vote(ctx.Request.Context(), ctx.Param("id"), req.OptionID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ok(ctx, poll)
}
