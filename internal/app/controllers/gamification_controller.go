package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/yigit/hackhub/internal/app/models/dto"
	"github.com/yigit/hackhub/internal/middleware"
	"github.com/yigit/hackhub/internal/pkg/helpers"
)

// GamificationController handles points, badges and the leaderboard
type GamificationController struct {
	sessions Sessions
}

// NewGamificationController creates a new GamificationController
func NewGamificationController(sessions Sessions) *GamificationController {
	return &GamificationController{sessions: sessions}
}

// Badges returns the badge catalog
// @Router /gamification/badges [get]
func (c *GamificationController) Badges(ctx *gin.Context) {
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	badges, err := reg.Gamification().LoadBadges(ctx.Request.Context())
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ok(ctx, badges)
}

// Leaderboard returns the top profiles by points
// @Param limit query int false "Number of profiles" default(20)
// @Router /gamification/leaderboard [get]
func (c *GamificationController) Leaderboard(ctx *gin.Context) {
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	top, err := reg.Gamification().LoadLeaderboard(ctx.Request.Context(), helpers.ParseLimit(ctx, helpers.DefaultPageSize))
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ok(ctx, top)
}

// Profile returns a user's points, level and badges
// @Router /gamification/users/{userId} [get]
func (c *GamificationController) Profile(ctx *gin.Context) {
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	profile, err := reg.Gamification().LoadProfile(ctx.Request.Context(), ctx.Param("userId"))
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ok(ctx, profile)
}

// Achievements returns a user's point history
// @Router /gamification/users/{userId}/achievements [get]
func (c *GamificationController) Achievements(ctx *gin.Context) {
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	list, err := reg.Gamification().LoadAchievements(ctx.Request.Context(), ctx.Param("userId"))
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ok(ctx, list)
}

// AwardPoints grants points and any badges they unlock
// @Router /gamification/points [post]
func (c *GamificationController) AwardPoints(ctx *gin.Context) {
	var req dto.AwardPointsRequest
	if !middleware.BindJSON(ctx, &req) {
		return
	}
	reg, found := session(ctx, c.sessions)
	if !found {
		return
	}
	profile, err := reg.Gamification().AwardPoints(ctx.Request.Context(), req.UserID, req.Points, req.Action)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}
	ok(ctx, profile)
}
