package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/yigit/hackhub/internal/app/models"
	"github.com/yigit/hackhub/internal/app/models/dto"
	"github.com/yigit/hackhub/internal/middleware"
	"github.com/yigit/hackhub/internal/pkg/apperrors"
	"github.com/yigit/hackhub/internal/pkg/auth"
)

// Accounts is the session side of authentication
type Accounts interface {
	Sessions
	UserByEmail(ctx context.Context, email string) (models.User, error)
	Release(userID string) error
}

// AuthController issues tokens and ends sessions
type AuthController struct {
	accounts   Accounts
	jwtService *auth.JWTService
	logger     zerolog.Logger
}

// NewAuthController creates a new AuthController
func NewAuthController(accounts Accounts, jwtService *auth.JWTService, logger zerolog.Logger) *AuthController {
	return &AuthController{
		accounts:   accounts,
		jwtService: jwtService,
		logger:     logger,
	}
}

// IssueToken handles token requests for registered users
// @Summary Issue an access token
// @Tags auth
// @Param request body dto.TokenRequest true "User email"
// @Success 200 {object} dto.APIResponse{data=dto.TokenResponse}
// @Failure 404 {object} dto.ErrorResponse "User not found"
// @Router /auth/token [post]
func (c *AuthController) IssueToken(ctx *gin.Context) {
	var req dto.TokenRequest
	if !middleware.BindJSON(ctx, &req) {
		return
	}

	user, err := c.accounts.UserByEmail(ctx.Request.Context(), req.Email)
	if err != nil {
		c.logger.Warn().Err(err).Str("email", req.Email).Msg("Token requested for unknown user")
		middleware.HandleAPIError(ctx, err)
		return
	}

	token, expiresIn, err := c.jwtService.GenerateToken(user)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	c.logger.Info().Str("userID", user.ID).Msg("Access token issued")
	ok(ctx, dto.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
		User:        user,
	})
}

// Me returns the caller's identity and starts their session
// @Summary Current identity
// @Tags auth
// @Security BearerAuth
// @Router /auth/me [get]
func (c *AuthController) Me(ctx *gin.Context) {
	reg, found := session(ctx, c.accounts)
	if !found {
		return
	}
	identity, _ := reg.Identity().Current()
	ok(ctx, identity)
}

// Logout ends the caller's session
// @Summary Log out
// @Tags auth
// @Security BearerAuth
// @Router /auth/logout [post]
func (c *AuthController) Logout(ctx *gin.Context) {
	identity, found := middleware.CurrentIdentity(ctx)
	if !found {
		middleware.HandleAPIError(ctx, apperrors.Unauthenticated("auth.Logout"))
		return
	}
	if err := c.accounts.Release(identity.ID); err != nil {
		c.logger.Error().Err(err).Str("userID", identity.ID).Msg("Failed to close session")
	}
	ctx.JSON(http.StatusOK, dto.NewMessageResponse("Logged out"))
}
