// Package controllers handles HTTP request handling
package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yigit/hackhub/internal/app/models/dto"
	"github.com/yigit/hackhub/internal/middleware"
	"github.com/yigit/hackhub/internal/registry"
)

// Sessions hands out the store registry of a signed-in user
type Sessions interface {
	Acquire(ctx context.Context, userID string) (*registry.Registry, error)
}

// session resolves the caller's registry. It writes the error response and
// returns false when the caller has no usable session.
func session(ctx *gin.Context, sessions Sessions) (*registry.Registry, bool) {
	identity, ok := middleware.CurrentIdentity(ctx)
	if !ok {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeUnauthorized, "Authentication required")))
		return nil, false
	}

	reg, err := sessions.Acquire(ctx.Request.Context(), identity.ID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return nil, false
	}
	return reg, true
}

func ok(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

func created(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}
