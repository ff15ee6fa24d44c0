package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yigit/hackhub/internal/app/models/dto"
	"github.com/yigit/hackhub/internal/backend"
	"github.com/yigit/hackhub/internal/pkg/apperrors"
	"github.com/yigit/hackhub/internal/pkg/logger"
)

// HandleAPIError maps a store error to its status code and error envelope
func HandleAPIError(c *gin.Context, err error) {
	status, detail := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	c.AbortWithStatusJSON(status, dto.NewErrorResponse(detail))
}

func classify(err error) (int, *dto.ErrorDetail) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		switch {
		case errors.Is(err, backend.ErrConflict):
			return http.StatusConflict, dto.NewErrorDetail(dto.ErrorCodeConflict, "Resource already exists")
		case errors.Is(err, backend.ErrNotFound):
			return http.StatusNotFound, dto.NewErrorDetail(dto.ErrorCodeResourceNotFound, "Resource not found")
		}
		return http.StatusInternalServerError, dto.NewErrorDetail(dto.ErrorCodeInternalServer, "Internal server error")
	}

	message := appErr.Message
	switch appErr.Kind {
	case apperrors.KindUnauthenticated:
		return http.StatusUnauthorized, dto.NewErrorDetail(dto.ErrorCodeUnauthorized, orDefault(message, "Authentication required"))
	case apperrors.KindForbidden:
		return http.StatusForbidden, dto.NewErrorDetail(dto.ErrorCodeForbidden, orDefault(message, "Not allowed"))
	case apperrors.KindNotFound:
		return http.StatusNotFound, dto.NewErrorDetail(dto.ErrorCodeResourceNotFound, orDefault(message, "Resource not found"))
	case apperrors.KindInconsistent:
		return http.StatusConflict, dto.NewErrorDetail(dto.ErrorCodeInconsistent, orDefault(message, "Request conflicts with current state"))
	case apperrors.KindAlreadyInProgress:
		return http.StatusConflict, dto.NewErrorDetail(dto.ErrorCodeInProgress, "Another change to this item is still in progress").
			WithSeverity(dto.ErrorSeverityWarning)
	case apperrors.KindPartialFailure:
		details := gin.H{"failedStep": appErr.Step, "completed": appErr.Completed}
		if appErr.Confirmed != nil {
			details["confirmed"] = appErr.Confirmed
		}
		return http.StatusInternalServerError, dto.NewErrorDetail(dto.ErrorCodePartialFailure, "Operation partially completed").
			WithDetails(details)
	case apperrors.KindRemoteRejected:
		return http.StatusBadGateway, dto.NewErrorDetail(dto.ErrorCodeRemoteRejected, "Backend rejected the change")
	default:
		return http.StatusInternalServerError, dto.NewErrorDetail(dto.ErrorCodeInternalServer, "Internal server error")
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
