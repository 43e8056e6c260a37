package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"presence-service/internal/domain"
	"presence-service/internal/job"
	"presence-service/internal/response"
)

// handleServiceError maps service layer errors to appropriate HTTP responses
func handleServiceError(c *gin.Context, logger *zap.Logger, err error) {
	var validationErr *domain.ValidationError
	var appErr *response.AppError

	switch {
	case errors.As(err, &validationErr):
		response.SendError(c, http.StatusBadRequest, response.ErrCodeValidation, validationErr.Error())
	case errors.Is(err, domain.ErrValidation):
		response.SendError(c, http.StatusBadRequest, response.ErrCodeValidation, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		response.SendError(c, http.StatusNotFound, response.ErrCodeNotFound, "Resource not found")
	case errors.Is(err, domain.ErrOutOfOrderObservation):
		response.SendError(c, http.StatusConflict, response.ErrCodeConflict, "Observation is older than the current interval")
	case errors.Is(err, domain.ErrConcurrentModification):
		response.SendError(c, http.StatusConflict, response.ErrCodeConflict, "Interval was modified concurrently, retry")
	case errors.Is(err, job.ErrPollerNotHalted), errors.Is(err, job.ErrPollerRunning):
		response.SendError(c, http.StatusConflict, response.ErrCodeConflict, err.Error())
	case errors.Is(err, domain.ErrAuthorizationExpired):
		logger.Warn("Presence source authorization still rejected", zap.Error(err))
		response.SendError(c, http.StatusServiceUnavailable, response.ErrCodeUnavailable, "Presence source authorization expired")
	case errors.Is(err, domain.ErrTransientIO):
		logger.Error("Transient failure serving request", zap.Error(err), zap.String("path", c.FullPath()))
		response.SendError(c, http.StatusServiceUnavailable, response.ErrCodeTransient, "Temporarily unavailable, retry later")
	case errors.As(err, &appErr):
		response.SendError(c, mapErrorCodeToHTTPStatus(appErr.Code), appErr.Code, appErr.Message)
	default:
		logger.Error("Unhandled service error", zap.Error(err), zap.String("path", c.FullPath()))
		response.SendError(c, http.StatusInternalServerError, response.ErrCodeInternal, "Internal server error")
	}
}

// mapErrorCodeToHTTPStatus maps error codes to HTTP status codes
func mapErrorCodeToHTTPStatus(code string) int {
	switch code {
	case response.ErrCodeValidation:
		return http.StatusBadRequest
	case response.ErrCodeNotFound:
		return http.StatusNotFound
	case response.ErrCodeConflict:
		return http.StatusConflict
	case response.ErrCodeTransient, response.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
