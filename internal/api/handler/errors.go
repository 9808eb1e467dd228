package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/fetch-service/internal/domain"
)

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	var be *domain.BackendError
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotStarted):
		return http.StatusServiceUnavailable
	case errors.As(err, &be):
		if be.Kind == domain.ErrorKindInterrupted {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the error body. Internal failures are attached to the
// context for the request logger and their detail is not exposed.
func respondError(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	body := gin.H{"error": msg}

	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	} else {
		body["detail"] = err.Error()
		var be *domain.BackendError
		if errors.As(err, &be) {
			body["error_kind"] = be.Kind
		}
	}

	c.JSON(status, body)
}
