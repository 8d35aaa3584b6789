package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/flowscope/pkg/monitor"
	"github.com/codeready-toolchain/flowscope/pkg/services"
)

// HTTPError is an error with an HTTP status code.
type HTTPError struct {
	Code    int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("code=%d, message=%s", e.Code, e.Message)
}

// NewHTTPError creates an HTTPError.
func NewHTTPError(code int, message string) *HTTPError {
	return &HTTPError{Code: code, Message: message}
}

// abortWithError writes the error response and stops the handler chain.
func abortWithError(c *gin.Context, he *HTTPError) {
	c.AbortWithStatusJSON(he.Code, ErrorResponse{Error: he.Message})
}

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, services.ErrInvalidEvent) {
		return NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if errors.Is(err, services.ErrNotFound) || errors.Is(err, monitor.ErrUnknownWorkflow) {
		return NewHTTPError(http.StatusNotFound, "workflow not found")
	}
	if errors.Is(err, monitor.ErrStopped) {
		return NewHTTPError(http.StatusServiceUnavailable, "monitor is shutting down")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return NewHTTPError(http.StatusInternalServerError, "internal server error")
}
