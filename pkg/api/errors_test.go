package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/flowscope/pkg/monitor"
	"github.com/codeready-toolchain/flowscope/pkg/services"
	"github.com/codeready-toolchain/flowscope/pkg/timeline"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectMsg  string
	}{
		{
			name:       "validation error maps to 400",
			err:        services.NewValidationError("workflow_id", "required"),
			expectCode: http.StatusBadRequest,
			expectMsg:  "required",
		},
		{
			name:       "invalid event maps to 400 with decode detail",
			err:        fmt.Errorf("events[1]: %w: %w", services.ErrInvalidEvent, &timeline.DecodeError{Field: "type", Err: fmt.Errorf("event type is required")}),
			expectCode: http.StatusBadRequest,
			expectMsg:  "events[1]",
		},
		{
			name:       "not found maps to 404",
			err:        fmt.Errorf("wrapped: %w", services.ErrNotFound),
			expectCode: http.StatusNotFound,
			expectMsg:  "workflow not found",
		},
		{
			name:       "unknown workflow maps to 404",
			err:        monitor.ErrUnknownWorkflow,
			expectCode: http.StatusNotFound,
			expectMsg:  "workflow not found",
		},
		{
			name:       "stopped monitor maps to 503",
			err:        monitor.ErrStopped,
			expectCode: http.StatusServiceUnavailable,
			expectMsg:  "shutting down",
		},
		{
			name:       "unknown error maps to 500",
			err:        fmt.Errorf("something unexpected happened"),
			expectCode: http.StatusInternalServerError,
			expectMsg:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapServiceError(tt.err)
			assert.Equal(t, tt.expectCode, he.Code)
			assert.Contains(t, he.Message, tt.expectMsg)
			assert.Contains(t, he.Error(), tt.expectMsg)
		})
	}
}
