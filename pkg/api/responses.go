package api

import (
	"github.com/codeready-toolchain/flowscope/pkg/database"
	"github.com/codeready-toolchain/flowscope/pkg/version"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthCheck is the status of one component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status            string                 `json:"status"`
	Version           string                 `json:"version"`
	Build             version.Info           `json:"build"`
	Database          *database.HealthStatus `json:"database,omitempty"`
	Checks            map[string]HealthCheck `json:"checks"`
	Workflows         int                    `json:"workflows"`
	ActiveConnections int                    `json:"active_connections"`
}

// ResetResponse is returned by DELETE /api/v1/workflows/:id/events.
type ResetResponse struct {
	WorkflowID string `json:"workflow_id"`
	Deleted    int    `json:"deleted"`
}
