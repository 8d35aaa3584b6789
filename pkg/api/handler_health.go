package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/flowscope/pkg/database"
	"github.com/codeready-toolchain/flowscope/pkg/version"
)

// healthHandler handles GET /health.
// Only flowscope's own components are checked: the database and the
// in-process monitor.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := database.StatusHealthy

	dbHealth, err := database.Health(reqCtx, s.dbClient.DB())
	switch {
	case err != nil:
		status = database.StatusUnhealthy
		checks["database"] = HealthCheck{Status: database.StatusUnhealthy, Message: err.Error()}
	case dbHealth.SchemaDirty:
		status = database.StatusDegraded
		checks["database"] = HealthCheck{Status: database.StatusDegraded, Message: "schema migration left dirty"}
	default:
		checks["database"] = HealthCheck{Status: database.StatusHealthy}
	}

	resp := &HealthResponse{
		Status:   status,
		Version:  version.GitCommit,
		Build:    version.Current(),
		Database: dbHealth,
		Checks:   checks,
	}
	if s.monitor != nil {
		resp.Workflows = s.monitor.Count()
		checks["monitor"] = HealthCheck{Status: database.StatusHealthy}
	}
	if s.connManager != nil {
		resp.ActiveConnections = s.connManager.ActiveConnections()
	}

	httpStatus := http.StatusOK
	if status == database.StatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, resp)
}
