package api

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/flowscope/pkg/events"
	"github.com/codeready-toolchain/flowscope/pkg/models"
	"github.com/codeready-toolchain/flowscope/pkg/services"
)

// maxBodyBytes caps ingest request bodies.
const maxBodyBytes = 8 << 20

// appendEventsHandler handles POST /api/v1/workflows/:id/events.
func (s *Server) appendEventsHandler(c *gin.Context) {
	id, he := workflowID(c)
	if he != nil {
		abortWithError(c, he)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large"))
		return
	}
	envs, err := decodeAppendBody(body)
	if err != nil {
		abortWithError(c, mapServiceError(err))
		return
	}
	if len(envs) > s.cfg.Ingest.MaxBatch {
		abortWithError(c, mapServiceError(services.NewValidationError("events",
			fmt.Sprintf("at most %d events per request", s.cfg.Ingest.MaxBatch))))
		return
	}

	batch := make([]events.PendingEvent, len(envs))
	for i, env := range envs {
		ev, err := services.ValidateEnvelope(id, env)
		if err != nil {
			abortWithError(c, mapServiceError(fmt.Errorf("events[%d]: %w", i, err)))
			return
		}
		batch[i] = events.PendingEvent{Envelope: env, RunID: ev.Route.RunID}
	}

	ids, err := s.publisher.PublishExecutionEvents(c.Request.Context(), id, batch)
	if err != nil {
		abortWithError(c, mapServiceError(err))
		return
	}
	if s.monitor != nil {
		s.monitor.Refresh(id)
	}

	c.JSON(http.StatusCreated, &models.AppendEventsResponse{WorkflowID: id, IDs: ids})
}

// listEventsHandler handles GET /api/v1/workflows/:id/events.
// With q set, stored events are matched by full-text search instead.
func (s *Server) listEventsHandler(c *gin.Context) {
	id, he := workflowID(c)
	if he != nil {
		abortWithError(c, he)
		return
	}
	maxLimit := int64(s.cfg.Server.HistoryLimit)
	limit, he := queryInt(c, "limit", maxLimit, 1, maxLimit)
	if he != nil {
		abortWithError(c, he)
		return
	}

	ctx := c.Request.Context()
	if q := c.Query("q"); q != "" {
		found, err := s.eventService.Search(ctx, id, q, int(limit))
		if err != nil {
			abortWithError(c, mapServiceError(err))
			return
		}
		if found == nil {
			found = []*models.StoredEvent{}
		}
		c.JSON(http.StatusOK, &models.EventsResponse{WorkflowID: id, Events: found})
		return
	}

	after, he := queryInt(c, "after", 0, 0, math.MaxInt64)
	if he != nil {
		abortWithError(c, he)
		return
	}

	// One extra row tells whether another page exists.
	page, err := s.eventService.ListSince(ctx, id, after, int(limit)+1)
	if err != nil {
		abortWithError(c, mapServiceError(err))
		return
	}
	hasMore := len(page) > int(limit)
	if hasMore {
		page = page[:limit]
	}
	if page == nil {
		page = []*models.StoredEvent{}
	}

	c.JSON(http.StatusOK, &models.EventsResponse{WorkflowID: id, Events: page, HasMore: hasMore})
}

// resetWorkflowHandler handles DELETE /api/v1/workflows/:id/events.
// It clears the stored history so the next event starts a new execution.
func (s *Server) resetWorkflowHandler(c *gin.Context) {
	id, he := workflowID(c)
	if he != nil {
		abortWithError(c, he)
		return
	}
	ctx := c.Request.Context()

	deleted, err := s.eventService.DeleteWorkflow(ctx, id)
	if err != nil {
		abortWithError(c, mapServiceError(err))
		return
	}

	// History is already gone; a failed notice only delays other replicas.
	if err := s.publisher.PublishWorkflowReset(ctx, id, deleted); err != nil {
		slog.Warn("Failed to publish workflow reset", "workflow_id", id, "error", err)
	}
	if s.monitor != nil {
		if err := s.monitor.Reset(ctx, id); err != nil {
			slog.Warn("Failed to reset live session", "workflow_id", id, "error", err)
		}
	}

	slog.Info("Workflow history cleared", "workflow_id", id, "deleted", deleted)
	c.JSON(http.StatusOK, &ResetResponse{WorkflowID: id, Deleted: deleted})
}
