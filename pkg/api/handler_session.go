package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/flowscope/pkg/models"
	"github.com/codeready-toolchain/flowscope/pkg/monitor"
	"github.com/codeready-toolchain/flowscope/pkg/timeline"
	"github.com/codeready-toolchain/flowscope/pkg/view"
)

// snapshot loads the live session for the :id path parameter.
func (s *Server) snapshot(c *gin.Context) (*monitor.Snapshot, bool) {
	id, he := workflowID(c)
	if he != nil {
		abortWithError(c, he)
		return nil, false
	}
	snap, err := s.monitor.Snapshot(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, mapServiceError(err))
		return nil, false
	}
	return snap, true
}

// parseProjection reads the filter and q query parameters.
func parseProjection(c *gin.Context) (view.Filter, string, bool) {
	filter, err := view.ParseFilter(c.Query("filter"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, err.Error()))
		return "", "", false
	}
	return filter, c.Query("q"), true
}

// sessionHandler handles GET /api/v1/workflows/:id/session.
func (s *Server) sessionHandler(c *gin.Context) {
	snap, ok := s.snapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, &models.SessionResponse{
		WorkflowID:    snap.WorkflowID,
		Cursor:        snap.Cursor,
		ApproxBytes:   snap.ApproxBytes,
		SectionCount:  len(snap.Sections),
		SubagentCount: len(snap.Subagents),
		LastEventID:   snap.LastEventID,
		Diagnostics:   snap.Diagnostics,
		UpdatedAt:     snap.UpdatedAt,
	})
}

// sectionsHandler handles GET /api/v1/workflows/:id/sections.
func (s *Server) sectionsHandler(c *gin.Context) {
	filter, q, ok := parseProjection(c)
	if !ok {
		return
	}
	snap, ok := s.snapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, &models.SectionsResponse{
		WorkflowID: snap.WorkflowID,
		Filter:     string(filter),
		Query:      q,
		Sections:   view.Project(s.masker.MaskSections(snap.Sections), filter, q),
	})
}

// subagentsHandler handles GET /api/v1/workflows/:id/subagents.
func (s *Server) subagentsHandler(c *gin.Context) {
	snap, ok := s.snapshot(c)
	if !ok {
		return
	}
	subagents := s.masker.MaskSubagents(snap.Subagents)
	if subagents == nil {
		subagents = []timeline.SubagentSession{}
	}
	c.JSON(http.StatusOK, &models.SubagentsResponse{WorkflowID: snap.WorkflowID, Subagents: subagents})
}

// replayHandler handles GET /api/v1/workflows/:id/replay.
// It folds stored history into a fresh session in replay mode, independent
// of the live one, so unattributable events show up as diagnostics.
// Content is masked before the search runs.
func (s *Server) replayHandler(c *gin.Context) {
	id, he := workflowID(c)
	if he != nil {
		abortWithError(c, he)
		return
	}
	filter, q, ok := parseProjection(c)
	if !ok {
		return
	}
	maxLimit := int64(s.cfg.Server.HistoryLimit)
	limit, he := queryInt(c, "limit", maxLimit, 1, maxLimit)
	if he != nil {
		abortWithError(c, he)
		return
	}

	stored, err := s.eventService.History(c.Request.Context(), id, int(limit))
	if err != nil {
		abortWithError(c, mapServiceError(err))
		return
	}
	if len(stored) == 0 {
		abortWithError(c, NewHTTPError(http.StatusNotFound, "workflow not found"))
		return
	}

	evs := make([]timeline.Event, 0, len(stored))
	skipped := 0
	for _, row := range stored {
		ev, err := timeline.Decode(int(row.ID), row.Envelope())
		if err != nil {
			skipped++
			slog.Warn("Skipping undecodable stored event", "workflow_id", id, "event_id", row.ID, "error", err)
			continue
		}
		evs = append(evs, ev)
	}

	sess := timeline.NewSession()
	s.replay.Apply(sess, evs)

	c.JSON(http.StatusOK, &models.ReplayResponse{
		WorkflowID:  id,
		EventCount:  len(evs),
		Skipped:     skipped,
		Filter:      string(filter),
		Query:       q,
		Sections:    view.Project(s.masker.MaskSections(sess.Sections()), filter, q),
		Subagents:   s.masker.MaskSubagents(sess.SubagentSessions()),
		Diagnostics: sess.Diagnostics(),
	})
}
