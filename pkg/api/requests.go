package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/flowscope/pkg/models"
	"github.com/codeready-toolchain/flowscope/pkg/services"
	"github.com/codeready-toolchain/flowscope/pkg/timeline"
)

// decodeAppendBody accepts either a single envelope or {"events": [...]}.
func decodeAppendBody(body []byte) ([]timeline.Envelope, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, services.NewValidationError("body", "request body is required")
	}

	var probe struct {
		Events json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, services.NewValidationError("body", "must be a JSON object")
	}

	if probe.Events != nil {
		var req models.AppendEventsRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, services.NewValidationError("events", "must be an array of event envelopes")
		}
		if len(req.Events) == 0 {
			return nil, services.NewValidationError("events", "must not be empty")
		}
		return req.Events, nil
	}

	var env timeline.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, services.NewValidationError("body", "must be an event envelope")
	}
	return []timeline.Envelope{env}, nil
}

// queryInt parses an optional integer query parameter within [lo, hi].
func queryInt(c *gin.Context, name string, def, lo, hi int64) (int64, *HTTPError) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < lo || v > hi {
		return 0, NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("invalid %s: must be an integer between %d and %d", name, lo, hi))
	}
	return v, nil
}

// workflowID reads and validates the :id path parameter.
func workflowID(c *gin.Context) (string, *HTTPError) {
	id := c.Param("id")
	if err := services.ValidateWorkflowID(id); err != nil {
		return "", mapServiceError(err)
	}
	return id, nil
}
