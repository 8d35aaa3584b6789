package models

import (
	"encoding/json"
	"time"

	"github.com/codeready-toolchain/flowscope/pkg/timeline"
)

// StoredEvent is one persisted execution event envelope.
type StoredEvent struct {
	ID         int64           `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	Type       string          `json:"type"`
	RunID      string          `json:"run_id,omitempty"`
	Data       json.RawMessage `json:"data"`
	Timestamp  *time.Time      `json:"timestamp,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Envelope returns the wire envelope the event was stored from.
func (e *StoredEvent) Envelope() timeline.Envelope {
	return timeline.Envelope{Type: e.Type, Data: e.Data, Timestamp: e.Timestamp}
}

// CreateEventRequest contains fields for persisting an event
type CreateEventRequest struct {
	WorkflowID string            `json:"workflow_id"`
	Envelope   timeline.Envelope `json:"event"`
}

// AppendEventsRequest is the batch form accepted by the ingest endpoint.
type AppendEventsRequest struct {
	Events []timeline.Envelope `json:"events"`
}

// AppendEventsResponse reports the ids assigned to appended events.
type AppendEventsResponse struct {
	WorkflowID string  `json:"workflow_id"`
	IDs        []int64 `json:"ids"`
}

// EventsResponse contains a page of stored events
type EventsResponse struct {
	WorkflowID string         `json:"workflow_id"`
	Events     []*StoredEvent `json:"events"`
	HasMore    bool           `json:"has_more"`
}
