package events

import (
	"time"

	"github.com/codeready-toolchain/flowscope/pkg/timeline"
)

// BasePayload holds the routing fields shared by every message.
type BasePayload struct {
	Type       string `json:"type"`
	WorkflowID string `json:"workflow_id"`
	Timestamp  string `json:"timestamp"` // RFC3339Nano
}

// ExecutionEventPayload announces one stored execution event.
type ExecutionEventPayload struct {
	BasePayload
	EventType string            `json:"event_type"`
	RunID     string            `json:"run_id,omitempty"`
	Event     timeline.Envelope `json:"event"`
}

// SessionUpdatedPayload summarizes the live session after a fold.
type SessionUpdatedPayload struct {
	BasePayload
	Cursor        int   `json:"cursor"`
	SectionCount  int   `json:"section_count"`
	SubagentCount int   `json:"subagent_count"`
	ApproxBytes   int   `json:"approx_bytes"`
	LastEventID   int64 `json:"last_event_id"`
	Folded        int   `json:"folded"`
	Reset         bool  `json:"reset"`
	Evicted       int   `json:"evicted"`
	Dropped       int   `json:"dropped"`
}

// WorkflowResetPayload tells clients a workflow's history was cleared.
type WorkflowResetPayload struct {
	BasePayload
	Deleted int `json:"deleted"`
}

// WorkflowActivityPayload is the compact notice on GlobalWorkflowsChannel.
type WorkflowActivityPayload struct {
	BasePayload
	DBEventID int64 `json:"db_event_id"`
}

func newBase(eventType, workflowID string, at time.Time) BasePayload {
	return BasePayload{
		Type:       eventType,
		WorkflowID: workflowID,
		Timestamp:  at.UTC().Format(time.RFC3339Nano),
	}
}

// NewExecutionEventPayload builds the payload announced for a stored event.
func NewExecutionEventPayload(workflowID, runID string, env timeline.Envelope, at time.Time) ExecutionEventPayload {
	return ExecutionEventPayload{
		BasePayload: newBase(EventTypeExecutionEvent, workflowID, at),
		EventType:   env.Type,
		RunID:       runID,
		Event:       env,
	}
}

// NewSessionUpdatedPayload builds a session.updated message.
func NewSessionUpdatedPayload(workflowID string, at time.Time) SessionUpdatedPayload {
	return SessionUpdatedPayload{BasePayload: newBase(EventTypeSessionUpdated, workflowID, at)}
}
