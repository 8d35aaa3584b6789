// Package events provides real-time delivery of execution events via
// WebSocket and PostgreSQL NOTIFY/LISTEN for cross-pod distribution.
//
// Every ingested execution event is stored in the execution_events table
// and announced on the workflow's channel ("workflow:{id}") inside the same
// transaction. A compact activity notice goes to the global "workflows"
// channel so that every pod's session monitor can refresh, whether or not
// a browser is subscribed to that workflow.
//
// Message types on a workflow channel:
//
//	execution.event   persisted; carries the wire envelope and db_event_id
//	session.updated   transient; sent by the local monitor after each fold
//	workflow.reset    transient; history was cleared (new execution)
//
// Clients track the last db_event_id they saw and send a catchup request
// after reconnecting. More than the catchup limit of missed events yields
// catchup.overflow, and the client reloads over REST.
package events

import "strings"

// Persistent event types (stored in DB + NOTIFY).
const (
	EventTypeExecutionEvent = "execution.event"
)

// Transient event types (NOTIFY or local broadcast only, no DB persistence).
const (
	EventTypeSessionUpdated   = "session.updated"
	EventTypeWorkflowReset    = "workflow.reset"
	EventTypeWorkflowActivity = "workflow.activity"
)

// GlobalWorkflowsChannel carries workflow.activity and workflow.reset
// notices for every workflow.
const GlobalWorkflowsChannel = "workflows"

const workflowChannelPrefix = "workflow:"

// WorkflowChannel returns the channel name for a specific workflow's events.
// Format: "workflow:{workflow_id}"
func WorkflowChannel(workflowID string) string {
	return workflowChannelPrefix + workflowID
}

// WorkflowIDFromChannel extracts the workflow id from a workflow channel.
func WorkflowIDFromChannel(channel string) (string, bool) {
	id, ok := strings.CutPrefix(channel, workflowChannelPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string `json:"channel,omitempty"`       // Channel name (e.g., "workflow:abc-123")
	LastEventID *int64 `json:"last_event_id,omitempty"` // For catchup
}
