package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkflowChannel(t *testing.T) {
	tests := []struct {
		name       string
		workflowID string
		want       string
	}{
		{"formats workflow channel", "abc-123", "workflow:abc-123"},
		{"handles UUID format", "550e8400-e29b-41d4-a716-446655440000", "workflow:550e8400-e29b-41d4-a716-446655440000"},
		{"handles empty string", "", "workflow:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WorkflowChannel(tt.workflowID))
		})
	}
}

func TestWorkflowIDFromChannel(t *testing.T) {
	id, ok := WorkflowIDFromChannel(WorkflowChannel("wf-9"))
	assert.True(t, ok)
	assert.Equal(t, "wf-9", id)

	for _, ch := range []string{"workflow:", GlobalWorkflowsChannel, "session:wf-9", ""} {
		_, ok := WorkflowIDFromChannel(ch)
		assert.False(t, ok, ch)
	}
}

func TestEventTypeConstants(t *testing.T) {
	types := []string{
		EventTypeExecutionEvent,
		EventTypeSessionUpdated,
		EventTypeWorkflowReset,
		EventTypeWorkflowActivity,
	}

	seen := make(map[string]bool)
	for _, typ := range types {
		assert.NotEmpty(t, typ)
		assert.False(t, seen[typ], "duplicate event type: %s", typ)
		seen[typ] = true
	}
}
