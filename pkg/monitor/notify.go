package monitor

import (
	"encoding/json"
	"log/slog"

	"github.com/codeready-toolchain/flowscope/pkg/events"
)

// HandleNotification reacts to messages on the global workflows channel.
// It never blocks: refreshes and resets are coalesced per workflow.
func (m *Monitor) HandleNotification(channel string, payload []byte) {
	if channel != events.GlobalWorkflowsChannel {
		return
	}

	var base events.BasePayload
	if err := json.Unmarshal(payload, &base); err != nil {
		slog.Warn("Ignoring malformed workflow notification", "error", err)
		return
	}
	if base.WorkflowID == "" {
		return
	}

	switch base.Type {
	case events.EventTypeWorkflowActivity:
		m.Refresh(base.WorkflowID)
	case events.EventTypeWorkflowReset:
		if w, ok := m.lookup(base.WorkflowID); ok {
			w.requestReset()
		}
	}
}

// HandleReconnect refreshes every tracked workflow. Activity notices sent
// while the LISTEN connection was down never arrive.
func (m *Monitor) HandleReconnect() {
	m.mu.Lock()
	tracked := make([]*workflow, 0, len(m.workflows))
	for _, w := range m.workflows {
		tracked = append(tracked, w)
	}
	m.mu.Unlock()

	slog.Info("Resynchronizing workflows after LISTEN reconnect", "workflows", len(tracked))
	for _, w := range tracked {
		w.kick()
	}
}
