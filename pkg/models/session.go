package models

import (
	"time"

	"github.com/codeready-toolchain/flowscope/pkg/timeline"
)

// SessionResponse summarizes the live session of one workflow.
type SessionResponse struct {
	WorkflowID    string                `json:"workflow_id"`
	Cursor        int                   `json:"cursor"`
	ApproxBytes   int                   `json:"approx_bytes"`
	SectionCount  int                   `json:"section_count"`
	SubagentCount int                   `json:"subagent_count"`
	LastEventID   int64                 `json:"last_event_id"`
	Diagnostics   []timeline.Diagnostic `json:"diagnostics"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// SectionsResponse carries projected agent sections.
type SectionsResponse struct {
	WorkflowID string                  `json:"workflow_id"`
	Filter     string                  `json:"filter"`
	Query      string                  `json:"q,omitempty"`
	Sections   []timeline.AgentSection `json:"sections"`
}

// SubagentsResponse lists nested agent invocations.
type SubagentsResponse struct {
	WorkflowID string                     `json:"workflow_id"`
	Subagents  []timeline.SubagentSession `json:"subagents"`
}

// ReplayResponse is a session folded from stored history in replay mode.
type ReplayResponse struct {
	WorkflowID  string                     `json:"workflow_id"`
	EventCount  int                        `json:"event_count"`
	Skipped     int                        `json:"skipped"`
	Filter      string                     `json:"filter"`
	Query       string                     `json:"q,omitempty"`
	Sections    []timeline.AgentSection    `json:"sections"`
	Subagents   []timeline.SubagentSession `json:"subagents"`
	Diagnostics []timeline.Diagnostic      `json:"diagnostics"`
}
