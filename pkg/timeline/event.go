// Package timeline folds execution events into per-agent section timelines.
//
// A Session is the root aggregate for one observed workflow execution. The
// Reducer advances a cursor over an append-mostly event collection, routes
// each unseen event to a top-level section or a nested subagent session, and
// keeps the number of sections bounded. Session is single-writer: callers
// must serialize Apply calls for the same Session.
package timeline

import (
	"encoding/json"
	"time"
)

// Kind enumerates execution event kinds.
type Kind string

const (
	KindChainStart    Kind = "chain_start"
	KindChainEnd      Kind = "chain_end"
	KindToken         Kind = "token"
	KindStreamEnd     Kind = "stream_end"
	KindToolPreparing Kind = "tool_preparing"
	KindToolStart     Kind = "tool_start"
	KindToolEnd       Kind = "tool_end"
	KindAgentFinish   Kind = "agent_finish"
	KindError         Kind = "error"
	KindSubagentStart Kind = "subagent_start"
	KindSubagentEnd   Kind = "subagent_end"
	KindOther         Kind = "other"
)

// Route carries the identifiers every event kind may use for attribution.
type Route struct {
	AgentLabel  string `json:"agent_label,omitempty"`
	NodeID      string `json:"node_id,omitempty"`
	RunID       string `json:"run_id,omitempty"`
	ParentRunID string `json:"parent_run_id,omitempty"`

	// SubagentRunID is empty both when the key is absent and when the
	// producer sent null; either way parent-run fallback routing applies.
	SubagentRunID string `json:"subagent_run_id,omitempty"`
}

// Event is an immutable unit of input. Kind is derived from Payload.
type Event struct {
	Sequence  int
	Timestamp time.Time
	Route     Route
	Payload   Payload
}

// Kind returns the event kind, KindOther when the payload is missing.
func (e Event) Kind() Kind {
	if e.Payload == nil {
		return KindOther
	}
	return e.Payload.Kind()
}

// MarshalJSON flattens the route and tags the payload with its kind.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Sequence  int       `json:"sequence"`
		Timestamp time.Time `json:"timestamp"`
		Kind      Kind      `json:"kind"`
		Route
		Payload Payload `json:"payload,omitempty"`
	}{e.Sequence, e.Timestamp, e.Kind(), e.Route, e.Payload})
}

// Payload is the kind-specific part of an Event. The set of implementations
// is closed to this package.
type Payload interface {
	Kind() Kind
	sealed()
}

// ContentBlock is a multimodal tool result block (text, image, audio, resource).
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	AltText  string `json:"alt_text,omitempty"`
	URI      string `json:"uri,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ChainStart opens (or refreshes) an agent section.
type ChainStart struct {
	Input string `json:"input,omitempty"`
}

// ChainEnd closes an agent section.
type ChainEnd struct {
	Output  string `json:"output,omitempty"`
	Success bool   `json:"success"`
}

// Token is one streamed fragment of model output.
type Token struct {
	Text string `json:"text"`
}

// StreamEnd marks the end of a model stream. Output is set by producers that
// did not stream tokens.
type StreamEnd struct {
	Output string `json:"output,omitempty"`
}

// ToolPreparing is an early signal that a tool call is being assembled.
type ToolPreparing struct {
	ToolName string `json:"tool_name,omitempty"`
}

// ToolStart begins a tool call.
type ToolStart struct {
	ToolName string `json:"tool_name"`
	Input    string `json:"input,omitempty"`
}

// ToolEnd completes a tool call. Success is false for producers that report
// tool failure on the end event itself.
type ToolEnd struct {
	ToolName      string         `json:"tool_name,omitempty"`
	Output        string         `json:"output,omitempty"`
	Success       bool           `json:"success"`
	ContentBlocks []ContentBlock `json:"content_blocks,omitempty"`
	Artifacts     []ContentBlock `json:"artifacts,omitempty"`
	HasMultimodal bool           `json:"has_multimodal,omitempty"`
}

// AgentFinish carries an agent's final answer.
type AgentFinish struct {
	Output string `json:"output,omitempty"`
}

// Failure is an error event. ToolScoped is set when the producer reported the
// error for a specific tool invocation.
type Failure struct {
	ToolName   string `json:"tool_name,omitempty"`
	Message    string `json:"error_message,omitempty"`
	ErrorType  string `json:"error_type,omitempty"`
	ToolScoped bool   `json:"tool_scoped,omitempty"`
}

// SubagentStart spawns a nested agent invocation identified by Route.RunID.
type SubagentStart struct {
	Name  string `json:"subagent_name,omitempty"`
	Input string `json:"input,omitempty"`
}

// SubagentEnd terminates a nested agent invocation identified by Route.RunID.
type SubagentEnd struct {
	Output  string `json:"output,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Other is any event the reducer does not interpret.
type Other struct {
	Type string `json:"type,omitempty"`
}

func (*ChainStart) Kind() Kind    { return KindChainStart }
func (*ChainEnd) Kind() Kind      { return KindChainEnd }
func (*Token) Kind() Kind         { return KindToken }
func (*StreamEnd) Kind() Kind     { return KindStreamEnd }
func (*ToolPreparing) Kind() Kind { return KindToolPreparing }
func (*ToolStart) Kind() Kind     { return KindToolStart }
func (*ToolEnd) Kind() Kind       { return KindToolEnd }
func (*AgentFinish) Kind() Kind   { return KindAgentFinish }
func (*Failure) Kind() Kind       { return KindError }
func (*SubagentStart) Kind() Kind { return KindSubagentStart }
func (*SubagentEnd) Kind() Kind   { return KindSubagentEnd }
func (*Other) Kind() Kind         { return KindOther }

func (*ChainStart) sealed()    {}
func (*ChainEnd) sealed()      {}
func (*Token) sealed()         {}
func (*StreamEnd) sealed()     {}
func (*ToolPreparing) sealed() {}
func (*ToolStart) sealed()     {}
func (*ToolEnd) sealed()       {}
func (*AgentFinish) sealed()   {}
func (*Failure) sealed()       {}
func (*SubagentStart) sealed() {}
func (*SubagentEnd) sealed()   {}
func (*Other) sealed()         {}
