package timeline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Envelope is the wire shape producers emit: {"type": ..., "data": {...}}.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// DecodeError reports an envelope that failed boundary validation.
type DecodeError struct {
	Type  string
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode %q event: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("decode %q event: field %q: %v", e.Type, e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// wireKinds maps producer event types (both the raw callback names and the
// names the event bus forwards) to event kinds.
var wireKinds = map[string]Kind{
	"on_chain_start":       KindChainStart,
	"chain_start":          KindChainStart,
	"on_chain_end":         KindChainEnd,
	"chain_end":            KindChainEnd,
	"on_chat_model_stream": KindToken,
	"chat_model_stream":    KindToken,
	"on_llm_new_token":     KindToken,
	"token":                KindToken,
	"on_llm_end":           KindStreamEnd,
	"llm_end":              KindStreamEnd,
	"on_chat_model_end":    KindStreamEnd,
	"stream_end":           KindStreamEnd,
	"on_tool_preparing":    KindToolPreparing,
	"tool_preparing":       KindToolPreparing,
	"on_tool_start":        KindToolStart,
	"tool_start":           KindToolStart,
	"on_tool_end":          KindToolEnd,
	"tool_end":             KindToolEnd,
	"on_agent_finish":      KindAgentFinish,
	"agent_finish":         KindAgentFinish,
	"error":                KindError,
	"on_chain_error":       KindError,
	"chain_error":          KindError,
	"on_tool_error":        KindError,
	"tool_error":           KindError,
	"subagent_start":       KindSubagentStart,
	"subagent_end":         KindSubagentEnd,
	"subagent_error":       KindSubagentEnd,
}

// WireKind resolves a producer event type to a Kind. Unknown types map to
// KindOther.
func WireKind(eventType string) Kind {
	if k, ok := wireKinds[strings.ToLower(strings.TrimSpace(eventType))]; ok {
		return k
	}
	return KindOther
}

// DecodeJSON parses one JSON envelope and decodes it.
func DecodeJSON(sequence int, raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, &DecodeError{Err: fmt.Errorf("invalid envelope: %w", err)}
	}
	return Decode(sequence, env)
}

// Decode validates an envelope and converts it into an Event. Timestamp
// defaults to the zero time when the envelope carries none.
func Decode(sequence int, env Envelope) (Event, error) {
	if strings.TrimSpace(env.Type) == "" {
		return Event{}, &DecodeError{Field: "type", Err: fmt.Errorf("event type is required")}
	}

	fields := map[string]any{}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &fields); err != nil {
			return Event{}, &DecodeError{Type: env.Type, Field: "data", Err: fmt.Errorf("must be a JSON object: %w", err)}
		}
	}
	d := data{eventType: env.Type, fields: fields}

	ev := Event{Sequence: sequence}
	if env.Timestamp != nil {
		ev.Timestamp = *env.Timestamp
	}

	var err error
	if ev.Route, err = d.route(); err != nil {
		return Event{}, err
	}
	if ev.Payload, err = d.payload(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

type data struct {
	eventType string
	fields    map[string]any
}

func (d data) fail(field string, format string, args ...any) error {
	return &DecodeError{Type: d.eventType, Field: field, Err: fmt.Errorf(format, args...)}
}

func (d data) route() (Route, error) {
	var r Route
	var err error
	if r.AgentLabel, err = d.ident("agent_label"); err != nil {
		return r, err
	}
	if r.AgentLabel == "" {
		if r.AgentLabel, err = d.ident("node_name"); err != nil {
			return r, err
		}
	}
	if r.NodeID, err = d.ident("node_id"); err != nil {
		return r, err
	}
	if r.RunID, err = d.ident("run_id"); err != nil {
		return r, err
	}
	if r.ParentRunID, err = d.ident("parent_run_id"); err != nil {
		return r, err
	}
	if r.SubagentRunID, err = d.ident("subagent_run_id"); err != nil {
		return r, err
	}
	return r, nil
}

func (d data) payload() (Payload, error) {
	wire := strings.ToLower(strings.TrimSpace(d.eventType))
	switch WireKind(wire) {
	case KindChainStart:
		input, err := d.firstText("input", "inputs", "input_preview")
		return &ChainStart{Input: input}, err

	case KindChainEnd:
		output, err := d.firstText("output", "outputs", "output_preview")
		if err != nil {
			return nil, err
		}
		success, err := d.flag("success", true)
		return &ChainEnd{Output: output, Success: success}, err

	case KindToken:
		text, err := d.firstText("content", "token", "chunk")
		return &Token{Text: text}, err

	case KindStreamEnd:
		output, err := d.firstText("output", "text")
		return &StreamEnd{Output: output}, err

	case KindToolPreparing:
		name, err := d.ident("tool_name")
		return &ToolPreparing{ToolName: name}, err

	case KindToolStart:
		name, err := d.ident("tool_name")
		if err != nil {
			return nil, err
		}
		input, err := d.firstText("input", "inputs", "tool_input", "input_preview")
		return &ToolStart{ToolName: name, Input: input}, err

	case KindToolEnd:
		return d.toolEnd()

	case KindAgentFinish:
		output, err := d.firstText("output", "return_values")
		return &AgentFinish{Output: output}, err

	case KindError:
		name, err := d.ident("tool_name")
		if err != nil {
			return nil, err
		}
		msg, err := d.firstText("error_message", "error", "message")
		if err != nil {
			return nil, err
		}
		errType, err := d.ident("error_type")
		scoped := wire == "on_tool_error" || wire == "tool_error" || name != ""
		return &Failure{ToolName: name, Message: msg, ErrorType: errType, ToolScoped: scoped}, err

	case KindSubagentStart:
		name, err := d.ident("subagent_name")
		if err != nil {
			return nil, err
		}
		input, err := d.firstText("input", "input_preview")
		return &SubagentStart{Name: name, Input: input}, err

	case KindSubagentEnd:
		output, err := d.firstText("full_output", "output", "output_preview")
		if err != nil {
			return nil, err
		}
		msg, err := d.firstText("error", "error_message")
		if err != nil {
			return nil, err
		}
		success, err := d.flag("success", wire != "subagent_error")
		if wire == "subagent_error" {
			success = false
		}
		return &SubagentEnd{Output: output, Success: success, Error: msg}, err
	}
	return &Other{Type: d.eventType}, nil
}

func (d data) toolEnd() (Payload, error) {
	name, err := d.ident("tool_name")
	if err != nil {
		return nil, err
	}
	output, err := d.firstText("full_output", "output", "output_preview")
	if err != nil {
		return nil, err
	}
	success, err := d.flag("success", true)
	if err != nil {
		return nil, err
	}
	multimodal, err := d.flag("has_multimodal", false)
	if err != nil {
		return nil, err
	}
	blocks, err := d.blocks("content_blocks")
	if err != nil {
		return nil, err
	}
	artifacts, err := d.blocks("artifacts")
	if err != nil {
		return nil, err
	}
	return &ToolEnd{
		ToolName:      name,
		Output:        output,
		Success:       success,
		ContentBlocks: blocks,
		Artifacts:     artifacts,
		HasMultimodal: multimodal,
	}, nil
}

// ident reads an identifier. Strings and numbers are accepted; absent and
// null yield "".
func (d data) ident(key string) (string, error) {
	switch v := d.fields[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", d.fail(key, "expected string, got %T", v)
	}
}

// text reads free-form content. Non-string values are rendered as indented
// JSON so structured tool inputs stay readable.
func (d data) text(key string) (string, error) {
	switch v := d.fields[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", d.fail(key, "unrenderable value: %v", err)
		}
		return string(out), nil
	}
}

func (d data) firstText(keys ...string) (string, error) {
	for _, key := range keys {
		s, err := d.text(key)
		if err != nil {
			return "", err
		}
		if s != "" {
			return s, nil
		}
	}
	return "", nil
}

func (d data) flag(key string, def bool) (bool, error) {
	switch v := d.fields[key].(type) {
	case nil:
		return def, nil
	case bool:
		return v, nil
	default:
		return false, d.fail(key, "expected boolean, got %T", v)
	}
}

func (d data) blocks(key string) ([]ContentBlock, error) {
	raw, ok := d.fields[key]
	if !ok || raw == nil {
		return nil, nil
	}
	if _, ok := raw.([]any); !ok {
		return nil, d.fail(key, "expected array, got %T", raw)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, d.fail(key, "%v", err)
	}
	var out []ContentBlock
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, d.fail(key, "invalid content block: %v", err)
	}
	return out, nil
}
