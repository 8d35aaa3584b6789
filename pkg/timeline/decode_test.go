package timeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON_WireTypes(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, ev Event)
	}{
		{
			name: "chat model stream prefers content",
			raw:  `{"type":"on_chat_model_stream","data":{"content":"Hel","token":"ignored","agent_label":"Writer","node_id":"n1","run_id":"r","subagent_run_id":null}}`,
			check: func(t *testing.T, ev Event) {
				require.IsType(t, &Token{}, ev.Payload)
				assert.Equal(t, "Hel", ev.Payload.(*Token).Text)
				assert.Equal(t, Route{AgentLabel: "Writer", NodeID: "n1", RunID: "r"}, ev.Route)
			},
		},
		{
			name: "tool start renders structured input",
			raw:  `{"type":"on_tool_start","data":{"tool_name":"search","run_id":"t1","inputs":{"q":"go"}}}`,
			check: func(t *testing.T, ev Event) {
				p := ev.Payload.(*ToolStart)
				assert.Equal(t, "search", p.ToolName)
				assert.Equal(t, "{\n  \"q\": \"go\"\n}", p.Input)
				assert.Empty(t, ev.Route.SubagentRunID)
			},
		},
		{
			name: "tool end prefers full output and keeps blocks",
			raw: `{"type":"on_tool_end","data":{"run_id":"t1","output_preview":"short","full_output":"long",
				"content_blocks":[{"type":"image","data":"aGk=","mimeType":"image/png"}],"has_multimodal":true}}`,
			check: func(t *testing.T, ev Event) {
				p := ev.Payload.(*ToolEnd)
				assert.Equal(t, "long", p.Output)
				assert.True(t, p.Success)
				assert.True(t, p.HasMultimodal)
				require.Len(t, p.ContentBlocks, 1)
				assert.Equal(t, "image/png", p.ContentBlocks[0].MimeType)
			},
		},
		{
			name: "uppercase producer names are accepted",
			raw:  `{"type":"TOOL_ERROR","data":{"run_id":"t1","error":"boom","error_type":"ValueError"}}`,
			check: func(t *testing.T, ev Event) {
				p := ev.Payload.(*Failure)
				assert.Equal(t, "boom", p.Message)
				assert.Equal(t, "ValueError", p.ErrorType)
				assert.True(t, p.ToolScoped)
			},
		},
		{
			name: "plain error is not tool scoped",
			raw:  `{"type":"error","data":{"run_id":"c1","error":"chain failed"}}`,
			check: func(t *testing.T, ev Event) {
				p := ev.Payload.(*Failure)
				assert.False(t, p.ToolScoped)
				assert.Equal(t, KindError, ev.Kind())
			},
		},
		{
			name: "subagent error is a failed end",
			raw:  `{"type":"subagent_error","data":{"subagent_run_id":"s1","error":"crashed","success":true}}`,
			check: func(t *testing.T, ev Event) {
				p := ev.Payload.(*SubagentEnd)
				assert.False(t, p.Success)
				assert.Equal(t, "crashed", p.Error)
				assert.Equal(t, "s1", ev.Route.SubagentRunID)
			},
		},
		{
			name: "numeric identifiers",
			raw:  `{"type":"on_chain_start","data":{"node_id":7,"agent_label":"A"}}`,
			check: func(t *testing.T, ev Event) {
				assert.Equal(t, "7", ev.Route.NodeID)
			},
		},
		{
			name: "unknown types become other",
			raw:  `{"type":"on_agent_action","data":{"tool_name":"x"}}`,
			check: func(t *testing.T, ev Event) {
				assert.Equal(t, KindOther, ev.Kind())
				assert.Equal(t, "on_agent_action", ev.Payload.(*Other).Type)
			},
		},
		{
			name: "timestamp is carried",
			raw:  `{"type":"complete","timestamp":"2026-01-02T03:04:05Z"}`,
			check: func(t *testing.T, ev Event) {
				assert.Equal(t, 2026, ev.Timestamp.Year())
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeJSON(3, []byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, 3, ev.Sequence)
			tt.check(t, ev)
		})
	}
}

func TestDecodeJSON_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{"not json", `{"type":`, ""},
		{"missing type", `{"data":{}}`, "type"},
		{"data not an object", `{"type":"on_tool_end","data":[1,2]}`, "data"},
		{"object identifier", `{"type":"on_tool_end","data":{"run_id":{"x":1}}}`, "run_id"},
		{"non boolean success", `{"type":"on_tool_end","data":{"success":"yes"}}`, "success"},
		{"content blocks not a list", `{"type":"on_tool_end","data":{"content_blocks":{}}}`, "content_blocks"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJSON(0, []byte(tt.raw))
			require.Error(t, err)
			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr))
			assert.Equal(t, tt.field, decodeErr.Field)
		})
	}
}

func TestEvent_MarshalJSONIncludesKind(t *testing.T) {
	ev := Event{Sequence: 1, Route: Route{NodeID: "A"}, Payload: &Token{Text: "x"}}
	out, err := ev.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(out), `"kind":"token"`)
	assert.Contains(t, string(out), `"node_id":"A"`)
	assert.Contains(t, string(out), `"payload":{"text":"x"}`)
}
