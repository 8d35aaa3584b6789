package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/flowscope/pkg/models"
	"github.com/codeready-toolchain/flowscope/pkg/timeline"
	"github.com/codeready-toolchain/flowscope/pkg/version"
)

const history = `{"type":"on_chain_start","data":{"node_id":"planner","agent_label":"Planner","run_id":"c1"}}
{"type":"on_chat_model_stream","data":{"node_id":"planner","token":"Checking the cluster"}}
{"type":"on_tool_start","data":{"node_id":"planner","run_id":"t1","tool_name":"kubectl","input":"get pods"}}
{"type":"on_tool_end","data":{"node_id":"planner","run_id":"t1","tool_name":"kubectl","output":"3 pods"}}
not json
{"type":"on_chain_end","data":{"node_id":"planner","run_id":"c1","output":"All good"}}
`

// syncBuffer lets the test read output written from other goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func run(t *testing.T, out *bytes.Buffer, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(append(args, "--config-dir", t.TempDir(), "--log-level", "error"))
	return cmd.Execute()
}

func writeHistory(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReplayCommand_JSON(t *testing.T) {
	path := writeHistory(t, history)

	var out bytes.Buffer
	require.NoError(t, run(t, &out, "replay", path))

	var resp models.ReplayResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "run.jsonl", resp.WorkflowID)
	assert.Equal(t, 5, resp.EventCount)
	assert.Equal(t, 1, resp.Skipped)
	require.Len(t, resp.Sections, 1)
	assert.Equal(t, "Planner", resp.Sections[0].Label)

	var tool *timeline.ToolCall
	for _, it := range resp.Sections[0].Items {
		if it.ToolCall != nil {
			tool = it.ToolCall
		}
	}
	require.NotNil(t, tool)
	assert.Equal(t, "kubectl", tool.Name)
	assert.Equal(t, timeline.ToolCompleted, tool.Status)
}

func TestReplayCommand_FilterAndSearch(t *testing.T) {
	path := writeHistory(t, history)

	var out bytes.Buffer
	require.NoError(t, run(t, &out, "replay", path, "--filter", "output", "--json"))
	var resp models.ReplayResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.Len(t, resp.Sections, 1)
	for _, it := range resp.Sections[0].Items {
		assert.Equal(t, timeline.ItemOutput, it.Type)
	}

	out.Reset()
	require.NoError(t, run(t, &out, "replay", path, "--search", "no such text"))
	resp = models.ReplayResponse{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Empty(t, resp.Sections)
}

func TestReplayCommand_Errors(t *testing.T) {
	var out bytes.Buffer
	err := run(t, &out, "replay", filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)

	err = run(t, &out, "replay", writeHistory(t, history), "--filter", "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown filter")

	err = run(t, &out, "replay")
	assert.Error(t, err)
}

func TestWriteReplayText(t *testing.T) {
	resp := &models.ReplayResponse{
		WorkflowID: "run.jsonl",
		EventCount: 2,
		Sections: []timeline.AgentSection{{
			Key:   "planner",
			Label: "Planner",
			Items: []timeline.SectionItem{{Type: timeline.ItemOutput, Output: &timeline.Output{Text: "done"}}},
		}},
		Diagnostics: []timeline.Diagnostic{{Sequence: 4, Kind: timeline.KindToken, Reason: timeline.ReasonUnattributed}},
	}

	var out bytes.Buffer
	require.NoError(t, writeReplayText(&out, resp, nil))
	text := out.String()
	assert.True(t, strings.HasPrefix(text, "run.jsonl: 2 events, 1 sections, 0 subagents\n"))
	assert.Contains(t, text, "== Planner [running]")
	assert.Contains(t, text, "output: done")
	assert.Contains(t, text, "diagnostic #4 token: unattributed")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(t, &out, "version", "--json"))

	var info version.Info
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Equal(t, version.Current(), info)

	out.Reset()
	require.NoError(t, run(t, &out, "version"))
	assert.True(t, strings.HasPrefix(out.String(), "flowscope "))
}

func TestInvalidLogLevel(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"version", "--log-level", "loud"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --log-level")
}

func TestWatchCommand(t *testing.T) {
	path := writeHistory(t, strings.SplitAfterN(history, "\n", 2)[0])

	out := &syncBuffer{}
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetArgs([]string{"watch", path, "--debounce", "20ms", "--config-dir", t.TempDir(), "--log-level", "error"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "cursor=1 sections=1")
	}, 5*time.Second, 10*time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(strings.SplitAfterN(history, "\n", 2)[1])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "cursor=5 sections=1")
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, nil, 0o644))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "cursor=0 sections=0 subagents=0 bytes=0 folded=0 reset")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
