package view

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/flowscope/pkg/timeline"
)

func sampleSections() []timeline.AgentSection {
	return []timeline.AgentSection{
		{
			Key:   "A",
			Label: "Researcher",
			Items: []timeline.SectionItem{
				{Type: timeline.ItemThinking, Thinking: &timeline.Thinking{Text: "Looking up Kubernetes docs", Finalized: true}},
				{Type: timeline.ItemToolCall, ToolCall: &timeline.ToolCall{Name: "web_search", Input: `{"q":"pod eviction"}`, Status: timeline.ToolCompleted, Result: "3 hits"}},
				{Type: timeline.ItemOutput, Output: &timeline.Output{Text: "Summary ready"}},
			},
		},
		{
			Key:   "B",
			Label: "Writer",
			Items: []timeline.SectionItem{
				{Type: timeline.ItemThinking, Thinking: &timeline.Thinking{Text: "Drafting"}},
			},
		},
		{Key: "C", Label: "Idle"},
	}
}

func TestProject(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		search string
		want   map[string]int // section key → surviving items
	}{
		{"all without search drops empty sections", FilterAll, "", map[string]int{"A": 3, "B": 1}},
		{"thinking only", FilterThinking, "", map[string]int{"A": 1, "B": 1}},
		{"tool calls only", FilterToolCall, "", map[string]int{"A": 1}},
		{"output only", FilterOutput, "", map[string]int{"A": 1}},
		{"search is case insensitive", FilterAll, "KUBERNETES", map[string]int{"A": 1}},
		{"search covers tool name", FilterAll, "web_", map[string]int{"A": 1}},
		{"search covers tool input", FilterToolCall, "eviction", map[string]int{"A": 1}},
		{"search covers tool result", FilterAll, "3 hits", map[string]int{"A": 1}},
		{"filter and search combine", FilterThinking, "summary", map[string]int{}},
		{"trailing space is part of the needle", FilterAll, "drafting ", map[string]int{}},
		{"inner spaces match literally", FilterAll, "up kubernetes", map[string]int{"A": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Project(sampleSections(), tt.filter, tt.search)
			counts := map[string]int{}
			for _, sec := range got {
				counts[sec.Key] = len(sec.Items)
			}
			assert.Equal(t, tt.want, counts)
		})
	}
}

func TestProject_DoesNotMutateInput(t *testing.T) {
	in := sampleSections()
	out := Project(in, FilterOutput, "")
	require.Len(t, out, 1)
	assert.Len(t, in[0].Items, 3)
	assert.Equal(t, "Researcher", out[0].Label)
}

func TestParseFilter(t *testing.T) {
	for in, want := range map[string]Filter{
		"":          FilterAll,
		"ALL":       FilterAll,
		"thinking":  FilterThinking,
		"tool":      FilterToolCall,
		"tool_call": FilterToolCall,
		"output":    FilterOutput,
	} {
		got, err := ParseFilter(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFilter("bogus")
	assert.Error(t, err)
}
