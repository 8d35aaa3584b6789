// Package view projects timeline sections for display.
package view

import (
	"fmt"
	"strings"

	"github.com/codeready-toolchain/flowscope/pkg/timeline"
)

// Filter selects which item kinds survive projection.
type Filter string

const (
	FilterAll      Filter = "all"
	FilterThinking Filter = "thinking"
	FilterToolCall Filter = "tool_call"
	FilterOutput   Filter = "output"
)

// ParseFilter accepts the filter names used by the API and CLI. Empty means
// FilterAll; "tool" and "tools" are accepted for FilterToolCall.
func ParseFilter(s string) (Filter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return FilterAll, nil
	case "thinking":
		return FilterThinking, nil
	case "tool_call", "tool", "tools":
		return FilterToolCall, nil
	case "output":
		return FilterOutput, nil
	}
	return "", fmt.Errorf("unknown filter %q (want all, thinking, tool_call or output)", s)
}

// Project returns the sections that keep at least one item after applying
// the kind filter and a case-insensitive search over item text, tool name,
// tool input and tool result. The input is not modified.
func Project(sections []timeline.AgentSection, filter Filter, search string) []timeline.AgentSection {
	needle := strings.ToLower(search)
	out := make([]timeline.AgentSection, 0, len(sections))
	for _, sec := range sections {
		var items []timeline.SectionItem
		for _, it := range sec.Items {
			if keep(it, filter) && matches(it, needle) {
				items = append(items, it)
			}
		}
		if len(items) == 0 {
			continue
		}
		sec.Items = items
		out = append(out, sec)
	}
	return out
}

func keep(it timeline.SectionItem, filter Filter) bool {
	switch filter {
	case FilterThinking:
		return it.Type == timeline.ItemThinking
	case FilterToolCall:
		return it.Type == timeline.ItemToolCall
	case FilterOutput:
		return it.Type == timeline.ItemOutput
	default:
		return true
	}
}

func matches(it timeline.SectionItem, needle string) bool {
	if needle == "" {
		return true
	}
	for _, field := range searchable(it) {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func searchable(it timeline.SectionItem) []string {
	switch {
	case it.Thinking != nil:
		return []string{it.Thinking.Text}
	case it.ToolCall != nil:
		return []string{it.ToolCall.Name, it.ToolCall.Input, it.ToolCall.Result}
	case it.Output != nil:
		return []string{it.Output.Text}
	}
	return nil
}
