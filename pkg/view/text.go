package view

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/codeready-toolchain/flowscope/pkg/timeline"
)

const textPreview = 160

// WriteText renders sections and subagents as indented plain text.
func WriteText(w io.Writer, sections []timeline.AgentSection, subagents []timeline.SubagentSession) error {
	bw := bufio.NewWriter(w)

	for _, sec := range sections {
		writeSection(bw, sec, "")
	}
	if len(subagents) > 0 {
		fmt.Fprintf(bw, "subagents (%d)\n", len(subagents))
		for _, sub := range subagents {
			fmt.Fprintf(bw, "  %s [%s] %s\n", sub.Label, sub.Status, sub.RunID)
			if sub.Error != "" {
				fmt.Fprintf(bw, "    error: %s\n", clip(sub.Error))
			}
			for _, it := range sub.Timeline.Items {
				writeItem(bw, it, "    ")
			}
		}
	}
	return bw.Flush()
}

func writeSection(w io.Writer, sec timeline.AgentSection, indent string) {
	state := "running"
	if sec.EndedAt != nil {
		state = "done"
	}
	if sec.Error != "" {
		state = "error"
	}
	fmt.Fprintf(w, "%s== %s [%s]\n", indent, sec.Label, state)
	if sec.Error != "" {
		fmt.Fprintf(w, "%s  error: %s\n", indent, clip(sec.Error))
	}
	for _, it := range sec.Items {
		writeItem(w, it, indent+"  ")
	}
}

func writeItem(w io.Writer, it timeline.SectionItem, indent string) {
	switch {
	case it.Thinking != nil:
		fmt.Fprintf(w, "%sthinking: %s\n", indent, clip(it.Thinking.Text))
	case it.ToolCall != nil:
		c := it.ToolCall
		fmt.Fprintf(w, "%stool %s [%s]", indent, c.Name, c.Status)
		if c.Input != "" {
			fmt.Fprintf(w, " input=%s", clip(c.Input))
		}
		fmt.Fprintln(w)
		switch {
		case c.Error != "":
			fmt.Fprintf(w, "%s  error: %s\n", indent, clip(c.Error))
		case c.Result != "":
			fmt.Fprintf(w, "%s  result: %s\n", indent, clip(c.Result))
		}
	case it.Output != nil:
		fmt.Fprintf(w, "%soutput: %s\n", indent, clip(it.Output.Text))
	}
}

// clip collapses whitespace and shortens s to textPreview runes.
func clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= textPreview {
		return s
	}
	return string(r[:textPreview]) + "…"
}
