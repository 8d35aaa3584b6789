// Package masking redacts secrets from timeline content before it is served.
// Rules come from built-in pattern groups plus custom regex patterns; the
// stored events themselves are never rewritten.
package masking

import (
	"fmt"
	"log/slog"
	"regexp"

	"github.com/codeready-toolchain/flowscope/pkg/config"
	"github.com/codeready-toolchain/flowscope/pkg/timeline"
)

type rule struct {
	name        string
	re          *regexp.Regexp
	replacement string
}

// Service applies structural maskers and then regex rules. A nil or
// disabled Service returns content unchanged. Safe for concurrent use.
type Service struct {
	maskers []Masker
	rules   []rule
}

// NewService compiles the configured groups and patterns. Unknown names and
// invalid patterns are logged and skipped.
func NewService(cfg *config.MaskingConfig) *Service {
	s := &Service{}
	if cfg == nil {
		cfg = config.DefaultMaskingConfig()
	}
	if !cfg.IsEnabled() {
		slog.Info("Masking disabled")
		return s
	}

	available := map[string]Masker{}
	for _, m := range []Masker{KubernetesSecretMasker{}} {
		available[m.Name()] = m
	}

	seen := make(map[string]bool)
	for _, group := range cfg.Groups {
		names, ok := builtinGroups[group]
		if !ok {
			slog.Warn("Unknown masking group, skipping", "group", group)
			continue
		}
		for _, name := range names {
			if seen[name] {
				continue
			}
			seen[name] = true
			if m, ok := available[name]; ok {
				s.maskers = append(s.maskers, m)
				continue
			}
			p := builtinPatterns[name]
			s.addRule(name, p.pattern, p.replacement)
		}
	}

	for i, p := range cfg.Patterns {
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("custom:%d", i)
		}
		replacement := p.Replacement
		if replacement == "" {
			replacement = "__MASKED__"
		}
		s.addRule(name, p.Pattern, replacement)
	}

	slog.Info("Masking service initialized",
		"maskers", len(s.maskers),
		"patterns", len(s.rules))
	return s
}

func (s *Service) addRule(name, pattern, replacement string) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		slog.Error("Failed to compile masking pattern, skipping", "pattern", name, "error", err)
		return
	}
	s.rules = append(s.rules, rule{name: name, re: re, replacement: replacement})
}

// Enabled reports whether any masker or rule is active.
func (s *Service) Enabled() bool {
	return s != nil && (len(s.maskers) > 0 || len(s.rules) > 0)
}

// Mask redacts content.
func (s *Service) Mask(content string) string {
	if content == "" || !s.Enabled() {
		return content
	}
	for _, m := range s.maskers {
		if m.AppliesTo(content) {
			content = m.Mask(content)
		}
	}
	for _, r := range s.rules {
		content = r.re.ReplaceAllString(content, r.replacement)
	}
	return content
}

// MaskSections returns redacted copies of sections. The input is not modified.
func (s *Service) MaskSections(sections []timeline.AgentSection) []timeline.AgentSection {
	if !s.Enabled() {
		return sections
	}
	out := make([]timeline.AgentSection, len(sections))
	for i, sec := range sections {
		out[i] = s.maskSection(sec)
	}
	return out
}

// MaskSubagents returns redacted copies of subagent sessions.
func (s *Service) MaskSubagents(subs []timeline.SubagentSession) []timeline.SubagentSession {
	if !s.Enabled() {
		return subs
	}
	out := make([]timeline.SubagentSession, len(subs))
	for i, sub := range subs {
		sub.InputPreview = s.Mask(sub.InputPreview)
		sub.OutputPreview = s.Mask(sub.OutputPreview)
		sub.Error = s.Mask(sub.Error)
		sub.Timeline = s.maskSection(sub.Timeline)
		events := make([]timeline.Event, len(sub.Events))
		for j, ev := range sub.Events {
			events[j] = s.maskEvent(ev)
		}
		sub.Events = events
		out[i] = sub
	}
	return out
}

func (s *Service) maskSection(sec timeline.AgentSection) timeline.AgentSection {
	sec.Error = s.Mask(sec.Error)
	items := make([]timeline.SectionItem, len(sec.Items))
	for i, it := range sec.Items {
		switch {
		case it.Thinking != nil:
			th := *it.Thinking
			th.Text = s.Mask(th.Text)
			th.Raw = s.Mask(th.Raw)
			it.Thinking = &th
		case it.ToolCall != nil:
			c := *it.ToolCall
			c.Input = s.Mask(c.Input)
			c.Result = s.Mask(c.Result)
			c.Error = s.Mask(c.Error)
			c.ContentBlocks = s.maskBlocks(c.ContentBlocks)
			c.Artifacts = s.maskBlocks(c.Artifacts)
			it.ToolCall = &c
		case it.Output != nil:
			it.Output = &timeline.Output{Text: s.Mask(it.Output.Text)}
		}
		items[i] = it
	}
	sec.Items = items
	return sec
}

func (s *Service) maskBlocks(blocks []timeline.ContentBlock) []timeline.ContentBlock {
	if len(blocks) == 0 {
		return blocks
	}
	out := make([]timeline.ContentBlock, len(blocks))
	for i, b := range blocks {
		b.Text = s.Mask(b.Text)
		out[i] = b
	}
	return out
}

// maskEvent redacts the free-text fields of an event payload.
func (s *Service) maskEvent(ev timeline.Event) timeline.Event {
	switch p := ev.Payload.(type) {
	case *timeline.ChainStart:
		ev.Payload = &timeline.ChainStart{Input: s.Mask(p.Input)}
	case *timeline.ChainEnd:
		ev.Payload = &timeline.ChainEnd{Output: s.Mask(p.Output), Success: p.Success}
	case *timeline.Token:
		ev.Payload = &timeline.Token{Text: s.Mask(p.Text)}
	case *timeline.StreamEnd:
		ev.Payload = &timeline.StreamEnd{Output: s.Mask(p.Output)}
	case *timeline.ToolStart:
		ev.Payload = &timeline.ToolStart{ToolName: p.ToolName, Input: s.Mask(p.Input)}
	case *timeline.ToolEnd:
		c := *p
		c.Output = s.Mask(c.Output)
		c.ContentBlocks = s.maskBlocks(c.ContentBlocks)
		c.Artifacts = s.maskBlocks(c.Artifacts)
		ev.Payload = &c
	case *timeline.AgentFinish:
		ev.Payload = &timeline.AgentFinish{Output: s.Mask(p.Output)}
	case *timeline.Failure:
		c := *p
		c.Message = s.Mask(c.Message)
		ev.Payload = &c
	case *timeline.SubagentStart:
		ev.Payload = &timeline.SubagentStart{Name: p.Name, Input: s.Mask(p.Input)}
	case *timeline.SubagentEnd:
		c := *p
		c.Output = s.Mask(c.Output)
		c.Error = s.Mask(c.Error)
		ev.Payload = &c
	}
	return ev
}
