package timeline

import (
	"time"
	"unicode/utf8"
)

// UnattributedKey is the section key for events that carry neither a node id
// nor an agent label. Events resolving to it are dropped.
const UnattributedKey = "_unattributed"

// PreparingInput is the placeholder input shown for a tool call that has
// been announced but not started.
const PreparingInput = "Preparing…"

const previewLimit = 200

// ItemType discriminates SectionItem variants.
type ItemType string

const (
	ItemThinking ItemType = "thinking"
	ItemToolCall ItemType = "tool_call"
	ItemOutput   ItemType = "output"
)

// ToolStatus is the ToolCall state machine: running → completed | error.
type ToolStatus string

const (
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
)

// SubagentStatus is the SubagentSession state machine: running → completed | error.
type SubagentStatus string

const (
	SubagentRunning   SubagentStatus = "running"
	SubagentCompleted SubagentStatus = "completed"
	SubagentError     SubagentStatus = "error"
)

// Thinking is a block of streamed model text.
type Thinking struct {
	Text      string `json:"text"`
	Raw       string `json:"raw"`
	Finalized bool   `json:"finalized"`

	carry string // undecided marker prefix, flushed on finalize
}

// ToolCall is one tool invocation inside a section.
type ToolCall struct {
	Name          string         `json:"name"`
	RunID         string         `json:"run_id,omitempty"`
	Input         string         `json:"input,omitempty"`
	Status        ToolStatus     `json:"status"`
	Result        string         `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	ContentBlocks []ContentBlock `json:"content_blocks,omitempty"`
	Artifacts     []ContentBlock `json:"artifacts,omitempty"`
	HasMultimodal bool           `json:"has_multimodal,omitempty"`
	Preparing     bool           `json:"preparing,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	EndedAt       *time.Time     `json:"ended_at,omitempty"`
}

// Terminal reports whether the call has left the running state.
func (c *ToolCall) Terminal() bool {
	return c.Status != ToolRunning
}

func (c *ToolCall) complete(end *ToolEnd, at time.Time) bool {
	if c.Terminal() {
		return false
	}
	c.Status = ToolCompleted
	if !end.Success {
		c.Status = ToolError
		c.Error = end.Output
	}
	c.Result = end.Output
	c.ContentBlocks = end.ContentBlocks
	c.Artifacts = end.Artifacts
	c.HasMultimodal = end.HasMultimodal
	c.Preparing = false
	c.EndedAt = &at
	return true
}

func (c *ToolCall) fail(message string, at time.Time) bool {
	if c.Terminal() {
		return false
	}
	c.Status = ToolError
	c.Error = message
	c.Preparing = false
	c.EndedAt = &at
	return true
}

// Output is the terminal text of a chain or agent.
type Output struct {
	Text string `json:"text"`
}

// SectionItem is a tagged union; exactly one variant pointer is set,
// matching Type.
type SectionItem struct {
	Type     ItemType  `json:"type"`
	Thinking *Thinking `json:"thinking,omitempty"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
	Output   *Output   `json:"output,omitempty"`
}

func (it SectionItem) clone() SectionItem {
	out := SectionItem{Type: it.Type}
	switch {
	case it.Thinking != nil:
		t := *it.Thinking
		out.Thinking = &t
	case it.ToolCall != nil:
		c := *it.ToolCall
		c.ContentBlocks = append([]ContentBlock(nil), c.ContentBlocks...)
		c.Artifacts = append([]ContentBlock(nil), c.Artifacts...)
		if c.EndedAt != nil {
			at := *c.EndedAt
			c.EndedAt = &at
		}
		out.ToolCall = &c
	case it.Output != nil:
		o := *it.Output
		out.Output = &o
	}
	return out
}

// AgentSection is the timeline of one agent or workflow node.
type AgentSection struct {
	Key       string        `json:"key"`
	Label     string        `json:"label"`
	Items     []SectionItem `json:"items"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Error     string        `json:"error,omitempty"`

	nodeID  string
	open    int // index of the unfinalized Thinking item, -1 when none
	touched uint64
}

func newSection(key, label, nodeID string, at time.Time) *AgentSection {
	if label == "" {
		label = key
	}
	return &AgentSection{Key: key, Label: label, StartedAt: at, nodeID: nodeID, open: -1}
}

// OpenThinking returns the unfinalized Thinking item, if any.
func (sec *AgentSection) OpenThinking() (*Thinking, bool) {
	if sec.open < 0 {
		return nil, false
	}
	return sec.Items[sec.open].Thinking, true
}

func (sec *AgentSection) clone() AgentSection {
	out := *sec
	out.Items = make([]SectionItem, len(sec.Items))
	for i, it := range sec.Items {
		out.Items[i] = it.clone()
	}
	if sec.EndedAt != nil {
		at := *sec.EndedAt
		out.EndedAt = &at
	}
	return out
}

// SubagentSession is a nested agent invocation with its own timeline.
type SubagentSession struct {
	RunID         string         `json:"run_id"`
	Label         string         `json:"label"`
	ParentRunID   string         `json:"parent_run_id,omitempty"`
	ParentLabel   string         `json:"parent_label,omitempty"`
	Status        SubagentStatus `json:"status"`
	InputPreview  string         `json:"input_preview,omitempty"`
	OutputPreview string         `json:"output_preview,omitempty"`
	Error         string         `json:"error,omitempty"`
	Events        []Event        `json:"events"`
	Timeline      AgentSection   `json:"timeline"`
	StartedAt     time.Time      `json:"started_at"`
	EndedAt       *time.Time     `json:"ended_at,omitempty"`
}

// Terminal reports whether the subagent has finished.
func (ss *SubagentSession) Terminal() bool {
	return ss.Status != SubagentRunning
}

func (ss *SubagentSession) clone() SubagentSession {
	out := *ss
	out.Events = append([]Event(nil), ss.Events...)
	out.Timeline = ss.Timeline.clone()
	if ss.EndedAt != nil {
		at := *ss.EndedAt
		out.EndedAt = &at
	}
	return out
}

// Diagnostic records an event the reducer could not apply.
type Diagnostic struct {
	Sequence int    `json:"sequence"`
	Kind     Kind   `json:"kind"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail,omitempty"`
}

// Diagnostic reasons.
const (
	ReasonUnattributed    = "unattributed"
	ReasonUnmatchedTool   = "unmatched_tool_completion"
	ReasonUnknownSubagent = "unknown_subagent"
	ReasonMissingRunID    = "missing_run_id"
)

// Session is the root aggregate for one observed execution. It is not safe
// for concurrent use.
type Session struct {
	cursor int

	sections map[string]*AgentSection
	order    []string
	aliases  map[string]string // "node:<id>" / "label:<label>" → section key
	runOwner map[string]string // chain or tool run id → section key

	subagents     map[string]*SubagentSession
	subagentOrder []string

	diagnostics []Diagnostic
	approxBytes int
	clock       uint64
}

// NewSession returns an empty Session.
func NewSession() *Session {
	s := &Session{}
	s.reset()
	return s
}

func (s *Session) reset() {
	s.cursor = 0
	s.sections = make(map[string]*AgentSection)
	s.order = nil
	s.aliases = make(map[string]string)
	s.runOwner = make(map[string]string)
	s.subagents = make(map[string]*SubagentSession)
	s.subagentOrder = nil
	s.diagnostics = nil
	s.approxBytes = 0
	s.clock = 0
}

// Cursor is the number of events folded so far.
func (s *Session) Cursor() int { return s.cursor }

// ApproxBytes is the estimated size of the events folded so far.
func (s *Session) ApproxBytes() int { return s.approxBytes }

// SectionCount returns the number of live sections.
func (s *Session) SectionCount() int { return len(s.sections) }

// Sections returns a snapshot of all sections in creation order.
func (s *Session) Sections() []AgentSection {
	out := make([]AgentSection, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.sections[key].clone())
	}
	return out
}

// Section returns a snapshot of one section.
func (s *Session) Section(key string) (AgentSection, bool) {
	sec, ok := s.sections[key]
	if !ok {
		return AgentSection{}, false
	}
	return sec.clone(), true
}

// SubagentSessions returns a snapshot of all subagent sessions in creation order.
func (s *Session) SubagentSessions() []SubagentSession {
	out := make([]SubagentSession, 0, len(s.subagentOrder))
	for _, id := range s.subagentOrder {
		out = append(out, s.subagents[id].clone())
	}
	return out
}

// Diagnostics returns the most recent diagnostics, oldest first.
func (s *Session) Diagnostics() []Diagnostic {
	return append([]Diagnostic(nil), s.diagnostics...)
}

func (s *Session) touch(sec *AgentSection) {
	s.clock++
	sec.touched = s.clock
}

// resolve finds or creates the section an event belongs to. It returns nil
// when the event cannot be attributed.
func (s *Session) resolve(ev Event) *AgentSection {
	r := ev.Route
	if r.NodeID != "" {
		if key, ok := s.aliases["node:"+r.NodeID]; ok {
			return s.bind(s.sections[key], r)
		}
		if r.AgentLabel != "" {
			// A label-only section adopts the first node id seen with its label.
			if key, ok := s.aliases["label:"+r.AgentLabel]; ok && s.sections[key].nodeID == "" {
				return s.bind(s.sections[key], r)
			}
		}
		return s.create(r.NodeID, r, ev.Timestamp)
	}
	if r.AgentLabel != "" {
		if key, ok := s.aliases["label:"+r.AgentLabel]; ok {
			return s.bind(s.sections[key], r)
		}
		return s.create(r.AgentLabel, r, ev.Timestamp)
	}
	for _, id := range []string{r.RunID, r.ParentRunID} {
		if id == "" {
			continue
		}
		if key, ok := s.runOwner[id]; ok {
			if sec, ok := s.sections[key]; ok {
				return sec
			}
		}
	}
	return nil
}

func (s *Session) create(key string, r Route, at time.Time) *AgentSection {
	if _, taken := s.sections[key]; taken {
		// A node id colliding with an unrelated label-keyed section.
		key = "node:" + key
	}
	sec := newSection(key, r.AgentLabel, r.NodeID, at)
	s.sections[key] = sec
	s.order = append(s.order, key)
	return s.bind(sec, r)
}

func (s *Session) bind(sec *AgentSection, r Route) *AgentSection {
	if r.NodeID != "" {
		s.aliases["node:"+r.NodeID] = sec.Key
		if sec.nodeID == "" {
			sec.nodeID = r.NodeID
		}
	}
	if r.AgentLabel != "" {
		s.aliases["label:"+r.AgentLabel] = sec.Key
		if sec.Label == "" || sec.Label == sec.Key {
			sec.Label = r.AgentLabel
		}
	}
	return sec
}

func (s *Session) evict(keys map[string]bool) {
	for key := range keys {
		delete(s.sections, key)
	}
	kept := s.order[:0]
	for _, key := range s.order {
		if !keys[key] {
			kept = append(kept, key)
		}
	}
	s.order = kept
	for alias, key := range s.aliases {
		if keys[key] {
			delete(s.aliases, alias)
		}
	}
	for run, key := range s.runOwner {
		if keys[key] {
			delete(s.runOwner, run)
		}
	}
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= previewLimit {
		return s
	}
	runes := []rune(s)
	return string(runes[:previewLimit]) + "…"
}
