package timeline

import (
	"strings"
	"time"
)

// sectionHandler applies one event to one section. It returns a diagnostic
// reason when the event could not be applied, "" otherwise.
type sectionHandler func(b *builder, sec *AgentSection, ev Event) string

var sectionHandlers = map[Kind]sectionHandler{
	KindChainStart:    (*builder).chainStart,
	KindToken:         (*builder).token,
	KindStreamEnd:     (*builder).streamEnd,
	KindToolPreparing: (*builder).toolPreparing,
	KindToolStart:     (*builder).toolStart,
	KindToolEnd:       (*builder).toolEnd,
	KindError:         (*builder).failure,
	KindAgentFinish:   (*builder).finish,
	KindChainEnd:      (*builder).finish,
}

type builder struct {
	cleaner *Cleaner
}

func (b *builder) apply(sec *AgentSection, ev Event) string {
	handler, ok := sectionHandlers[ev.Kind()]
	if !ok {
		return ""
	}
	return handler(b, sec, ev)
}

func (b *builder) chainStart(sec *AgentSection, ev Event) string {
	if !ev.Timestamp.IsZero() {
		sec.StartedAt = ev.Timestamp
	}
	sec.EndedAt = nil
	return ""
}

func (b *builder) token(sec *AgentSection, ev Event) string {
	p := ev.Payload.(*Token)
	th, ok := sec.OpenThinking()
	if !ok {
		th = &Thinking{}
		b.append(sec, SectionItem{Type: ItemThinking, Thinking: th})
	}
	out, carry := b.cleaner.Feed(th.carry, p.Text)
	th.Text += out
	th.carry = carry
	th.Raw += p.Text
	return ""
}

func (b *builder) streamEnd(sec *AgentSection, ev Event) string {
	if _, ok := sec.OpenThinking(); ok {
		finalize(sec)
		return ""
	}
	p := ev.Payload.(*StreamEnd)
	if strings.TrimSpace(p.Output) == "" {
		return ""
	}
	b.append(sec, SectionItem{Type: ItemThinking, Thinking: &Thinking{
		Text:      b.cleaner.Clean(p.Output),
		Raw:       p.Output,
		Finalized: true,
	}})
	return ""
}

func (b *builder) toolPreparing(sec *AgentSection, ev Event) string {
	runID := ev.Route.RunID
	if runID == "" {
		return ReasonMissingRunID
	}
	if findByRun(sec, runID) != nil {
		return ""
	}
	p := ev.Payload.(*ToolPreparing)
	b.append(sec, SectionItem{Type: ItemToolCall, ToolCall: &ToolCall{
		Name:      p.ToolName,
		RunID:     runID,
		Input:     PreparingInput,
		Status:    ToolRunning,
		Preparing: true,
		StartedAt: ev.Timestamp,
	}})
	return ""
}

func (b *builder) toolStart(sec *AgentSection, ev Event) string {
	p := ev.Payload.(*ToolStart)
	finalize(sec)

	if call := findByRun(sec, ev.Route.RunID); call != nil {
		if call.Preparing {
			if p.ToolName != "" {
				call.Name = p.ToolName
			}
			call.Input = p.Input
			call.Preparing = false
			if !ev.Timestamp.IsZero() {
				call.StartedAt = ev.Timestamp
			}
		}
		return ""
	}

	b.append(sec, SectionItem{Type: ItemToolCall, ToolCall: &ToolCall{
		Name:      p.ToolName,
		RunID:     ev.Route.RunID,
		Input:     p.Input,
		Status:    ToolRunning,
		StartedAt: ev.Timestamp,
	}})
	return ""
}

func (b *builder) toolEnd(sec *AgentSection, ev Event) string {
	p := ev.Payload.(*ToolEnd)
	call, ok := Match(sec, ev.Route.RunID, p.ToolName)
	if !ok {
		return ReasonUnmatchedTool
	}
	call.complete(p, ev.Timestamp)
	return ""
}

func (b *builder) failure(sec *AgentSection, ev Event) string {
	p := ev.Payload.(*Failure)
	msg := p.Message
	if msg == "" {
		msg = p.ErrorType
	}
	if msg == "" {
		msg = "error"
	}

	if call, ok := Match(sec, ev.Route.RunID, p.ToolName); ok {
		call.fail(msg, ev.Timestamp)
		return ""
	}
	// A run id naming a tool call of this section keeps the error on that
	// call even when it is already terminal.
	if p.ToolScoped || findByRun(sec, ev.Route.RunID) != nil {
		return ReasonUnmatchedTool
	}

	// Session-level: nothing in flight can be assumed to progress.
	finalize(sec)
	for _, it := range sec.Items {
		if it.ToolCall != nil {
			it.ToolCall.fail(msg, ev.Timestamp)
		}
	}
	sec.Error = msg
	return ""
}

func (b *builder) finish(sec *AgentSection, ev Event) string {
	var output string
	switch p := ev.Payload.(type) {
	case *AgentFinish:
		output = p.Output
	case *ChainEnd:
		output = p.Output
	}

	finalize(sec)
	at := ev.Timestamp
	sec.EndedAt = &at

	if strings.TrimSpace(output) == "" {
		return ""
	}
	if n := len(sec.Items); n > 0 && sec.Items[n-1].Output != nil && sec.Items[n-1].Output.Text == output {
		return ""
	}
	b.append(sec, SectionItem{Type: ItemOutput, Output: &Output{Text: output}})
	return ""
}

// append adds an item, keeping at most one unfinalized Thinking item: any
// open one is finalized before something else is appended after it.
func (b *builder) append(sec *AgentSection, it SectionItem) {
	finalize(sec)
	sec.Items = append(sec.Items, it)
	if it.Thinking != nil && !it.Thinking.Finalized {
		sec.open = len(sec.Items) - 1
	}
}

func finalize(sec *AgentSection) {
	th, ok := sec.OpenThinking()
	if !ok {
		return
	}
	th.Text += th.carry
	th.carry = ""
	th.Finalized = true
	sec.open = -1
}

func finishSubagent(ss *SubagentSession, status SubagentStatus, at time.Time) {
	finalize(&ss.Timeline)
	ss.Status = status
	ss.EndedAt = &at
	ss.Timeline.EndedAt = &at
}
