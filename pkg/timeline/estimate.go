package timeline

// SizeEstimator approximates the in-memory size of an event in bytes.
type SizeEstimator func(Event) int

// eventOverhead roughly covers the struct, timestamp and interface header.
const eventOverhead = 96

// EstimateSize sums string payload lengths on top of a fixed per-event
// overhead. It is meant for display, not accounting.
func EstimateSize(ev Event) int {
	r := ev.Route
	n := eventOverhead + len(r.AgentLabel) + len(r.NodeID) + len(r.RunID) + len(r.ParentRunID) + len(r.SubagentRunID)

	switch p := ev.Payload.(type) {
	case *ChainStart:
		n += len(p.Input)
	case *ChainEnd:
		n += len(p.Output)
	case *Token:
		n += len(p.Text)
	case *StreamEnd:
		n += len(p.Output)
	case *ToolPreparing:
		n += len(p.ToolName)
	case *ToolStart:
		n += len(p.ToolName) + len(p.Input)
	case *ToolEnd:
		n += len(p.ToolName) + len(p.Output)
		for _, blocks := range [][]ContentBlock{p.ContentBlocks, p.Artifacts} {
			for _, b := range blocks {
				n += len(b.Type) + len(b.Text) + len(b.Data) + len(b.MimeType) + len(b.URI) + len(b.Blob) + len(b.AltText)
			}
		}
	case *AgentFinish:
		n += len(p.Output)
	case *Failure:
		n += len(p.ToolName) + len(p.Message) + len(p.ErrorType)
	case *SubagentStart:
		n += len(p.Name) + len(p.Input)
	case *SubagentEnd:
		n += len(p.Output) + len(p.Error)
	case *Other:
		n += len(p.Type)
	}
	return n
}
