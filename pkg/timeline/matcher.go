package timeline

// Match resolves the running ToolCall that an end or error event completes.
//
// With a run id only an exact run id match counts, so concurrent calls to the
// same tool never cross-match. Without one (legacy producers) the newest
// running call with the same tool name wins. Items are scanned newest first.
func Match(sec *AgentSection, runID, toolName string) (*ToolCall, bool) {
	for i := len(sec.Items) - 1; i >= 0; i-- {
		call := sec.Items[i].ToolCall
		if call == nil || call.Terminal() {
			continue
		}
		if runID != "" {
			if call.RunID == runID {
				return call, true
			}
			continue
		}
		if toolName != "" && call.Name == toolName {
			return call, true
		}
	}
	return nil, false
}

// findByRun returns the ToolCall with the given run id in any state.
func findByRun(sec *AgentSection, runID string) *ToolCall {
	if runID == "" {
		return nil
	}
	for i := len(sec.Items) - 1; i >= 0; i-- {
		if call := sec.Items[i].ToolCall; call != nil && call.RunID == runID {
			return call
		}
	}
	return nil
}
