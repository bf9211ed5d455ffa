package conversation

import "github.com/xzatoma/xzatoma/internal/provider"

// Sanitize repairs pair integrity before a provider call: every "tool" role
// message must reference a tool_call_id that some preceding assistant
// message actually emitted, and every tool call an assistant message
// emitted must be answered by a tool message before the next assistant
// message. Violations can arise from pruning, truncated persistence, or a
// crash mid-turn.
//
// Orphaned tool results (no matching call) are dropped. Unanswered tool
// calls get a synthesized failure result appended immediately after their
// assistant message, so the provider never sees a dangling call.
func Sanitize(msgs []provider.Message) []provider.Message {
	msgs = removeOrphanedToolResults(msgs)
	msgs = synthesizeMissingToolResults(msgs)
	return msgs
}

// removeOrphanedToolResults drops any "tool" message whose ToolCallID does
// not match a tool call made by some assistant message in msgs.
func removeOrphanedToolResults(msgs []provider.Message) []provider.Message {
	valid := make(map[string]struct{})
	for _, m := range msgs {
		if m.Role == "assistant" {
			for _, tc := range m.ToolCalls {
				if tc.ID != "" {
					valid[tc.ID] = struct{}{}
				}
			}
		}
	}

	out := make([]provider.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "tool" {
			if _, ok := valid[m.ToolCallID]; !ok {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

// synthesizeMissingToolResults inserts a failed tool-result message for
// every tool call an assistant message made that is not immediately
// answered by a matching tool message, so the provider's
// assistant-then-tool-results invariant always holds.
func synthesizeMissingToolResults(msgs []provider.Message) []provider.Message {
	out := make([]provider.Message, 0, len(msgs))
	i := 0
	for i < len(msgs) {
		m := msgs[i]
		out = append(out, m)
		i++

		if m.Role != "assistant" || len(m.ToolCalls) == 0 {
			continue
		}

		answered := make(map[string]struct{})
		for i < len(msgs) && msgs[i].Role == "tool" {
			out = append(out, msgs[i])
			answered[msgs[i].ToolCallID] = struct{}{}
			i++
		}

		for _, tc := range m.ToolCalls {
			if _, ok := answered[tc.ID]; ok {
				continue
			}
			out = append(out, provider.Message{
				Role:         "tool",
				Content:      "Error: tool result lost (conversation was pruned or interrupted before this call completed)",
				ToolCallID:   tc.ID,
				FunctionName: tc.Name,
			})
		}
	}
	return out
}
