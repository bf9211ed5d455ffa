package conversation

import (
	"encoding/json"
	"testing"

	"github.com/xzatoma/xzatoma/internal/provider"
)

func TestAppendAndMessages(t *testing.T) {
	c := New("system prompt")
	c.Append(provider.Message{Role: "user", Content: "hi"})
	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[1].Content != "hi" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestMessagesReturnsCopy(t *testing.T) {
	c := New("")
	c.Append(provider.Message{Role: "user", Content: "a"})
	msgs := c.Messages()
	msgs[0].Content = "mutated"
	if c.Messages()[0].Content != "a" {
		t.Fatal("Messages() should return an independent copy")
	}
}

func TestSanitizeDropsOrphanedToolResult(t *testing.T) {
	msgs := []provider.Message{
		{Role: "user", Content: "do thing"},
		{Role: "tool", Content: "stray", ToolCallID: "no-such-call"},
	}
	out := Sanitize(msgs)
	for _, m := range out {
		if m.Role == "tool" {
			t.Fatalf("expected orphaned tool result to be dropped, found: %+v", m)
		}
	}
}

func TestSanitizeSynthesizesMissingResult(t *testing.T) {
	msgs := []provider.Message{
		{Role: "user", Content: "do thing"},
		{Role: "assistant", ToolCalls: []provider.ToolCall{
			{ID: "call1", Name: "Read", Arguments: json.RawMessage(`{}`)},
		}},
		{Role: "user", Content: "next turn"},
	}
	out := Sanitize(msgs)

	var found bool
	for _, m := range out {
		if m.Role == "tool" && m.ToolCallID == "call1" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a synthesized tool result for call1")
	}

	// The synthesized result must come before the next user message.
	idxTool, idxUser := -1, -1
	for i, m := range out {
		if m.Role == "tool" && m.ToolCallID == "call1" {
			idxTool = i
		}
		if m.Content == "next turn" {
			idxUser = i
		}
	}
	if idxTool == -1 || idxUser == -1 || idxTool > idxUser {
		t.Fatalf("synthesized tool result out of order: tool=%d user=%d", idxTool, idxUser)
	}
}

func TestSanitizePreservesAnsweredCalls(t *testing.T) {
	msgs := []provider.Message{
		{Role: "assistant", ToolCalls: []provider.ToolCall{{ID: "c1", Name: "Read"}}},
		{Role: "tool", Content: "result", ToolCallID: "c1"},
	}
	out := Sanitize(msgs)
	if len(out) != 2 {
		t.Fatalf("expected 2 messages preserved, got %d: %+v", len(out), out)
	}
}

func TestPruneReducesTokensKeepingSystemMessage(t *testing.T) {
	c := New("system")
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	for i := 0; i < 10; i++ {
		c.Append(provider.Message{Role: "user", Content: string(long)})
		c.Append(provider.Message{Role: "assistant", Content: string(long)})
	}

	before := c.EstimateTokens()
	pruned := c.Prune(before/2, 2, nil)
	if !pruned {
		t.Fatal("expected pruning to occur")
	}
	after := c.EstimateTokens()
	if after >= before {
		t.Fatalf("expected token count to drop: before=%d after=%d", before, after)
	}

	// System message must still be first.
	msgs := c.Messages()
	if msgs[0].Role != "system" {
		t.Fatalf("expected system message preserved at head, got %+v", msgs[0])
	}
}

func TestPruneNeverSplitsToolGroup(t *testing.T) {
	c := New("system")
	for i := 0; i < 5; i++ {
		c.Append(provider.Message{Role: "user", Content: "task"})
		c.Append(provider.Message{Role: "assistant", ToolCalls: []provider.ToolCall{
			{ID: "call", Name: "Read", Arguments: json.RawMessage(`{}`)},
		}})
		c.Append(provider.Message{Role: "tool", Content: "big result here padding padding padding", ToolCallID: "call"})
	}

	c.Prune(1, 1, nil)

	msgs := c.Messages()
	for i, m := range msgs {
		if m.Role == "tool" {
			// Every tool message must be answered by the nearest preceding
			// assistant message, which must have issued a matching call.
			found := false
			for j := i - 1; j >= 0; j-- {
				if msgs[j].Role == "assistant" {
					for _, tc := range msgs[j].ToolCalls {
						if tc.ID == m.ToolCallID {
							found = true
						}
					}
					break
				}
			}
			if !found {
				t.Fatalf("tool message at %d has no matching assistant call after pruning: %+v", i, msgs)
			}
		}
	}
}
