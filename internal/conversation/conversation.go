// Package conversation manages one agent's message history: appends,
// token accounting, pair-integrity (every tool result must answer a prior
// tool call), and budget-driven pruning that never splits a tool-call /
// tool-result group.
package conversation

import (
	"sync"

	"github.com/xzatoma/xzatoma/internal/provider"
)

// charsPerToken is the heuristic used to estimate token counts without a
// model-specific tokenizer: roughly 4 characters per token for English
// prose and source code mixed together.
const charsPerToken = 4

// pruneSummaryPrefix tags the synthetic message inserted in place of a
// pruned span. A later pruning pass skips such summaries because they carry
// the "system" role, not because of this prefix.
const pruneSummaryPrefix = "[pruned "

// Usage accumulates provider-reported token counts across a conversation's
// whole lifetime. Unlike EstimateTokens (a heuristic over the messages
// about to be sent), Usage reflects what the provider actually billed.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Conversation is a single agent's turn-by-turn message history.
//
// It is safe for concurrent use; the agent loop, streaming callbacks, and
// any UI reading the live transcript may all touch it at once.
type Conversation struct {
	mu           sync.Mutex
	messages     []provider.Message
	maxTokens    int
	summaryModel string
	usage        Usage
}

// New creates an empty conversation, optionally seeded with a system
// message.
func New(systemPrompt string) *Conversation {
	c := &Conversation{}
	if systemPrompt != "" {
		c.messages = append(c.messages, provider.Message{Role: "system", Content: systemPrompt})
	}
	return c
}

// Append adds a message to the end of the history.
func (c *Conversation) Append(msg provider.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

// AppendAll adds every message in msgs, in order.
func (c *Conversation) AppendAll(msgs []provider.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msgs...)
}

// Messages returns a copy of the current history. Mutating the returned
// slice does not affect the conversation.
func (c *Conversation) Messages() []provider.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]provider.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// SetMaxTokens configures the context budget GetContextInfo reports
// against and AutoSummarize triggers from. 0 means unbounded.
func (c *Conversation) SetMaxTokens(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxTokens = n
}

// SetSummaryModel records which model name auto-summarization should use
// for its own compaction call (spec.md §4.1's summary_model), distinct
// from the model answering the conversation itself — a cheaper/faster
// model is often preferable for summarizing dropped history.
func (c *Conversation) SetSummaryModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaryModel = model
}

// SummaryModel returns the configured summarization model, or "" if unset.
func (c *Conversation) SummaryModel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summaryModel
}

// UpdateFromProviderUsage accumulates token counts the provider actually
// reported for one call (spec.md §4.1's provider_reported_usage).
func (c *Conversation) UpdateFromProviderUsage(promptTokens, completionTokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage.PromptTokens += promptTokens
	c.usage.CompletionTokens += completionTokens
	c.usage.TotalTokens += promptTokens + completionTokens
}

// ProviderUsage returns the accumulated provider-reported usage so far.
func (c *Conversation) ProviderUsage() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// Len returns the number of messages currently held.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// EstimateTokens returns a heuristic token count for the entire history.
// It is not a substitute for the provider's own accounting (reported via
// OnUsage) but lets the pruner act before a call is even made.
func (c *Conversation) EstimateTokens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return estimateTokens(c.messages)
}

func estimateTokens(msgs []provider.Message) int {
	total := 0
	for _, m := range msgs {
		total += (len(m.Content) + len(m.Reasoning)) / charsPerToken
		for _, tc := range m.ToolCalls {
			total += (len(tc.Name) + len(tc.Arguments)) / charsPerToken
		}
	}
	return total
}

// ContextInfo reports the conversation's current size for diagnostics and
// UI display. Used is clamped to Max so Percentage never exceeds 100, even
// when the heuristic estimate briefly overshoots the real budget.
type ContextInfo struct {
	MessageCount int
	Max          int     // configured token budget; 0 if unset
	Used         int     // estimated tokens consumed, clamped to Max
	Remaining    int     // Max - Used, clamped to 0; 0 if Max is unset
	Percentage   float64 // 0-100; 0 if Max is unset
	Headroom     float64 // Remaining/Max as a 0-1 fraction; 0 if Max is unset
}

// GetContextInfo reports the conversation's current size against the
// configured max-token budget (see SetMaxTokens). A caller with no budget
// configured still gets MessageCount/Used; Max/Remaining/Percentage/
// Headroom all read zero in that case.
func (c *Conversation) GetContextInfo() ContextInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	tok := estimateTokens(c.messages)
	info := ContextInfo{MessageCount: len(c.messages), Max: c.maxTokens}
	if c.maxTokens <= 0 {
		info.Used = tok
		return info
	}

	used := tok
	if used > c.maxTokens {
		used = c.maxTokens
	}
	info.Used = used
	info.Remaining = c.maxTokens - used
	info.Percentage = float64(used) / float64(c.maxTokens) * 100
	info.Headroom = float64(info.Remaining) / float64(c.maxTokens)
	return info
}
