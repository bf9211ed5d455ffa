package conversation

import (
	"fmt"

	"github.com/xzatoma/xzatoma/internal/provider"
)

// group is a contiguous run of messages that must be pruned as a unit: an
// assistant message carrying tool calls together with every tool-result
// message that answers one of those calls. Splitting a group would leave a
// tool result with no matching call (or vice versa), breaking pair
// integrity at the provider boundary.
type group struct {
	start, end int // inclusive message indices
}

// groupMessages partitions msgs into atomic pruning units. The first
// message of a group is never a "tool" role message with no preceding
// assistant call in this same slice — such orphans are handled by
// Sanitize, not by grouping.
func groupMessages(msgs []provider.Message) []group {
	var groups []group
	i := 0
	for i < len(msgs) {
		start := i
		if msgs[i].Role == "assistant" && len(msgs[i].ToolCalls) > 0 {
			pending := make(map[string]struct{}, len(msgs[i].ToolCalls))
			for _, tc := range msgs[i].ToolCalls {
				pending[tc.ID] = struct{}{}
			}
			j := i + 1
			for j < len(msgs) && len(pending) > 0 && msgs[j].Role == "tool" {
				delete(pending, msgs[j].ToolCallID)
				j++
			}
			groups = append(groups, group{start: start, end: j - 1})
			i = j
			continue
		}
		groups = append(groups, group{start: start, end: start})
		i++
	}
	return groups
}

// Prune drops the oldest non-system groups, replacing each pruned run with
// a single synthetic system message, until the estimated token count is at
// or under budgetTokens or only keepRecentGroups non-system groups remain
// (whichever comes first). It returns true if anything was pruned.
//
// summarize, if non-nil, is called with the messages being dropped and
// should return a short human-readable description of what was lost; its
// result replaces the dropped span. If nil, a generic placeholder is used.
func (c *Conversation) Prune(budgetTokens, keepRecentGroups int, summarize func([]provider.Message) string) bool {
	if budgetTokens <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if estimateTokens(c.messages) <= budgetTokens {
		return false
	}

	groups := groupMessages(c.messages)

	// Never prune leading system messages.
	firstPrunable := 0
	for firstPrunable < len(groups) {
		g := groups[firstPrunable]
		if g.start == g.end && c.messages[g.start].Role == "system" {
			firstPrunable++
			continue
		}
		break
	}

	pruned := false
	for len(groups)-firstPrunable > keepRecentGroups && estimateTokens(c.messages) > budgetTokens {
		g := groups[firstPrunable]
		span := c.messages[g.start : g.end+1]

		var desc string
		if summarize != nil {
			desc = summarize(span)
		} else {
			desc = fmt.Sprintf("%d message(s) dropped to stay within context budget", len(span))
		}
		summary := provider.Message{Role: "system", Content: pruneSummaryPrefix + desc + "]"}

		c.messages = append(c.messages[:g.start], append([]provider.Message{summary}, c.messages[g.end+1:]...)...)
		pruned = true

		groups = groupMessages(c.messages)
		// firstPrunable stays put: the synthetic summary occupies the same
		// slot and is itself a system message, so re-scan from the start.
		firstPrunable = 0
		for firstPrunable < len(groups) {
			g := groups[firstPrunable]
			if g.start == g.end && c.messages[g.start].Role == "system" {
				firstPrunable++
				continue
			}
			break
		}
	}

	return pruned
}

// AutoSummarize is the run-mode counterpart of an interactive /compact: a
// non-interactive run has no operator to prompt, so once utilization
// crosses thresholdPct of the configured max-token budget (see
// SetMaxTokens), it prunes down to thresholdPct of that budget on its own
// (spec.md §4.1 "Auto-summarization (run mode)"). keepRecentGroups and
// summarize behave exactly as in Prune. Returns false if no budget is
// configured or the threshold hasn't been crossed.
func (c *Conversation) AutoSummarize(thresholdPct float64, keepRecentGroups int, summarize func([]provider.Message) string) bool {
	info := c.GetContextInfo()
	if info.Max <= 0 || info.Percentage < thresholdPct {
		return false
	}
	return c.Prune(int(float64(info.Max)*thresholdPct/100), keepRecentGroups, summarize)
}
