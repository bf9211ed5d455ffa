// Package subagent implements the child-agent spawn pipeline described in
// spec.md §4.6: depth check, quota reservation, tool-view restriction,
// conversation seeding, execution, persistence, and output marshalling.
//
// It consolidates what had been two diverging implementations in the
// teacher tree into the single pipeline the spec names.
package subagent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xzatoma/xzatoma/internal/agent"
	"github.com/xzatoma/xzatoma/internal/provider"
	"github.com/xzatoma/xzatoma/internal/quota"
	"github.com/xzatoma/xzatoma/internal/store"
	"github.com/xzatoma/xzatoma/internal/tool"
)

const (
	// DefaultMaxTurns is used when a caller does not set Options.MaxTurns.
	DefaultMaxTurns = 5

	// MaxAllowedTurns is the upper bound spec.md §4.6 places on max_turns.
	MaxAllowedTurns = 50

	// DefaultSummaryPrompt is appended as a follow-up user message to
	// elicit the final summary turn when one isn't supplied.
	DefaultSummaryPrompt = "Summarize your findings concisely"
)

// DepthLimitError is returned when spawning would exceed config.max_depth.
type DepthLimitError struct {
	Depth, MaxDepth int
}

func (e *DepthLimitError) Error() string {
	return fmt.Sprintf("subagent depth limit exceeded: %d+1 > %d", e.Depth, e.MaxDepth)
}

// Options configures one subagent spawn.
type Options struct {
	Provider provider.Provider
	Store    *store.Cache // optional: nil disables persistence

	ParentView *tool.View     // the spawning agent's own tool view
	Quota      *quota.Tracker // shared across the whole spawn tree
	ParentID   string         // conversation id of the spawning agent
	Depth      int            // spawning agent's own depth (0 = root)
	MaxDepth   int            // config.max_depth

	Label         string
	TaskPrompt    string
	SummaryPrompt string
	AllowedTools  []string // optional whitelist, subset of ParentView
	MaxTurns      int
}

// Result is the ToolResult shape spec.md §4.6 names, minus the
// success/output fields that the tool executor layer adds.
type Result struct {
	Label            string
	Output           string
	RecursionDepth   int
	CompletionStatus string // "complete" or "incomplete"
	TurnsUsed        int
	MaxTurnsReached  bool
	TokensConsumed   int
}

// Run executes the full spawn pipeline and returns the child's result.
func Run(ctx context.Context, opts Options) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("subagent cancelled: %w", err)
	}
	if opts.Provider == nil {
		return Result{}, fmt.Errorf("subagent: provider is required")
	}
	if opts.ParentView == nil {
		return Result{}, fmt.Errorf("subagent: parent tool view is required")
	}
	if strings.TrimSpace(opts.Label) == "" {
		return Result{}, fmt.Errorf("subagent: label is required")
	}
	if strings.TrimSpace(opts.TaskPrompt) == "" {
		return Result{}, fmt.Errorf("subagent: task_prompt is required")
	}

	childDepth := opts.Depth + 1
	if childDepth > opts.MaxDepth {
		return Result{}, &DepthLimitError{Depth: opts.Depth, MaxDepth: opts.MaxDepth}
	}

	if opts.Quota != nil {
		if err := opts.Quota.Reserve(); err != nil {
			return Result{}, err
		}
	}

	view, err := opts.ParentView.Restrict(opts.AllowedTools, false)
	if err != nil {
		return Result{}, fmt.Errorf("allowed_tools: %w", err)
	}

	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if maxTurns > MaxAllowedTurns {
		return Result{}, fmt.Errorf("max_turns too large: %d (max %d)", maxTurns, MaxAllowedTurns)
	}

	summaryPrompt := opts.SummaryPrompt
	if strings.TrimSpace(summaryPrompt) == "" {
		summaryPrompt = DefaultSummaryPrompt
	}

	started := time.Now()

	history := []provider.Message{
		{Role: "system", Content: SystemPrompt(opts.Label), CreatedAt: started},
		{Role: "user", Content: opts.TaskPrompt, CreatedAt: started},
	}

	var subMessages []provider.Message
	var totalIn, totalOut int

	collect := func(msg provider.Message) { subMessages = append(subMessages, msg) }
	account := func(in, out int) { totalIn += in; totalOut += out }

	runErr := agent.ProcessTurn(ctx, agent.ProcessTurnOptions{
		Provider:      opts.Provider,
		View:          view,
		History:       history,
		OnMessage:     collect,
		OnUsage:       account,
		Quota:         opts.Quota,
		MaxToolRounds: maxTurns,
		Depth:         childDepth,
	})
	if runErr != nil && !isMaxTurnsExceeded(runErr) {
		return Result{}, fmt.Errorf("subagent %q failed: %w", opts.Label, runErr)
	}

	primaryTurns := countAssistantTurns(subMessages)
	maxTurnsReached := primaryTurns >= maxTurns
	finalContent := lastAssistantContent(subMessages)

	turnsUsed := primaryTurns
	if !maxTurnsReached && finalContent != "" {
		// Give the child one more turn to distill its work into the
		// requested summary shape; this extra round counts toward
		// max_turns (spec.md §4.6 step 5).
		followup := append(append([]provider.Message{}, history...), subMessages...)
		followup = append(followup, provider.Message{Role: "user", Content: summaryPrompt, CreatedAt: time.Now()})

		runErr = agent.ProcessTurn(ctx, agent.ProcessTurnOptions{
			Provider:      opts.Provider,
			View:          view,
			History:       followup,
			OnMessage:     collect,
			OnUsage:       account,
			Quota:         opts.Quota,
			MaxToolRounds: 1,
			Depth:         childDepth,
		})
		if runErr != nil && !isMaxTurnsExceeded(runErr) {
			return Result{}, fmt.Errorf("subagent %q summary turn failed: %w", opts.Label, runErr)
		}
		turnsUsed++
		if c := lastAssistantContent(subMessages); c != "" {
			finalContent = c
		}
	}

	completionStatus := "complete"
	if finalContent == "" || maxTurnsReached {
		completionStatus = "incomplete"
	}
	if finalContent == "" {
		finalContent = "(subagent produced no final response)"
	}

	result := Result{
		Label:            opts.Label,
		Output:           finalContent,
		RecursionDepth:   childDepth,
		CompletionStatus: completionStatus,
		TurnsUsed:        turnsUsed,
		MaxTurnsReached:  maxTurnsReached,
		TokensConsumed:   totalIn + totalOut,
	}

	persist(opts, result, started)
	return result, nil
}

// persist writes a SubagentRecord if a store is configured. Failures are
// logged by the store layer itself and never fail the subagent run —
// persistence is an audit trail, not part of the pipeline's success path.
func persist(opts Options, result Result, started time.Time) {
	if opts.Store == nil {
		return
	}
	rec := store.SubagentRecord{
		ID:               store.NewSortableID(),
		ParentID:         opts.ParentID,
		Label:            result.Label,
		Depth:            result.RecursionDepth,
		CompletionStatus: result.CompletionStatus,
		TurnsUsed:        result.TurnsUsed,
		MaxTurnsReached:  result.MaxTurnsReached,
		TokensConsumed:   result.TokensConsumed,
		AllowedTools:     opts.AllowedTools,
		StartedAt:        started,
		CompletedAt:      time.Now(),
	}
	_ = opts.Store.SaveSubagentRecord(rec)
}

// isMaxTurnsExceeded reports whether err is ProcessTurn's signal that a
// turn ran out of tool-call rounds. A subagent hitting its own max_turns is
// an expected, non-fatal outcome here: the surrounding code already derives
// completion status independently from the collected messages.
func isMaxTurnsExceeded(err error) bool {
	var maxTurns *agent.MaxTurnsExceeded
	return errors.As(err, &maxTurns)
}

func countAssistantTurns(msgs []provider.Message) int {
	n := 0
	for _, m := range msgs {
		if m.Role == "assistant" {
			n++
		}
	}
	return n
}

func lastAssistantContent(msgs []provider.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "assistant" && msgs[i].Content != "" {
			return msgs[i].Content
		}
	}
	return ""
}

// SystemPrompt returns the system prompt seeded for a subagent labeled
// label, describing its restricted role relative to the parent agent.
func SystemPrompt(label string) string {
	return strings.TrimSpace(fmt.Sprintf(`
You are a focused sub-agent named %q, spawned to handle one task on behalf
of a parent agent.

Your role:
- Complete the assigned task using only the tools made available to you.
- You cannot spawn further sub-agents.
- When done, respond with a clear, concise summary: what you found or
  changed, and anything the parent agent still needs to do.

You have a limited number of turns. Work efficiently and do not repeat
the same tool call with the same arguments.
`, label))
}
