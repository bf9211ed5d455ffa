package toolexec

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/xzatoma/xzatoma/internal/provider"
	"github.com/xzatoma/xzatoma/internal/quota"
	"github.com/xzatoma/xzatoma/internal/store"
	"github.com/xzatoma/xzatoma/internal/subagent"
	"github.com/xzatoma/xzatoma/internal/tool"
)

// SubAgentArgs represents arguments for the subagent tool.
type SubAgentArgs struct {
	Label         string   `json:"label"`
	TaskPrompt    string   `json:"task_prompt"`
	SummaryPrompt string   `json:"summary_prompt,omitempty"`
	AllowedTools  []string `json:"allowed_tools,omitempty"`
	MaxTurns      int      `json:"max_turns,omitempty"`
}

// NewSubAgentTool creates the subagent tool definition (spec.md §4.6).
func NewSubAgentTool() tool.Tool {
	return tool.Tool{
		Name: "subagent",
		Description: `Spawn a single child agent to handle one focused task. The child ` +
			`runs with a restricted view of your own tools (optionally narrowed further ` +
			`via allowed_tools) and cannot itself spawn sub-agents. Use this to delegate ` +
			`a self-contained piece of work and get back a concise summary.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"label":          {"type": "string", "description": "Short name identifying this sub-agent's purpose."},
				"task_prompt":    {"type": "string", "description": "The task for the sub-agent to accomplish."},
				"summary_prompt": {"type": "string", "description": "Prompt used to elicit the final summary (default: 'Summarize your findings concisely')."},
				"allowed_tools":  {"type": "array", "items": {"type": "string"}, "description": "Optional whitelist restricting the sub-agent's tools; must be a subset of your own."},
				"max_turns":      {"type": "integer", "minimum": 1, "maximum": 50, "description": "Maximum turns for the sub-agent (default: 5)."}
			},
			"required": ["label", "task_prompt"]
		}`),
		// A sub-agent may be handed mutating tools, so it is itself
		// treated as Mutating: Planning mode must not be able to reach
		// filesystem or shell effects indirectly through delegation.
		Safety: tool.Mutating,
	}
}

// ParallelSubAgentArgs represents arguments for the parallel_subagent tool.
type ParallelSubAgentArgs struct {
	Tasks []SubAgentArgs `json:"tasks"`
}

// NewParallelSubAgentTool creates the parallel_subagent fan-out tool
// (spec.md §5: concurrent subagents only via an explicit parallel tool).
func NewParallelSubAgentTool() tool.Tool {
	return tool.Tool{
		Name: "parallel_subagent",
		Description: `Spawn multiple independent sub-agents concurrently, each with its ` +
			`own task and conversation. Use this when several pieces of work can proceed ` +
			`without depending on each other's results. Returns one summary per task, in ` +
			`the order submitted.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"tasks": {
					"type": "array",
					"minItems": 1,
					"items": {
						"type": "object",
						"properties": {
							"label":          {"type": "string"},
							"task_prompt":    {"type": "string"},
							"summary_prompt": {"type": "string"},
							"allowed_tools":  {"type": "array", "items": {"type": "string"}},
							"max_turns":      {"type": "integer", "minimum": 1, "maximum": 50}
						},
						"required": ["label", "task_prompt"]
					}
				}
			},
			"required": ["tasks"]
		}`),
		// A sub-agent may be handed mutating tools, so it is itself
		// treated as Mutating: Planning mode must not be able to reach
		// filesystem or shell effects indirectly through delegation.
		Safety: tool.Mutating,
	}
}

// SubAgentHandler handles the subagent and parallel_subagent tools.
//
// View is the spawning agent's own tool view (already mode-filtered); each
// spawn further restricts it per allowed_tools and always excludes
// "subagent"/"parallel_subagent" themselves, so a child can never recurse.
type SubAgentHandler struct {
	provider provider.Provider
	view     *tool.View
	quota    *quota.Tracker
	store    *store.Cache
	parentID string
	depth    int
	maxDepth int
}

// NewSubAgentHandler creates a handler for the subagent/parallel_subagent
// tools. st may be nil (persistence disabled).
func NewSubAgentHandler(prov provider.Provider, view *tool.View, q *quota.Tracker, st *store.Cache, parentID string, depth, maxDepth int) *SubAgentHandler {
	if prov == nil {
		panic("SubAgentHandler: provider cannot be nil")
	}
	if view == nil {
		panic("SubAgentHandler: view cannot be nil")
	}
	return &SubAgentHandler{
		provider: prov,
		view:     view,
		quota:    q,
		store:    st,
		parentID: parentID,
		depth:    depth,
		maxDepth: maxDepth,
	}
}

// Handle implements the tool.Handler interface for the "subagent" tool.
func (h *SubAgentHandler) Handle(ctx context.Context, arguments json.RawMessage) (*tool.Result, error) {
	var args SubAgentArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolError("invalid arguments: %v", err), nil
	}

	res, err := subagent.Run(ctx, h.optionsFor(args))
	if err != nil {
		return toolError("sub-agent failed: %v", err), nil
	}
	return subAgentResultToTool(res), nil
}

// HandleParallel implements the tool.Handler interface for the
// "parallel_subagent" tool.
func (h *SubAgentHandler) HandleParallel(ctx context.Context, arguments json.RawMessage) (*tool.Result, error) {
	var args ParallelSubAgentArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolError("invalid arguments: %v", err), nil
	}
	if len(args.Tasks) == 0 {
		return toolError("tasks must not be empty"), nil
	}

	opts := make([]subagent.Options, len(args.Tasks))
	for i, t := range args.Tasks {
		opts[i] = h.optionsFor(t)
	}

	results, errs := subagent.RunParallel(ctx, opts)

	var sb strings.Builder
	for i, res := range results {
		label := args.Tasks[i].Label
		sb.WriteString("### " + label + "\n")
		if errs[i] != nil {
			sb.WriteString("failed: " + errs[i].Error() + "\n\n")
			continue
		}
		sb.WriteString(res.Output)
		sb.WriteString("\n\n")
	}

	return toolText(strings.TrimSpace(sb.String())), nil
}

func (h *SubAgentHandler) optionsFor(args SubAgentArgs) subagent.Options {
	return subagent.Options{
		Provider:      h.provider,
		Store:         h.store,
		ParentView:    h.view,
		Quota:         h.quota,
		ParentID:      h.parentID,
		Depth:         h.depth,
		MaxDepth:      h.maxDepth,
		Label:         args.Label,
		TaskPrompt:    args.TaskPrompt,
		SummaryPrompt: args.SummaryPrompt,
		AllowedTools:  args.AllowedTools,
		MaxTurns:      args.MaxTurns,
	}
}

func subAgentResultToTool(res subagent.Result) *tool.Result {
	return &tool.Result{
		Content: []tool.ContentBlock{{Type: "text", Text: res.Output}},
		IsError: res.CompletionStatus != "complete",
		Metadata: map[string]string{
			"subagent_label":    res.Label,
			"recursion_depth":   strconv.Itoa(res.RecursionDepth),
			"completion_status": res.CompletionStatus,
			"turns_used":        strconv.Itoa(res.TurnsUsed),
			"max_turns_reached": strconv.FormatBool(res.MaxTurnsReached),
			"tokens_consumed":   strconv.Itoa(res.TokensConsumed),
		},
	}
}

// MakeParallelSubAgentHandler adapts HandleParallel to tool.Handler so it
// can be registered under its own tool name.
func MakeParallelSubAgentHandler(h *SubAgentHandler) tool.Handler {
	return func(ctx context.Context, arguments json.RawMessage) (*tool.Result, error) {
		return h.HandleParallel(ctx, arguments)
	}
}
