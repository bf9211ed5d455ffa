package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ChatMode selects which safety classes are exposed to the model.
type ChatMode int

const (
	// Planning admits only ReadOnly tools.
	Planning ChatMode = iota
	// Write admits every tool; per-call confirmation is a safety-mode concern.
	Write
)

// entry pairs a tool definition with its handler and compiled schema.
type entry struct {
	tool    Tool
	handler Handler
	schema  *jsonschema.Schema
}

// Registry is the full, unfiltered name→executor map (spec.md §4.2).
//
// It is built once at startup and is read-only after construction; Views
// handed to subagents are cheap name-set filters over it and never
// mutate the underlying map.
type Registry struct {
	mu          sync.RWMutex
	entries     map[string]*entry
	maxResultSz int
}

// DefaultMaxResultSize bounds a single tool result's text before truncation.
const DefaultMaxResultSize = 32 * 1024

// NewRegistry creates an empty registry. maxResultSize <= 0 uses the default.
func NewRegistry(maxResultSize int) *Registry {
	if maxResultSize <= 0 {
		maxResultSize = DefaultMaxResultSize
	}
	return &Registry{
		entries:     make(map[string]*entry),
		maxResultSz: maxResultSize,
	}
}

// Register adds a tool and its handler to the full set.
//
// The schema is compiled once here; dispatch reuses it, so a malformed
// schema fails fast at registration instead of silently skipping
// validation on every call.
func (r *Registry) Register(t Tool, h Handler) error {
	compiled, err := compileSchema(t.Name, t.InputSchema)
	if err != nil {
		return fmt.Errorf("register %s: %w", t.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[t.Name] = &entry{tool: t, handler: h, schema: compiled}
	return nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	c := jsonschema.NewCompiler()
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	res := fmt.Sprintf("tool://%s/schema.json", name)
	if err := c.AddResource(res, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(res)
}

// View is a read-only, filtered handle over a Registry: the subset of tools
// a particular agent instance (root or subagent) may see and dispatch.
type View struct {
	reg   *Registry
	names map[string]struct{} // allowed tool names, nil = all
}

// BuildForMode returns the view for a chat mode: Planning excludes every
// tool whose safety class is not ReadOnly (spec.md §4.2, invariant 4).
func (r *Registry) BuildForMode(mode ChatMode) *View {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if mode == Write {
		return &View{reg: r}
	}

	allowed := make(map[string]struct{})
	for name, e := range r.entries {
		if e.tool.Safety == ReadOnly {
			allowed[name] = struct{}{}
		}
	}
	return &View{reg: r, names: allowed}
}

// Restrict returns a narrower view admitting only names also present in v,
// always excluding "subagent" unless explicitly allowed via allowNested.
//
// Unknown names in allowed produce an error rather than being silently
// dropped, per spec.md §4.6 ("unknown names in whitelist → error").
func (v *View) Restrict(allowed []string, allowNested bool) (*View, error) {
	base := v.names // nil means "everything in the registry"
	next := make(map[string]struct{}, len(allowed))

	if allowed == nil {
		// No explicit whitelist: inherit the parent view verbatim.
		if base == nil {
			v.reg.mu.RLock()
			for name := range v.reg.entries {
				next[name] = struct{}{}
			}
			v.reg.mu.RUnlock()
		} else {
			for name := range base {
				next[name] = struct{}{}
			}
		}
	} else {
		for _, name := range allowed {
			if !v.has(name) {
				return nil, fmt.Errorf("allowed_tools: %q is not available in the parent view", name)
			}
			next[name] = struct{}{}
		}
	}

	if !allowNested {
		delete(next, SubagentToolName)
		delete(next, ParallelSubagentToolName)
	}
	return &View{reg: v.reg, names: next}, nil
}

// SubagentToolName is the reserved name of the recursive-delegation tool.
// A subagent view never contains it unless the implementer opts in.
const SubagentToolName = "subagent"

// ParallelSubagentToolName is the reserved name of the concurrent-fan-out
// delegation tool; excluded from subagent views for the same reason as
// SubagentToolName.
const ParallelSubagentToolName = "parallel_subagent"

func (v *View) has(name string) bool {
	if v.names == nil {
		v.reg.mu.RLock()
		_, ok := v.reg.entries[name]
		v.reg.mu.RUnlock()
		return ok
	}
	_, ok := v.names[name]
	return ok
}

// Lookup returns the handler for name if it is present in this view.
func (v *View) Lookup(name string) (Handler, bool) {
	if !v.has(name) {
		return nil, false
	}
	v.reg.mu.RLock()
	e, ok := v.reg.entries[name]
	v.reg.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.handler, true
}

// Schemas returns {name, description, json_schema} for every tool in this
// view, consumed by the provider adapter to advertise tools to the model.
func (v *View) Schemas() []Tool {
	v.reg.mu.RLock()
	defer v.reg.mu.RUnlock()

	var out []Tool
	for name, e := range v.reg.entries {
		if v.names != nil {
			if _, ok := v.names[name]; !ok {
				continue
			}
		}
		out = append(out, e.tool)
	}
	return out
}

// Names returns the tool names visible in this view, in map iteration
// order (unsorted, non-deterministic). Used for diagnostics.
func (v *View) Names() []string {
	var out []string
	for _, t := range v.Schemas() {
		out = append(out, t.Name)
	}
	return out
}

// Dispatch validates arguments against the tool's schema, invokes the
// handler under a deadline, recovers panics into a failed Result, and
// truncates oversized output (spec.md §4.2).
func (v *View) Dispatch(ctx context.Context, callID, name string, arguments json.RawMessage, deadline time.Duration) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("tool", name).Interface("panic", r).Msg("tool handler panicked")
			res = ErrorResult("internal error: tool %s panicked: %v", name, r)
		}
	}()

	v.reg.mu.RLock()
	e, ok := v.reg.entries[name]
	v.reg.mu.RUnlock()

	if !ok || !v.has(name) {
		return ErrorResult("tool unavailable in current mode: %s", name)
	}

	if e.schema != nil {
		var doc interface{}
		if err := json.Unmarshal(arguments, &doc); err != nil {
			return ErrorResult("invalid arguments for %s: %v", name, err)
		}
		if err := e.schema.Validate(doc); err != nil {
			return ErrorResult("schema validation failed for %s: %v", name, err)
		}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if deadline > 0 {
		callCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	result, err := e.handler(callCtx, arguments)
	if err != nil {
		return ErrorResult("%v", err)
	}
	if result == nil {
		return ErrorResult("tool %s produced no result", name)
	}

	v.truncate(result)
	return result
}

// truncate caps a result's text to the registry's configured ceiling,
// recording the original size in metadata (spec.md §3).
func (v *View) truncate(r *Result) {
	limit := v.reg.maxResultSz
	if limit <= 0 {
		return
	}
	for i, block := range r.Content {
		if block.Type != "text" || len(block.Text) <= limit {
			continue
		}
		original := len(block.Text)
		r.Content[i].Text = block.Text[:limit]
		r.Truncated = true
		if r.Metadata == nil {
			r.Metadata = make(map[string]string)
		}
		r.Metadata["original_size"] = fmt.Sprintf("%d", original)
	}
}
