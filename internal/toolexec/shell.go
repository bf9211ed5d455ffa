package toolexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xzatoma/xzatoma/internal/shell"
	"github.com/xzatoma/xzatoma/internal/store"
	"github.com/xzatoma/xzatoma/internal/tool"
	"github.com/xzatoma/xzatoma/internal/validator"
)

// ShellArgs are the arguments to the Shell tool.
type ShellArgs struct {
	Command     string `json:"command"`
	Description string `json:"description"`
	Timeout     int    `json:"timeout,omitempty"` // seconds, default 60
}

// NewShellTool creates the Shell (terminal) tool definition.
func NewShellTool() tool.Tool {
	return tool.Tool{
		Name: "Shell",
		Description: `Execute a shell command in an in-process POSIX interpreter.
Commands run inside the project working directory. Shell state (cwd, env vars) persists across calls within the same session.
Commands are checked against the active execution mode's policy before running; some may require user confirmation.
Use this for: running builds, tests, linters, git operations, file manipulation, and inspecting project state.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command":     {"type": "string", "description": "The shell command to execute"},
				"description": {"type": "string", "description": "Brief description of what this command does (5-10 words)"},
				"timeout":     {"type": "integer", "description": "Timeout in seconds (default 60)"}
			},
			"required": ["command", "description"]
		}`),
		Safety: tool.Dangerous,
	}
}

// Confirmer asks the operator whether a command flagged by the validator may
// run. Implementations back onto the interactive terminal or a headless
// auto-deny/auto-approve policy.
type Confirmer func(ctx context.Context, command, reason string) bool

// ShellHandler handles Shell tool calls. Every command passes through a
// validator.Validator before execution; the validator's verdict determines
// whether Confirmer is consulted or the command is approved/rejected outright.
type ShellHandler struct {
	sh        *shell.Shell
	validator *validator.Validator
	confirm   Confirmer
	// OnOutput is called with incremental output chunks for real-time streaming.
	// May be nil.
	OnOutput func(chunk string)
	// audit receives one record per executed command, regardless of outcome.
	// May be nil (audit logging disabled).
	audit *store.Cache
}

// NewShellHandler creates a handler for the Shell tool. audit may be nil.
func NewShellHandler(sh *shell.Shell, v *validator.Validator, confirm Confirmer, audit *store.Cache) *ShellHandler {
	return &ShellHandler{sh: sh, validator: v, confirm: confirm, audit: audit}
}

// Handle implements the tool.Handler interface.
func (h *ShellHandler) Handle(ctx context.Context, arguments json.RawMessage) (*tool.Result, error) {
	var args ShellArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolError("Invalid arguments: %v", err), nil
	}
	if args.Command == "" {
		return toolError("command is required"), nil
	}

	if h.validator != nil {
		verdict := h.validator.Check(args.Command)
		log.Debug().Str("command", args.Command).Str("verdict", verdict.Decision.String()).Msg("shell command validated")
		switch verdict.Decision {
		case validator.Denied:
			return toolError("command rejected by policy: %s", verdict.Reason), nil
		case validator.NeedsConfirmation:
			if h.confirm == nil || !h.confirm(ctx, args.Command, verdict.Reason) {
				return toolError("command requires confirmation and was not approved: %s", verdict.Reason), nil
			}
		}
	}

	timeout := 60
	if args.Timeout > 0 {
		timeout = args.Timeout
	}
	if timeout > maxTimeoutSec {
		timeout = maxTimeoutSec
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer

	start := time.Now()
	workDir := h.sh.Dir()

	var execErr error
	if h.OnOutput != nil {
		sw := &streamWriter{buf: &stdout, onChunk: h.OnOutput}
		execErr = h.sh.ExecStream(ctx, args.Command, sw, &stderr)
	} else {
		execErr = h.sh.ExecStream(ctx, args.Command, &stdout, &stderr)
	}

	exitCode := shell.ExitCode(execErr)

	h.audit.AppendAudit(store.AuditRecord{
		Timestamp:  start,
		WorkingDir: workDir,
		Command:    args.Command,
		ExitCode:   exitCode,
		Duration:   time.Since(start),
	})

	output := formatShellOutput(stdout.String(), stderr.String(), exitCode, ctx.Err())

	// Ensure non-empty output — some providers reject empty tool results.
	if output == "" {
		output = "(no output)\n"
	}

	if len([]rune(output)) > maxOutputChars {
		output = truncateMiddle(output, maxOutputChars)
	}

	if exitCode != 0 {
		return &tool.Result{
			Content: []tool.ContentBlock{{Type: "text", Text: output}},
			IsError: true,
		}, nil
	}
	return toolText(output), nil
}

const maxOutputChars = 30000
const maxTimeoutSec = 600 // 10 minutes

// streamWriter wraps a bytes.Buffer and calls onChunk for each Write.
type streamWriter struct {
	buf     *bytes.Buffer
	onChunk func(string)
}

func (w *streamWriter) Write(p []byte) (int, error) {
	n, err := w.buf.Write(p)
	if n > 0 && w.onChunk != nil {
		w.onChunk(string(p[:n]))
	}
	return n, err
}

func formatShellOutput(stdout, stderr string, exitCode int, ctxErr error) string {
	var b strings.Builder
	if stdout != "" {
		b.WriteString(stdout)
		if !strings.HasSuffix(stdout, "\n") {
			b.WriteByte('\n')
		}
	}
	if stderr != "" {
		b.WriteString(stderr)
		if !strings.HasSuffix(stderr, "\n") {
			b.WriteByte('\n')
		}
	}
	if ctxErr != nil {
		fmt.Fprintf(&b, "[timed out]\n")
	}
	if exitCode != 0 {
		fmt.Fprintf(&b, "[exit code: %d]\n", exitCode)
	}
	return b.String()
}

func truncateMiddle(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	half := maxChars / 2
	return string(runes[:half]) + "\n\n... [truncated] ...\n\n" + string(runes[len(runes)-half:])
}
