// Package validator classifies shell commands against an execution mode's
// policy before the Shell tool runs them. It is a pre-flight confirmation
// gate layered in front of internal/shell's hard command-blocking — the
// validator decides whether a command needs user confirmation, the shell's
// BlockFuncs decide whether a command can run at all.
package validator

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Mode selects which command policy governs confirmation.
type Mode int

const (
	// Interactive always confirms, regardless of command content.
	Interactive Mode = iota
	// RestrictedAutonomous approves only a fixed allowlist of inspection
	// commands; anything else needs confirmation.
	RestrictedAutonomous
	// FullAutonomous approves everything except commands matching a
	// deny pattern, which are rejected outright (no confirmation prompt).
	FullAutonomous
)

func (m Mode) String() string {
	switch m {
	case Interactive:
		return "interactive"
	case RestrictedAutonomous:
		return "restricted_autonomous"
	case FullAutonomous:
		return "full_autonomous"
	default:
		return "unknown"
	}
}

// Decision is the validator's verdict for a command.
type Decision int

const (
	// Approved runs without confirmation.
	Approved Decision = iota
	// NeedsConfirmation must be confirmed by the operator before running.
	NeedsConfirmation
	// Denied is rejected outright; no confirmation is offered.
	Denied
)

func (d Decision) String() string {
	switch d {
	case Approved:
		return "approved"
	case NeedsConfirmation:
		return "needs_confirmation"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// Verdict is the outcome of validating one command.
type Verdict struct {
	Decision Decision
	Reason   string
}

// DenyFunc mirrors shell.BlockFunc: it reports whether a parsed argv should
// be denied outright, in every mode, and why.
type DenyFunc func(args []string) (denied bool, reason string)

// restrictedAllowlist is the fixed command-name allowlist for
// RestrictedAutonomous mode (spec.md §4.4).
var restrictedAllowlist = map[string]struct{}{
	"ls": {}, "cat": {}, "head": {}, "tail": {},
	"grep": {}, "find": {}, "echo": {}, "pwd": {},
	"which": {}, "type": {},
}

// Validator classifies commands for one execution mode.
type Validator struct {
	mode      Mode
	denyFuncs []DenyFunc
}

// New creates a Validator for mode, checking deny patterns with denyFuncs
// in every mode. Pass nil to use no deny patterns.
func New(mode Mode, denyFuncs []DenyFunc) *Validator {
	return &Validator{mode: mode, denyFuncs: denyFuncs}
}

// Mode returns the validator's configured mode.
func (v *Validator) Mode() Mode { return v.mode }

// Check classifies a shell command string under the validator's mode.
//
// Deny-pattern matching runs first and applies regardless of mode: a
// command a DenyFunc rejects is Denied even under Interactive or
// RestrictedAutonomous, where it would otherwise just need confirmation.
func (v *Validator) Check(command string) Verdict {
	argvLists, err := commandArgv(command)
	if err != nil {
		return Verdict{Decision: NeedsConfirmation, Reason: "could not parse command: " + err.Error()}
	}
	for _, argv := range argvLists {
		for _, deny := range v.denyFuncs {
			if denied, reason := deny(argv); denied {
				if reason == "" {
					reason = "command matches a deny pattern: " + strings.Join(argv, " ")
				}
				return Verdict{Decision: Denied, Reason: reason}
			}
		}
	}

	switch v.mode {
	case Interactive:
		return Verdict{Decision: NeedsConfirmation, Reason: "interactive mode confirms every command"}

	case RestrictedAutonomous:
		for _, argv := range argvLists {
			if len(argv) == 0 {
				continue
			}
			if _, ok := restrictedAllowlist[argv[0]]; !ok {
				return Verdict{Decision: NeedsConfirmation, Reason: "command " + argv[0] + " is not in the restricted allowlist"}
			}
		}
		return Verdict{Decision: Approved, Reason: "all commands in restricted allowlist"}

	case FullAutonomous:
		return Verdict{Decision: Approved, Reason: "no deny pattern matched"}

	default:
		return Verdict{Decision: NeedsConfirmation, Reason: "unknown mode"}
	}
}

// commandArgv parses command into the literal-word argv of every simple
// command it contains (across pipelines, lists, and subshells). Only
// literal word parts are kept (see wordLiteral); nothing is executed.
func commandArgv(command string) ([][]string, error) {
	parsed, err := syntax.NewParser().Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, err
	}

	var out [][]string
	syntax.Walk(parsed, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok {
			return true
		}
		argv := make([]string, 0, len(call.Args))
		for _, w := range call.Args {
			argv = append(argv, wordLiteral(w))
		}
		if len(argv) > 0 {
			out = append(out, argv)
		}
		return true
	})
	return out, nil
}

// wordLiteral renders a syntax.Word as best-effort literal text by
// concatenating its literal parts; non-literal parts (expansions,
// substitutions, quoted strings) are dropped.
func wordLiteral(w *syntax.Word) string {
	var b strings.Builder
	for _, part := range w.Parts {
		if lit, ok := part.(*syntax.Lit); ok {
			b.WriteString(lit.Value)
		}
	}
	return b.String()
}
