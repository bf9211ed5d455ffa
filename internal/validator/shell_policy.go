package validator

import "github.com/xzatoma/xzatoma/internal/shell"

// ShellDenyFuncs adapts internal/shell's BlockFuncs (the same deny patterns
// the interpreter enforces at exec time) into the validator's DenyFunc
// shape, so the validator rejects a command in any mode before it ever
// reaches the interpreter instead of failing mid-pipeline.
func ShellDenyFuncs() []DenyFunc {
	blockers := shell.DefaultBlockFuncs()
	out := make([]DenyFunc, len(blockers))
	for i, b := range blockers {
		out[i] = DenyFunc(b)
	}
	return out
}
