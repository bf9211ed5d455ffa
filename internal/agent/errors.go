package agent

import (
	"fmt"

	"github.com/xzatoma/xzatoma/internal/quota"
)

// MaxTurnsExceeded reports that a turn ran out of tool-call rounds before
// the model produced a final answer (spec.md §7/§8).
type MaxTurnsExceeded struct {
	Limit     int
	TurnsUsed int
}

func (e *MaxTurnsExceeded) Error() string {
	return fmt.Sprintf("max turns exceeded: used %d of %d", e.TurnsUsed, e.Limit)
}

// Cancelled reports that the turn stopped because its context was
// cancelled or its deadline expired (spec.md §7).
type Cancelled struct {
	Cause error
}

func (e *Cancelled) Error() string {
	if e.Cause == nil {
		return "turn cancelled"
	}
	return fmt.Sprintf("turn cancelled: %v", e.Cause)
}

func (e *Cancelled) Unwrap() error { return e.Cause }

// ProviderError wraps a failure the LLM provider adapter itself returned —
// a broken stream, a malformed response, exhausted empty-response retries —
// distinct from cancellation or turn-budget exhaustion (spec.md §7).
type ProviderError struct {
	Provider string
	Cause    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// QuotaExceeded reports that the turn stopped because the shared quota
// tracker had no budget left for another round (spec.md §7
// QuotaExceeded{dimension}).
type QuotaExceeded struct {
	Usage quota.Usage
}

func (e *QuotaExceeded) Error() string {
	return fmt.Sprintf("quota exceeded: executions=%d tokens=%d duration=%s",
		e.Usage.Executions, e.Usage.Tokens, e.Usage.Duration)
}
