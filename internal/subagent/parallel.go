package subagent

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// MaxConcurrentSubagents bounds the fan-out width of RunParallel so an
// errant request for dozens of branches cannot exhaust provider rate
// limits or local resources all at once.
const MaxConcurrentSubagents = 4

// RunParallel executes every entry in tasks concurrently (bounded by
// MaxConcurrentSubagents) and returns one Result per task in the same
// order. Each branch owns its own conversation; the only state shared
// across branches is what Options itself shares by reference — the
// parent tool view (read-only), the quota tracker (mutex-guarded), and
// the store (append-only) — exactly the sharing policy spec.md §5
// describes for concurrently spawned subagents.
//
// Cancelling ctx cancels every branch. A failing branch does not cancel
// the others: errors from individual branches are returned per-index in
// errs rather than aborting the whole group, so a caller can report
// partial results.
func RunParallel(ctx context.Context, tasks []Options) (results []Result, errs []error) {
	results = make([]Result, len(tasks))
	errs = make([]error, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrentSubagents)

	for i, opts := range tasks {
		i, opts := i, opts
		g.Go(func() error {
			res, err := Run(gctx, opts)
			results[i] = res
			errs[i] = err
			return nil // branch failures are reported per-index, not fatal to the group
		})
	}
	_ = g.Wait()

	return results, errs
}
