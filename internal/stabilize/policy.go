// Package stabilize runs the bounded retry loop that re-probes for canonical
// data after a completion hint, until two consecutive identical fingerprints
// are observed or the retry budget runs out. Host pages routinely emit
// "done" slightly before the final payload settles; the cadence below papers
// over that gap.
package stabilize

import "time"

// Policy holds the retry constants. The policy shape (fixed cadence, hard
// budget, one-shot timeout) is not caller-configurable; options may tune the
// constants only.
type Policy struct {
	// RetryDelay is the fixed pause between re-probe ticks.
	RetryDelay time.Duration
	// MaxRetries bounds ticks per attempt.
	MaxRetries int
	// Grace extends the window once after the budget is spent: a final
	// tick fires Grace after the last scheduled one before the timeout
	// warning is raised.
	Grace time.Duration
}

// DefaultPolicy returns the production constants: 1.1s cadence, 6 retries,
// 2s grace. The cadence is empirical; faster polling races the host's own
// persistence writes.
func DefaultPolicy() Policy {
	return Policy{
		RetryDelay: 1100 * time.Millisecond,
		MaxRetries: 6,
		Grace:      2 * time.Second,
	}
}
