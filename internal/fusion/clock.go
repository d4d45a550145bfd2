package fusion

import "sync/atomic"

// Clock is the monotonic ingest clock.
//
// Every sample is stamped with a strictly increasing seq at ingest. The seq
// is the engine's recency comparator: host-reported capture timestamps can
// repeat or rewind, the ingest order cannot. Re-arm decisions after a
// stabilization timeout compare seq, never wall clock.
//
// Thread-safety: safe for concurrent use (atomic), though the single-writer
// loop is normally the only caller of Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0; the first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
