package fusion

import (
	"sync"

	"github.com/ragaeeb/blackiya-sub001/internal/capture"
)

// Kind distinguishes signal types.
type Kind int

const (
	// KindPromptSent: the user's prompt was submitted.
	KindPromptSent Kind = iota + 1
	// KindStreaming: response tokens are arriving.
	KindStreaming
	// KindCompletedHint: the page signalled generation finished.
	KindCompletedHint
	// KindTerminatedPartial: explicit non-success end of generation.
	KindTerminatedPartial
	// KindSample: a canonical or degraded sample was captured.
	KindSample
	// KindDispose: the host is tearing the attempt down.
	KindDispose
	// KindStabilizeTick: internal; a stabilization retry timer fired.
	KindStabilizeTick
)

// String returns the signal name used in logs and traces.
func (k Kind) String() string {
	switch k {
	case KindPromptSent:
		return "prompt_sent"
	case KindStreaming:
		return "streaming"
	case KindCompletedHint:
		return "completed_hint"
	case KindTerminatedPartial:
		return "terminated_partial"
	case KindSample:
		return "sample"
	case KindDispose:
		return "dispose"
	case KindStabilizeTick:
		return "stabilize_tick"
	default:
		return "unknown"
	}
}

// Signal is one engine input.
//
// AttemptID or ConversationID may be empty depending on how much the source
// had inferred when the signal fired; the engine resolves whichever identity
// is present (and lazily creates an attempt as a last resort).
type Signal struct {
	Kind           Kind
	AttemptID      string
	ConversationID string
	Platform       string

	// Sample is set for KindSample signals.
	Sample *capture.Sample

	// Reason is set for KindDispose signals.
	Reason string
}

// signalQueue is a thread-safe FIFO for signals.
//
// Unbounded: timer ticks and host callbacks must never block. Thread-safety
// covers external enqueuing (timer goroutines, host bridges) while the
// engine's Run loop dequeues.
//
// The signal channel enables context-aware waiting in the Run loop.
type signalQueue struct {
	mu      sync.Mutex
	signals []Signal
	closed  bool
	signal  chan struct{} // buffered size 1, coalesces wakeups
}

func newSignalQueue() *signalQueue {
	return &signalQueue{
		signals: make([]Signal, 0, 64),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds a signal to the back of the queue.
// Returns false if the queue is closed.
func (q *signalQueue) Enqueue(s Signal) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.signals = append(q.signals, s)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue attempts to dequeue without blocking.
func (q *signalQueue) TryDequeue() (Signal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.signals) == 0 {
		return Signal{}, false
	}

	s := q.signals[0]

	// Nil out the slot so the Sample pointer does not outlive the dequeue.
	q.signals[0] = Signal{}
	if len(q.signals) == 1 {
		q.signals = q.signals[:0]
	} else {
		q.signals = q.signals[1:]
	}
	return s, true
}

// Wait returns a channel that signals when entries may be available.
func (q *signalQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *signalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.signals)
}

// Closed reports whether the queue has been closed.
func (q *signalQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close marks the queue closed and wakes all waiters.
func (q *signalQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
