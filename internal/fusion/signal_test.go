package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestKind_String tests signal names used in logs and traces.
func TestKind_String(t *testing.T) {
	assert.Equal(t, "prompt_sent", KindPromptSent.String())
	assert.Equal(t, "streaming", KindStreaming.String())
	assert.Equal(t, "completed_hint", KindCompletedHint.String())
	assert.Equal(t, "terminated_partial", KindTerminatedPartial.String())
	assert.Equal(t, "sample", KindSample.String())
	assert.Equal(t, "dispose", KindDispose.String())
	assert.Equal(t, "stabilize_tick", KindStabilizeTick.String())
	assert.Equal(t, "unknown", Kind(0).String())
}

// TestSignalQueue_FIFO tests ordering.
func TestSignalQueue_FIFO(t *testing.T) {
	q := newSignalQueue()

	assert.True(t, q.Enqueue(Signal{AttemptID: "a"}))
	assert.True(t, q.Enqueue(Signal{AttemptID: "b"}))
	assert.True(t, q.Enqueue(Signal{AttemptID: "c"}))
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"a", "b", "c"} {
		s, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, s.AttemptID)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

// TestSignalQueue_Close tests that a closed queue rejects enqueues and wakes
// waiters.
func TestSignalQueue_Close(t *testing.T) {
	q := newSignalQueue()
	q.Enqueue(Signal{AttemptID: "a"})

	q.Close()
	q.Close() // idempotent

	assert.False(t, q.Enqueue(Signal{AttemptID: "b"}))

	// Waiters wake immediately after close.
	select {
	case <-q.Wait():
	default:
		t.Fatal("Wait channel not closed")
	}

	// Already-queued signals still drain.
	s, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "a", s.AttemptID)
}

// TestStaleSignalError tests formatting and errors.As detection.
func TestStaleSignalError(t *testing.T) {
	err := &StaleSignalError{AttemptID: "a-1", Cause: "attempt disposed"}
	assert.Equal(t, "stale signal for attempt a-1: attempt disposed", err.Error())

	withConv := &StaleSignalError{AttemptID: "a-1", ConversationID: "conv-1", Cause: "rebound"}
	assert.Contains(t, withConv.Error(), "conversation conv-1")

	assert.True(t, IsStaleSignal(err))
	assert.False(t, IsStaleSignal(nil))
	assert.False(t, IsStaleSignal(assert.AnError))
}
