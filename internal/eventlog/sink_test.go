package eventlog

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLevel_String tests level names used in journal rows.
func TestLevel_String(t *testing.T) {
	assert.Equal(t, "debug", LevelDebug.String())
	assert.Equal(t, "info", LevelInfo.String())
	assert.Equal(t, "warn", LevelWarn.String())
	assert.Equal(t, "error", LevelError.String())
	assert.Equal(t, "unknown", Level(42).String())
}

// TestMemorySink tests recording and filtering.
func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()
	sink.Emit(Event{AttemptID: "a-1", Event: "phase_transition"})
	sink.Emit(Event{AttemptID: "a-1", Event: "attempt_ready"})
	sink.Emit(Event{AttemptID: "a-2", Event: "phase_transition"})

	assert.Len(t, sink.Events(), 3)
	named := sink.Named("phase_transition")
	require.Len(t, named, 2)
	assert.Equal(t, "a-1", named[0].AttemptID)
	assert.Equal(t, "a-2", named[1].AttemptID)
	assert.Empty(t, sink.Named("nope"))
}

// TestMemorySink_Concurrent tests that concurrent emission is safe; timer
// callbacks emit from other goroutines in production-shaped tests.
func TestMemorySink_Concurrent(t *testing.T) {
	sink := NewMemorySink()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sink.Emit(Event{Event: "tick"})
			}
		}()
	}
	wg.Wait()
	assert.Len(t, sink.Events(), 1000)
}

// TestSlogSink tests level routing and structured attributes.
func TestSlogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewSlogSink(logger)

	sink.Emit(Event{
		AttemptID: "a-1",
		Level:     LevelWarn,
		Event:     "stabilization_timeout",
		Message:   "canonical sample did not stabilize",
		Payload:   map[string]any{"retries": 6},
	})

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "attempt_id=a-1")
	assert.Contains(t, out, "event=stabilization_timeout")
	assert.Contains(t, out, "retries=6")
}

// TestFanout tests that every sink receives every event in order.
func TestFanout(t *testing.T) {
	a := NewMemorySink()
	b := NewMemorySink()
	f := Fanout{a, b}

	f.Emit(Event{Event: "one"})
	f.Emit(Event{Event: "two"})

	for _, s := range []*MemorySink{a, b} {
		events := s.Events()
		require.Len(t, events, 2)
		assert.Equal(t, "one", events[0].Event)
		assert.Equal(t, "two", events[1].Event)
	}
}

// TestSlogSink_DefaultsToError tests that unknown levels log as errors rather
// than vanishing.
func TestSlogSink_DefaultsToError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	NewSlogSink(logger).Emit(Event{Level: Level(99), Message: "odd"})
	assert.True(t, strings.Contains(buf.String(), "level=ERROR"))
}
