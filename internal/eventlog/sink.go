// Package eventlog provides the structured event sink the engine reports
// through. Every observable state change (phase transition, supersession,
// stale-signal drop, retry tick, timeout warning) is emitted as an Event so
// downstream surfaces can subscribe without reaching into engine state.
package eventlog

import (
	"log/slog"
	"sync"
)

// Level classifies event severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the level name for logging and journal rows.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one structured observability record.
//
// DedupeKey, when non-empty, identifies logically-identical emissions;
// deduping sinks (the journal) store only the first occurrence. Payload keys
// are free-form but should be stable per event name.
type Event struct {
	AttemptID string
	Level     Level
	Event     string
	Message   string
	Payload   map[string]any
	DedupeKey string
}

// Sink consumes engine events.
//
// Emit must not block on engine-visible work: the engine calls it
// synchronously inside signal handling.
type Sink interface {
	Emit(e Event)
}

// SlogSink forwards events to a slog logger.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink backed by the given logger.
// Pass slog.Default() for process-wide logging.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

// Emit logs the event with structured attributes.
func (s *SlogSink) Emit(e Event) {
	attrs := make([]any, 0, 2+2*len(e.Payload))
	attrs = append(attrs, "attempt_id", e.AttemptID, "event", e.Event)
	for k, v := range e.Payload {
		attrs = append(attrs, k, v)
	}

	switch e.Level {
	case LevelDebug:
		s.logger.Debug(e.Message, attrs...)
	case LevelInfo:
		s.logger.Info(e.Message, attrs...)
	case LevelWarn:
		s.logger.Warn(e.Message, attrs...)
	default:
		s.logger.Error(e.Message, attrs...)
	}
}

// Fanout duplicates each event to every sink in order.
type Fanout []Sink

// Emit forwards the event to all sinks.
func (f Fanout) Emit(e Event) {
	for _, s := range f {
		s.Emit(e)
	}
}

// MemorySink records events for test assertions.
//
// Thread-safe: timer callbacks may emit from other goroutines in
// production-shaped tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit appends the event.
func (m *MemorySink) Emit(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

// Events returns a copy of everything emitted so far.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Named returns all recorded events with the given event name.
func (m *MemorySink) Named(name string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}
