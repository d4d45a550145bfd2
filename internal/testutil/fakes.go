package testutil

import (
	"context"
	"sync"

	"github.com/ragaeeb/blackiya-sub001/internal/capture"
)

// ScriptedEvaluator returns verdicts keyed by payload bytes. Payloads with
// no script entry evaluate as incomplete.
type ScriptedEvaluator struct {
	Verdicts map[string]capture.Verdict
}

// Evaluate implements capture.Evaluator.
func (e *ScriptedEvaluator) Evaluate(s capture.Sample) capture.Verdict {
	if v, ok := e.Verdicts[string(s.Payload)]; ok {
		return v
	}
	return capture.Verdict{}
}

// QueueSource is a capture.CanonicalSource that hands out queued samples in
// order, then nil. Thread-safe so timer-driven ticks can pull from it.
type QueueSource struct {
	mu      sync.Mutex
	samples []*capture.Sample
	fetches int
}

// NewQueueSource creates a source preloaded with samples.
func NewQueueSource(samples ...*capture.Sample) *QueueSource {
	return &QueueSource{samples: samples}
}

// Push appends a sample for a later fetch.
func (q *QueueSource) Push(s *capture.Sample) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.samples = append(q.samples, s)
}

// FetchCanonical implements capture.CanonicalSource.
func (q *QueueSource) FetchCanonical(_ context.Context, conversationID string) (*capture.Sample, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fetches++
	if len(q.samples) == 0 {
		return nil, nil
	}
	s := q.samples[0]
	q.samples = q.samples[1:]
	if s != nil && s.ConversationID == "" {
		s.ConversationID = conversationID
	}
	return s, nil
}

// Parse implements capture.CanonicalSource; the fake recognizes nothing.
func (q *QueueSource) Parse([]byte) (*capture.Sample, error) {
	return nil, nil
}

// Fetches returns how many times FetchCanonical ran.
func (q *QueueSource) Fetches() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fetches
}

// NoSource is a capture.CanonicalSource that never produces a sample.
type NoSource struct{}

// FetchCanonical implements capture.CanonicalSource.
func (NoSource) FetchCanonical(context.Context, string) (*capture.Sample, error) {
	return nil, nil
}

// Parse implements capture.CanonicalSource.
func (NoSource) Parse([]byte) (*capture.Sample, error) {
	return nil, nil
}
