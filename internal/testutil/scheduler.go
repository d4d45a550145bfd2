// Package testutil provides deterministic twins of the timer capabilities
// plus scripted collaborators, so engine behavior can be exercised without
// real wall-clock waits or network I/O.
package testutil

import (
	"sync"
	"time"

	"github.com/ragaeeb/blackiya-sub001/internal/timer"
)

// FakeScheduler implements both timer.Clock and timer.Service over a manual
// clock. Advance moves time forward and fires due callbacks synchronously on
// the calling goroutine, in due-time order.
type FakeScheduler struct {
	mu     sync.Mutex
	nowMs  int64
	nextID int
	timers map[int]*fakeTimer
}

type fakeTimer struct {
	id       int
	fireAtMs int64
	fn       func()
	stopped  bool
}

// NewFakeScheduler creates a scheduler with the clock at startMs.
func NewFakeScheduler(startMs int64) *FakeScheduler {
	return &FakeScheduler{
		nowMs:  startMs,
		timers: make(map[int]*fakeTimer),
	}
}

// NowMs implements timer.Clock.
func (s *FakeScheduler) NowMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nowMs
}

// AfterFunc implements timer.Service.
func (s *FakeScheduler) AfterFunc(d time.Duration, fn func()) timer.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	t := &fakeTimer{
		id:       s.nextID,
		fireAtMs: s.nowMs + d.Milliseconds(),
		fn:       fn,
	}
	s.timers[t.id] = t
	return fakeHandle{s: s, id: t.id}
}

// Advance moves the clock forward and fires every callback that comes due,
// including callbacks scheduled by earlier callbacks within the window.
//
// The clock steps to each timer's due time before its callback runs, so a
// callback that arms a follow-up timer places it at its causal due time, not
// at the end of the window.
func (s *FakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	endMs := s.nowMs + d.Milliseconds()
	s.mu.Unlock()

	for {
		t := s.popDue(endMs)
		if t == nil {
			break
		}
		t.fn()
	}

	s.mu.Lock()
	s.nowMs = endMs
	s.mu.Unlock()
}

// popDue removes and returns the earliest timer due by endMs, stepping the
// clock to its fire time. Ties break in scheduling order. Returns nil when
// nothing is due.
func (s *FakeScheduler) popDue(endMs int64) *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()

	var earliest *fakeTimer
	for _, t := range s.timers {
		if t.stopped || t.fireAtMs > endMs {
			continue
		}
		if earliest == nil || t.fireAtMs < earliest.fireAtMs ||
			(t.fireAtMs == earliest.fireAtMs && t.id < earliest.id) {
			earliest = t
		}
	}
	if earliest == nil {
		return nil
	}
	delete(s.timers, earliest.id)
	if earliest.fireAtMs > s.nowMs {
		s.nowMs = earliest.fireAtMs
	}
	return earliest
}

// Pending returns the number of armed, unfired timers.
func (s *FakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

type fakeHandle struct {
	s  *FakeScheduler
	id int
}

// Stop implements timer.Handle.
func (h fakeHandle) Stop() {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if t, ok := h.s.timers[h.id]; ok {
		t.stopped = true
		delete(h.s.timers, h.id)
	}
}
