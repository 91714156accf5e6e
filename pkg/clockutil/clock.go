// Package clockutil provides an injectable time source so timing-sensitive
// components (beat phase interpolation, liveness sweeps, the MIDI clock
// schedule) can be driven deterministically in tests.
package clockutil

import (
	"sync"
	"time"
)

// Clock is a source of monotonic time. Production code uses SystemClock;
// tests use FakeClock to advance time explicitly.
type Clock interface {
	Now() time.Time
	// After returns a channel that fires once d has elapsed according to
	// this clock.
	After(d time.Duration) <-chan time.Time
	// NewTimer returns a timer that fires once d has elapsed.
	NewTimer(d time.Duration) Timer
}

// Timer mirrors the subset of time.Timer that callers need, so FakeClock
// can hand out fakes.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// SystemClock is the real wall-clock implementation.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (SystemClock) NewTimer(d time.Duration) Timer { return &systemTimer{t: time.NewTimer(d)} }

type systemTimer struct{ t *time.Timer }

func (s *systemTimer) C() <-chan time.Time           { return s.t.C }
func (s *systemTimer) Stop() bool                    { return s.t.Stop() }
func (s *systemTimer) Reset(d time.Duration) bool    { return s.t.Reset(d) }

// FakeClock is a manually-advanced clock for tests. Zero value starts at
// the zero time.Time (January 1, year 1, UTC); use NewFakeClock or Advance
// if a specific origin matters.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	ch       chan time.Time
	fired    bool
}

// NewFakeClock creates a FakeClock starting at now.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d, firing any waiters whose deadline
// has passed.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now
	var pending []*fakeWaiter
	for _, w := range f.waiters {
		if !w.fired && !w.deadline.After(now) {
			w.fired = true
			pending = append(pending, w)
		}
	}
	f.mu.Unlock()
	for _, w := range pending {
		w.ch <- now
	}
}

func (f *FakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWaiter{deadline: f.now.Add(d), ch: make(chan time.Time, 1)}
	f.waiters = append(f.waiters, w)
	return w.ch
}

func (f *FakeClock) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWaiter{deadline: f.now.Add(d), ch: make(chan time.Time, 1)}
	f.waiters = append(f.waiters, w)
	return &fakeTimer{clock: f, w: w}
}

type fakeTimer struct {
	clock *FakeClock
	w     *fakeWaiter
}

func (t *fakeTimer) C() <-chan time.Time { return t.w.ch }

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	fired := t.w.fired
	t.w.fired = true
	return !fired
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.w.fired
	t.w.fired = false
	t.w.deadline = t.clock.now.Add(d)
	t.w.ch = make(chan time.Time, 1)
	return was
}
