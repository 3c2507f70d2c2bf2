package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock allows injecting time in domain/services.
type Clock interface {
	Now() time.Time
}

// CancelFunc stops a scheduled callback. It reports whether the callback
// was stopped before it fired.
type CancelFunc func() bool

// Scheduler runs callbacks after a delay. Rescheduling is expressed as
// cancel + schedule so that stale callbacks never fire.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) CancelFunc
}

type systemClock struct{}

// NewSystem returns a clock backed by time.Now.
func NewSystem() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

type systemScheduler struct{}

// NewScheduler returns a scheduler backed by time.AfterFunc.
func NewScheduler() Scheduler {
	return systemScheduler{}
}

func (systemScheduler) Schedule(delay time.Duration, fn func()) CancelFunc {
	if delay < 0 {
		delay = 0
	}
	t := time.AfterFunc(delay, fn)
	return t.Stop
}

type fixedClock struct {
	now time.Time
}

// NewFixed returns a clock that always returns the same instant (useful for tests).
func NewFixed(t time.Time) Clock {
	return fixedClock{now: t.UTC()}
}

func (f fixedClock) Now() time.Time {
	return f.now
}

// Fake is a virtual clock and scheduler. Time only moves through Advance,
// and due callbacks run synchronously on the goroutine calling Advance.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers map[uint64]*fakeTimer
}

type fakeTimer struct {
	id  uint64
	at  time.Time
	fn  func()
	seq uint64
}

// NewFake returns a virtual clock starting at t.
func NewFake(t time.Time) *Fake {
	return &Fake{
		now:    t.UTC(),
		timers: make(map[uint64]*fakeTimer),
	}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Schedule(delay time.Duration, fn func()) CancelFunc {
	f.mu.Lock()
	defer f.mu.Unlock()

	if delay < 0 {
		delay = 0
	}
	f.seq++
	id := f.seq
	f.timers[id] = &fakeTimer{id: id, at: f.now.Add(delay), fn: fn, seq: id}

	return func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.timers[id]; !ok {
			return false
		}
		delete(f.timers, id)
		return true
	}
}

// Advance moves time forward by d, firing every callback that becomes due
// in deadline order. Callbacks scheduled while firing are honored if they
// fall within the new horizon.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		next := f.nextDue(target)
		if next == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		delete(f.timers, next.id)
		if next.at.After(f.now) {
			f.now = next.at
		}
		f.mu.Unlock()

		next.fn()
	}
}

// Set moves the clock to t without firing anything earlier than Advance would.
func (f *Fake) Set(t time.Time) {
	f.Advance(t.Sub(f.Now()))
}

// Pending returns the number of scheduled callbacks that have not fired.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// Deadlines returns the fire times of all pending callbacks in order.
func (f *Fake) Deadlines() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]time.Time, 0, len(f.timers))
	for _, t := range f.timers {
		out = append(out, t.at)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (f *Fake) nextDue(target time.Time) *fakeTimer {
	var best *fakeTimer
	for _, t := range f.timers {
		if t.at.After(target) {
			continue
		}
		if best == nil || t.at.Before(best.at) || (t.at.Equal(best.at) && t.seq < best.seq) {
			best = t
		}
	}
	return best
}
