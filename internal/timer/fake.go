package timer

import (
	"sort"
	"time"
)

// Fake is a manually driven Scheduler for tests.
// Callbacks run synchronously inside Advance, in due order.
type Fake struct {
	now     time.Time
	next    Handle
	pending []fakeEntry

	// Cancelled records every handle passed to Cancel, including no-ops.
	Cancelled []Handle
}

type fakeEntry struct {
	handle Handle
	due    time.Time
	fn     func()
}

// NewFake creates a Fake whose clock starts at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// ScheduleOnce records fn to run once the clock passes now+d.
func (f *Fake) ScheduleOnce(d time.Duration, fn func()) Handle {
	f.next++
	f.pending = append(f.pending, fakeEntry{handle: f.next, due: f.now.Add(d), fn: fn})
	return f.next
}

// Cancel drops a pending callback.
func (f *Fake) Cancel(h Handle) {
	f.Cancelled = append(f.Cancelled, h)
	for i, e := range f.pending {
		if e.handle == h {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			return
		}
	}
}

// Now returns the fake clock's current time.
func (f *Fake) Now() time.Time {
	return f.now
}

// Advance moves the clock forward by d, firing every callback that falls due.
// Callbacks scheduled by a firing callback fire too if they fall inside d.
func (f *Fake) Advance(d time.Duration) {
	target := f.now.Add(d)
	for {
		i := f.earliest()
		if i < 0 || f.pending[i].due.After(target) {
			break
		}
		e := f.pending[i]
		f.pending = append(f.pending[:i], f.pending[i+1:]...)
		f.now = e.due
		e.fn()
	}
	f.now = target
}

// Pending returns the number of callbacks not yet fired or cancelled.
func (f *Fake) Pending() int {
	return len(f.pending)
}

// IsPending reports whether h is still waiting to fire.
func (f *Fake) IsPending(h Handle) bool {
	for _, e := range f.pending {
		if e.handle == h {
			return true
		}
	}
	return false
}

// Due returns the due times of all pending callbacks, earliest first.
func (f *Fake) Due() []time.Time {
	out := make([]time.Time, 0, len(f.pending))
	for _, e := range f.pending {
		out = append(out, e.due)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (f *Fake) earliest() int {
	best := -1
	for i, e := range f.pending {
		if best < 0 || e.due.Before(f.pending[best].due) {
			best = i
		}
	}
	return best
}
