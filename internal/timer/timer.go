// Package timer provides single-shot, cancellable timers.
// Callbacks are never run on the timer's own goroutine: the real
// implementation hands them to the owner's event loop, the fake runs them
// synchronously from Advance.
package timer

import "time"

// Handle identifies one scheduled callback. The zero Handle is never issued.
type Handle uint64

// Scheduler arms and cancels single-shot timers.
type Scheduler interface {
	// ScheduleOnce arranges for fn to run once after d.
	ScheduleOnce(d time.Duration, fn func()) Handle

	// Cancel stops a pending callback. Cancelling a handle that already
	// fired or was already cancelled is a no-op.
	Cancel(h Handle)
}
