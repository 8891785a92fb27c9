package logic

import (
	"time"

	"github.com/sweeney/fmtxd/internal/timer"
)

// Slot names one of the engine's timers.
type Slot int

const (
	IdleSlot Slot = iota
	PilotSlot
	ExitSlot
	numSlots
)

func (s Slot) String() string {
	switch s {
	case IdleSlot:
		return "idle"
	case PilotSlot:
		return "pilot"
	case ExitSlot:
		return "exit"
	}
	return "unknown"
}

type slotState struct {
	handle timer.Handle
	gen    uint64
	armed  bool
}

// timerTable keeps at most one live timer per slot.
// Each arm bumps the slot generation; a callback whose generation no longer
// matches was cancelled or superseded and is dropped.
type timerTable struct {
	sched timer.Scheduler
	slots [numSlots]slotState
}

func newTimerTable(sched timer.Scheduler) *timerTable {
	return &timerTable{sched: sched}
}

// arm cancels any live timer in s and schedules fn after d.
func (tt *timerTable) arm(s Slot, d time.Duration, fn func()) {
	tt.cancel(s)

	st := &tt.slots[s]
	st.gen++
	gen := st.gen
	h := tt.sched.ScheduleOnce(d, func() {
		if tt.claim(s, gen) {
			fn()
		}
	})
	if h == 0 {
		return
	}
	st.handle = h
	st.armed = true
}

// cancel stops the live timer in s, if any.
func (tt *timerTable) cancel(s Slot) {
	st := &tt.slots[s]
	if !st.armed {
		return
	}
	tt.sched.Cancel(st.handle)
	st.armed = false
	st.handle = 0
	st.gen++
}

// claim marks the timer in s as fired. It fails for stale generations.
func (tt *timerTable) claim(s Slot, gen uint64) bool {
	st := &tt.slots[s]
	if !st.armed || st.gen != gen {
		return false
	}
	st.armed = false
	st.handle = 0
	return true
}

func (tt *timerTable) armed(s Slot) bool {
	return tt.slots[s].armed
}
