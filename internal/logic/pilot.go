package logic

import (
	"time"

	"github.com/sweeney/fmtxd/internal/hw"
)

// RouteProbe re-reads the analog route when a pilot timeout fires, catching
// routes that went away without a condition update.
type RouteProbe interface {
	RouteEngaged() (bool, error)
}

// pilotTone keeps the subcarrier tone on exactly while the transmitter is
// enabled and ShouldPlayTone holds.
type pilotTone struct {
	timers    *timerTable
	timeout   time.Duration
	onTimeout func()
	on        bool
}

// recompute writes the tone configuration only when the wanted state differs
// from what was last written.
func (p *pilotTone) recompute(ctl hw.Control, enabled, shouldPlay bool) error {
	if enabled && shouldPlay {
		if p.on {
			return nil
		}
		if err := ctl.SetPilotTone(true); err != nil {
			return err
		}
		p.on = true
		p.timers.arm(PilotSlot, p.timeout, p.onTimeout)
		return nil
	}
	if !p.on {
		p.timers.cancel(PilotSlot)
		return nil
	}
	return p.silence(ctl)
}

// silence cancels the pilot timeout and always writes the off configuration.
// The tone counts as off even if the write fails; the next enable rewrites it.
func (p *pilotTone) silence(ctl hw.Control) error {
	p.timers.cancel(PilotSlot)
	p.on = false
	return ctl.SetPilotTone(false)
}
