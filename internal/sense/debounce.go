package sense

import (
	"time"

	"github.com/sweeney/fmtxd/internal/gpio"
	"github.com/sweeney/fmtxd/internal/logic"
)

// line tracks debounce state for a single detect line.
type line struct {
	cond logic.Condition

	// Current stable (debounced) value
	stable bool
	// Pending value during debounce
	pending    bool
	hasPending bool
	// Time when pending value was first observed
	pendingSince time.Time
	// Whether we have established a baseline
	baselined bool
}

// Debouncer turns polled detect-line samples into condition changes.
type Debouncer struct {
	debounce  time.Duration
	headphone line
	usb       line
	baselined bool
	counts    map[logic.Condition]int
}

// NewDebouncer creates a debouncer with the given settle time.
func NewDebouncer(debounce time.Duration) *Debouncer {
	return &Debouncer{
		debounce:  debounce,
		headphone: line{cond: logic.HeadphoneConnected},
		usb:       line{cond: logic.USBAccessoryConnected},
		counts:    map[logic.Condition]int{},
	}
}

// Process takes a new sample and returns the changes to apply.
// Nothing is reported until both lines have held a value for the debounce
// period; the baseline itself is then reported as one change per line.
func (d *Debouncer) Process(s gpio.Sample, now time.Time) []Change {
	hpChanged := d.processLine(&d.headphone, s.Headphone, now)
	usbChanged := d.processLine(&d.usb, s.USB, now)

	if !d.baselined {
		if !d.headphone.baselined || !d.usb.baselined {
			return nil
		}
		d.baselined = true
		return []Change{d.change(&d.headphone, now), d.change(&d.usb, now)}
	}

	// Headphone first if both settle in the same sample
	var changes []Change
	if hpChanged {
		d.counts[d.headphone.cond]++
		changes = append(changes, d.change(&d.headphone, now))
	}
	if usbChanged {
		d.counts[d.usb.cond]++
		changes = append(changes, d.change(&d.usb, now))
	}
	return changes
}

// processLine handles debounce logic for one line.
// Returns true if the stable value changed after baseline.
func (d *Debouncer) processLine(l *line, v bool, now time.Time) bool {
	if !l.baselined {
		if !l.hasPending || l.pending != v {
			// Start observing, or restart on a bounce
			l.pending = v
			l.hasPending = true
			l.pendingSince = now
			return false
		}
		if now.Sub(l.pendingSince) >= d.debounce {
			l.stable = v
			l.baselined = true
			l.hasPending = false
		}
		return false
	}

	if v == l.stable {
		l.hasPending = false
		return false
	}

	if !l.hasPending || l.pending != v {
		l.pending = v
		l.hasPending = true
		l.pendingSince = now
		return false
	}

	if now.Sub(l.pendingSince) >= d.debounce {
		l.stable = v
		l.hasPending = false
		return true
	}
	return false
}

func (d *Debouncer) change(l *line, now time.Time) Change {
	return Change{Condition: l.cond, Value: l.stable, Time: now, Source: "gpio"}
}

// IsBaselined returns whether both lines have settled once.
func (d *Debouncer) IsBaselined() bool {
	return d.baselined
}

// Current returns the stable line values.
func (d *Debouncer) Current() gpio.Sample {
	return gpio.Sample{Headphone: d.headphone.stable, USB: d.usb.stable}
}

// Transitions returns the number of debounced changes seen per condition
// since baseline.
func (d *Debouncer) Transitions() map[string]int {
	out := make(map[string]int, len(d.counts))
	for c, n := range d.counts {
		out[c.String()] = n
	}
	return out
}
