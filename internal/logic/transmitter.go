package logic

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/fmtxd/internal/hw"
	"github.com/sweeney/fmtxd/internal/timer"
)

// Default timer delays.
const (
	DefaultIdleTimeout  = 300 * time.Second
	DefaultPilotTimeout = 50 * time.Second
	DefaultExitTimeout  = 60 * time.Second
)

// Options tunes a Transmitter. Zero values take the defaults.
type Options struct {
	IdleTimeout  time.Duration
	PilotTimeout time.Duration
	ExitTimeout  time.Duration

	// InitialFrequency is snapped into the bounds at Initialize.
	// Out-of-range values fall back to Bounds.Min.
	InitialFrequency uint32

	// Now stamps events. Defaults to time.Now.
	Now func() time.Time

	// RouteProbe, if set, is consulted when the pilot timeout fires.
	RouteProbe RouteProbe

	// OnExit is called once the exit timeout fires while not enabled.
	OnExit func()
}

// Transmitter is the state machine deciding whether RF may be on air.
// It is not safe for concurrent use: every call must come from one goroutine.
type Transmitter struct {
	opts     Options
	ctl      hw.Control
	timers   *timerTable
	pilot    *pilotTone
	agg      Aggregator
	state    State
	bounds   Bounds
	freq     uint32
	counts   Counts
	infoSent bool
	lastInfo bool

	// safetyMuted is set while enabled but muted after a failed retune.
	safetyMuted bool
	// idling is set from a forced disable until the idle timeout fires.
	idling bool

	observers []func(Event)
}

// NewTransmitter creates a Transmitter in StateUninitialized.
func NewTransmitter(sched timer.Scheduler, opts Options) *Transmitter {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.PilotTimeout <= 0 {
		opts.PilotTimeout = DefaultPilotTimeout
	}
	if opts.ExitTimeout <= 0 {
		opts.ExitTimeout = DefaultExitTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	t := &Transmitter{
		opts:   opts,
		timers: newTimerTable(sched),
		state:  StateUninitialized,
	}
	t.pilot = &pilotTone{
		timers:    t.timers,
		timeout:   opts.PilotTimeout,
		onTimeout: t.OnPilotTimeout,
	}
	return t
}

// Subscribe registers fn to receive every event, in order.
func (t *Transmitter) Subscribe(fn func(Event)) {
	t.observers = append(t.observers, fn)
}

// Initialize brings the transmitter up on ctl within bounds.
// On failure the transmitter enters StateError for good.
func (t *Transmitter) Initialize(bounds Bounds, ctl hw.Control) error {
	if t.state != StateUninitialized {
		return fmt.Errorf("%w: already %s", ErrInit, t.state)
	}
	if ctl == nil {
		return t.Fail(errors.New("no hardware control"))
	}
	if err := bounds.Validate(); err != nil {
		return t.Fail(err)
	}

	t.ctl = ctl
	if err := t.call(ctl.SetMute(true)); err != nil {
		return t.Fail(fmt.Errorf("initial mute: %w", err))
	}
	if err := t.call(t.pilot.silence(ctl)); err != nil {
		return t.Fail(fmt.Errorf("initial pilot tone: %w", err))
	}

	t.bounds = bounds
	freq, err := bounds.Snap(t.opts.InitialFrequency)
	if err != nil {
		freq = bounds.Min
	}
	t.freq = freq

	t.setState(StateDisabled)
	t.settle()
	return nil
}

// Fail records an unrecoverable bring-up failure.
func (t *Transmitter) Fail(cause error) error {
	err := fmt.Errorf("%w: %w", ErrInit, cause)
	if t.state == StateUninitialized {
		t.setState(StateError)
	}
	return err
}

// SetCondition stores a condition value and applies the transition table.
// Re-applying an unchanged value has no effect at all.
func (t *Transmitter) SetCondition(c Condition, v bool) {
	u := t.agg.Update(c, v)
	if !u.Changed {
		return
	}
	if t.state != StateEnabled && t.state != StateDisabled {
		return
	}

	t.timers.cancel(IdleSlot)
	t.timers.cancel(ExitSlot)

	if t.state != StateEnabled {
		return
	}

	switch {
	case u.After.Blocked:
		notice := ""
		if c == HeadphoneConnected {
			notice = NoticeCableError
		}
		t.forceDisable(u.Before.AutoIdleCandidate, notice)
	case c == USBAccessoryConnected && v:
		t.forceDisable(u.Before.AutoIdleCandidate, NoticeUSBError)
	case c == CallActive && v:
		t.forceDisable(u.Before.AutoIdleCandidate, "")
	default:
		t.call(t.pilot.recompute(t.ctl, true, u.After.ShouldPlayTone))
	}
}

// RequestEnable puts the transmitter on air.
func (t *Transmitter) RequestEnable() error {
	switch t.state {
	case StateUninitialized, StateError:
		return fmt.Errorf("%w: %s", ErrDeviceUnavailable, t.state)
	case StateEnabled:
		if t.safetyMuted {
			return t.resume()
		}
		return nil
	}

	t.timers.cancel(IdleSlot)
	t.timers.cancel(ExitSlot)
	defer t.settle()

	p := t.agg.Predicates()
	if p.Blocked {
		return fmt.Errorf("%w: %s", ErrBlocked, t.blockReason())
	}

	if err := t.call(t.ctl.SetMute(false)); err != nil {
		t.call(t.ctl.SetMute(true))
		return tuneError("unmute", err)
	}
	if err := t.call(t.ctl.SetFrequency(t.freq)); err != nil {
		t.call(t.ctl.SetMute(true))
		return tuneError(fmt.Sprintf("tune %d kHz", t.freq), err)
	}

	t.counts.Enables++
	t.idling = false
	t.setState(StateEnabled)
	t.call(t.pilot.recompute(t.ctl, true, p.ShouldPlayTone))
	return nil
}

// RequestDisable takes the transmitter off air. A mute failure is reported
// but the transmitter is still considered disabled.
func (t *Transmitter) RequestDisable() error {
	switch t.state {
	case StateUninitialized, StateError:
		return fmt.Errorf("%w: %s", ErrDeviceUnavailable, t.state)
	}

	t.timers.cancel(IdleSlot)
	t.timers.cancel(ExitSlot)
	defer t.settle()

	if t.state != StateEnabled {
		return nil
	}
	err := t.disableOutputs()
	t.counts.Disables++
	t.setState(StateDisabled)
	if err != nil {
		return fmt.Errorf("disable: %w", err)
	}
	return nil
}

// RequestFrequency stores khz snapped down onto the grid and re-tunes when
// the transmitter is enabled.
func (t *Transmitter) RequestFrequency(khz uint32) error {
	switch t.state {
	case StateUninitialized:
		return ErrNotInitialized
	case StateError:
		return fmt.Errorf("%w: %s", ErrDeviceUnavailable, t.state)
	}

	t.timers.cancel(IdleSlot)
	t.timers.cancel(ExitSlot)
	defer t.settle()

	f, err := t.bounds.Snap(khz)
	if err != nil {
		return err
	}
	if f != t.freq {
		t.freq = f
		t.emit(Event{Type: EventFrequencyChanged})
	}

	if t.state != StateEnabled {
		return nil
	}
	if err := t.call(t.ctl.SetFrequency(f)); err != nil {
		if hw.Classify(err) == hw.Failed {
			t.call(t.ctl.SetMute(true))
			t.safetyMuted = true
		}
		return tuneError(fmt.Sprintf("tune %d kHz", f), err)
	}
	if t.safetyMuted {
		if err := t.call(t.ctl.SetMute(false)); err != nil {
			return tuneError("unmute", err)
		}
		t.safetyMuted = false
	}
	return nil
}

// OnIdleTimeout starts the exit countdown if the transmitter stayed off.
func (t *Transmitter) OnIdleTimeout() {
	t.idling = false
	if t.state != StateDisabled {
		return
	}
	t.timers.arm(ExitSlot, t.opts.ExitTimeout, t.OnExitTimeout)
}

// OnPilotTimeout disables an enabled transmitter whose tone should no
// longer play, mirroring the idle rule.
func (t *Transmitter) OnPilotTimeout() {
	if t.state != StateEnabled {
		return
	}
	if t.opts.RouteProbe != nil {
		if engaged, err := t.opts.RouteProbe.RouteEngaged(); err == nil {
			t.agg.Update(RouteEngaged, engaged)
		}
	}
	p := t.agg.Predicates()
	if p.ShouldPlayTone {
		return
	}
	t.forceDisable(p.AutoIdleCandidate, "")
}

// OnExitTimeout tells the host it may retire the daemon.
func (t *Transmitter) OnExitTimeout() {
	if t.state == StateEnabled {
		return
	}
	t.emit(Event{Type: EventExit, Reason: "idle"})
	if t.opts.OnExit != nil {
		t.opts.OnExit()
	}
}

// State returns the current state.
func (t *Transmitter) State() State {
	return t.state
}

// Frequency returns the stored frequency in kHz.
func (t *Transmitter) Frequency() uint32 {
	return t.freq
}

// Startable reports whether an enable request could pass the block check,
// and why not.
func (t *Transmitter) Startable() (bool, string) {
	if !t.agg.Predicates().Blocked {
		return true, ""
	}
	return false, t.blockReason()
}

// Status returns a copy of the engine state.
func (t *Transmitter) Status() Status {
	return Status{
		State:      t.state,
		Frequency:  t.freq,
		Bounds:     t.bounds,
		Conditions: t.agg.Values(),
		Predicates: t.agg.Predicates(),
		ToneOn:     t.pilot.on,
		IdleArmed:  t.timers.armed(IdleSlot),
		PilotArmed: t.timers.armed(PilotSlot),
		ExitArmed:  t.timers.armed(ExitSlot),
		Counts:     t.counts,
	}
}

// forceDisable takes the transmitter off air for a reason other than an
// explicit request, arming the idle timeout when idle is safe.
func (t *Transmitter) forceDisable(idle bool, notice string) {
	t.disableOutputs()
	t.counts.ForcedDisables++
	if notice != "" {
		t.emit(Event{Type: EventNotice, Reason: notice})
	}
	t.setState(StateDisabled)
	if idle {
		t.idling = true
		t.timers.arm(IdleSlot, t.opts.IdleTimeout, t.OnIdleTimeout)
	}
}

// disableOutputs mutes, cancels the pilot timeout and silences the tone.
// Both writes are attempted; the first error is returned.
func (t *Transmitter) disableOutputs() error {
	muteErr := t.call(t.ctl.SetMute(true))
	t.safetyMuted = false
	toneErr := t.call(t.pilot.silence(t.ctl))
	if muteErr != nil {
		return muteErr
	}
	return toneErr
}

// resume re-tunes and unmutes an enabled transmitter that was muted after a
// failed retune. On failure it stays muted.
func (t *Transmitter) resume() error {
	if err := t.call(t.ctl.SetFrequency(t.freq)); err != nil {
		return tuneError(fmt.Sprintf("tune %d kHz", t.freq), err)
	}
	if err := t.call(t.ctl.SetMute(false)); err != nil {
		t.call(t.ctl.SetMute(true))
		return tuneError("unmute", err)
	}
	t.safetyMuted = false
	return nil
}

// settle arms the exit timeout when nothing else keeps the daemon busy.
// A request made inside a forced-idle window leaves both timeouts cancelled.
func (t *Transmitter) settle() {
	if t.idling {
		return
	}
	if t.state == StateDisabled && !t.timers.armed(IdleSlot) && !t.timers.armed(ExitSlot) {
		t.timers.arm(ExitSlot, t.opts.ExitTimeout, t.OnExitTimeout)
	}
}

func (t *Transmitter) setState(s State) {
	if s == t.state {
		return
	}
	t.state = s
	t.emit(Event{Type: EventStateChanged})

	connected := s == StateEnabled
	if !t.infoSent || connected != t.lastInfo {
		t.infoSent = true
		t.lastInfo = connected
		t.emit(Event{Type: EventInfo, Connected: connected})
	}
}

func (t *Transmitter) emit(e Event) {
	e.Timestamp = t.opts.Now()
	e.State = t.state
	e.Frequency = t.freq
	if e.Type != EventInfo {
		e.Connected = t.state == StateEnabled
	}
	for _, fn := range t.observers {
		fn(e)
	}
}

// call counts hardware failures and passes err through.
func (t *Transmitter) call(err error) error {
	if err != nil {
		t.counts.HardwareFailures++
	}
	return err
}

func (t *Transmitter) blockReason() string {
	cs := t.agg.Values()
	switch {
	case cs[HeadphoneConnected]:
		return "headphones are connected"
	case cs[Offline]:
		return "device is in offline mode"
	}
	return ""
}

func tuneError(op string, err error) error {
	if hw.Classify(err) == hw.Rejected {
		return fmt.Errorf("%w: %s: %w", ErrTuneRejected, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrTuneFailed, op, err)
}
