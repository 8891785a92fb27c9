// Package logic contains the transmitter decision engine.
// This package has NO external I/O (no devices, brokers, OS, or time.Sleep).
// Hardware is reached through hw.Control, timers through timer.Scheduler,
// and time is injectable via Options.Now.
package logic

import (
	"fmt"
	"time"
)

// State is the transmitter's externally visible state.
type State int

const (
	StateUninitialized State = iota
	StateError
	StateDisabled
	StateEnabled
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateError:
		return "error"
	case StateDisabled:
		return "disabled"
	case StateEnabled:
		return "enabled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Condition names one environmental input.
type Condition int

const (
	Offline Condition = iota
	HeadphoneConnected
	USBAccessoryConnected
	CallActive
	AudioSinkRunning
	RouteEngaged
	numConditions
)

var conditionNames = [numConditions]string{
	Offline:               "offline",
	HeadphoneConnected:    "headphone_connected",
	USBAccessoryConnected: "usb_accessory_connected",
	CallActive:            "call_active",
	AudioSinkRunning:      "audio_sink_running",
	RouteEngaged:          "route_engaged",
}

func (c Condition) String() string {
	if c < 0 || c >= numConditions {
		return fmt.Sprintf("condition(%d)", int(c))
	}
	return conditionNames[c]
}

// ParseCondition maps a condition name to its Condition.
// Adapters call this at their boundary; the core never sees unknown names.
func ParseCondition(name string) (Condition, error) {
	for i, n := range conditionNames {
		if n == name {
			return Condition(i), nil
		}
	}
	return 0, fmt.Errorf("unknown condition %q", name)
}

// AllConditions lists every condition in declaration order.
func AllConditions() []Condition {
	out := make([]Condition, numConditions)
	for i := range out {
		out[i] = Condition(i)
	}
	return out
}

// Conditions holds the last known value of every condition.
type Conditions [numConditions]bool

// Get returns the stored value for c.
func (cs Conditions) Get(c Condition) bool {
	return cs[c]
}

// Map returns the conditions keyed by name.
func (cs Conditions) Map() map[string]bool {
	m := make(map[string]bool, numConditions)
	for i, v := range cs {
		m[conditionNames[i]] = v
	}
	return m
}

// Predicates are derived from Conditions on every update and never stored.
type Predicates struct {
	// Blocked: transmission is physically disallowed.
	Blocked bool
	// AutoIdleCandidate: no competing audio consumer holds the channel.
	AutoIdleCandidate bool
	// ShouldPlayTone: audio is being rendered into an engaged route.
	ShouldPlayTone bool
}

// Predicates computes the derived predicates from all six conditions.
func (cs Conditions) Predicates() Predicates {
	blocked := cs[Offline] || cs[HeadphoneConnected]
	return Predicates{
		Blocked:           blocked,
		AutoIdleCandidate: !cs[CallActive] && !cs[USBAccessoryConnected] && !cs[HeadphoneConnected],
		ShouldPlayTone:    cs[AudioSinkRunning] && cs[RouteEngaged] && !blocked && !cs[CallActive],
	}
}

// EventType classifies an observer notification.
type EventType string

const (
	EventStateChanged     EventType = "STATE_CHANGED"
	EventInfo             EventType = "INFO"
	EventFrequencyChanged EventType = "FREQUENCY_CHANGED"
	EventNotice           EventType = "NOTICE"
	EventExit             EventType = "EXIT"
)

// Notice reasons carried by EventNotice.
const (
	NoticeCableError = "fmtx_ni_cable_error"
	NoticeUSBError   = "fmtx_ni_usb_error"
)

// Event is one externally visible change.
type Event struct {
	Timestamp time.Time
	Type      EventType
	State     State
	Connected bool   // EventInfo: transmitter is on air
	Frequency uint32 // kHz, set on every event
	Reason    string // EventNotice and EventExit
}

// Counts tracks transitions and hardware failures since startup.
type Counts struct {
	Enables          int
	Disables         int
	ForcedDisables   int
	HardwareFailures int
}

// Status is a point-in-time copy of the engine's state.
type Status struct {
	State      State
	Frequency  uint32
	Bounds     Bounds
	Conditions Conditions
	Predicates Predicates
	ToneOn     bool
	IdleArmed  bool
	PilotArmed bool
	ExitArmed  bool
	Counts     Counts
}
