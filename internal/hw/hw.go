// Package hw provides transmitter hardware control with hardware abstraction.
// The real implementation drives a V4L2 radio modulator and its sysfs node.
// The fake implementation records calls for tests.
package hw

import "errors"

// Control drives the transmitter hardware. Every call is synchronous and
// fast (register writes); callers must not assume any retry.
type Control interface {
	// SetFrequency tunes the carrier, in kHz.
	SetFrequency(khz uint32) error

	// SetMute mutes (true) or unmutes (false) the RF output.
	SetMute(muted bool) error

	// SetPilotTone writes the tone-on or tone-off configuration.
	SetPilotTone(on bool) error
}

// ErrRejected marks a call refused by policy before any hardware was touched.
// Wrap it to add detail; any other error is treated as an I/O failure.
var ErrRejected = errors.New("hw: rejected")

// Outcome is the ternary result of a Control call.
type Outcome int

const (
	Applied Outcome = iota
	Rejected
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Rejected:
		return "rejected"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Classify maps a Control error onto its Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Applied
	case errors.Is(err, ErrRejected):
		return Rejected
	default:
		return Failed
	}
}

// Tone register values. Off writes zeros to every register.
const (
	PilotFrequencyHz = 19000
	ToneFrequencyHz  = 1760
	ToneDeviation    = 6750
	ToneOffTimeMs    = 2000
	ToneOnTimeMs     = 50
)
