package hw

import "fmt"

// Op names a Control method.
type Op string

const (
	OpFrequency Op = "frequency"
	OpMute      Op = "mute"
	OpPilot     Op = "pilot"
)

// Call is one recorded Control invocation.
type Call struct {
	Op    Op
	Value uint32 // kHz for OpFrequency, 1/0 for OpMute and OpPilot
}

func (c Call) String() string {
	return fmt.Sprintf("%s=%d", c.Op, c.Value)
}

// Fake is a test double that records every call.
type Fake struct {
	// Calls contains every call in order, including failed ones.
	Calls []Call

	// Errors, if set for an Op, is returned by that method.
	Errors map[Op]error

	// Current register view after successful calls.
	Frequency uint32
	Muted     bool
	Tone      bool
}

// NewFake creates a Fake that starts muted.
func NewFake() *Fake {
	return &Fake{Muted: true, Errors: map[Op]error{}}
}

// SetFrequency records the call and stores khz unless an error is scripted.
func (f *Fake) SetFrequency(khz uint32) error {
	f.Calls = append(f.Calls, Call{Op: OpFrequency, Value: khz})
	if err := f.Errors[OpFrequency]; err != nil {
		return err
	}
	f.Frequency = khz
	return nil
}

// SetMute records the call and stores the mute state unless an error is scripted.
func (f *Fake) SetMute(muted bool) error {
	f.Calls = append(f.Calls, Call{Op: OpMute, Value: boolValue(muted)})
	if err := f.Errors[OpMute]; err != nil {
		return err
	}
	f.Muted = muted
	return nil
}

// SetPilotTone records the call and stores the tone state unless an error is scripted.
func (f *Fake) SetPilotTone(on bool) error {
	f.Calls = append(f.Calls, Call{Op: OpPilot, Value: boolValue(on)})
	if err := f.Errors[OpPilot]; err != nil {
		return err
	}
	f.Tone = on
	return nil
}

// CallsOf returns the recorded calls of a single Op.
func (f *Fake) CallsOf(op Op) []Call {
	var out []Call
	for _, c := range f.Calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears recorded calls and scripted errors, keeping register state.
func (f *Fake) Reset() {
	f.Calls = nil
	f.Errors = map[Op]error{}
}

func boolValue(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
