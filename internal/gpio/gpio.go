// Package gpio reads the accessory detect lines with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Sample is one reading of the detect lines, already in logical form.
type Sample struct {
	Headphone bool // true = plug inserted
	USB       bool // true = accessory attached
}

// Reader reads the detect lines.
type Reader interface {
	// Read returns the logical line states.
	Read() (Sample, error)

	// Close releases GPIO resources.
	Close() error
}

// Lines describes where the detect lines are wired.
type Lines struct {
	Chip      string
	Headphone int
	USB       int

	// ActiveLow inverts both lines: raw 0 = logical true.
	ActiveLow bool
}

// Default wiring (BCM numbering). The jack switch and the USB ID pin both
// pull the line low when something is plugged in.
const (
	DefaultChip         = "gpiochip0"
	DefaultHeadphonePin = 26
	DefaultUSBPin       = 16
)

// DefaultLines returns the default wiring.
func DefaultLines() Lines {
	return Lines{
		Chip:      DefaultChip,
		Headphone: DefaultHeadphonePin,
		USB:       DefaultUSBPin,
		ActiveLow: true,
	}
}
