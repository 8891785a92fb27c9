package logic

import "fmt"

// Bounds is the tunable range in kHz, on a Step grid starting at Min.
type Bounds struct {
	Min  uint32
	Max  uint32
	Step uint32
}

// Validate checks that the bounds describe a non-empty grid.
func (b Bounds) Validate() error {
	if b.Step == 0 {
		return fmt.Errorf("frequency step must be positive")
	}
	if b.Min == 0 || b.Max < b.Min {
		return fmt.Errorf("invalid frequency range [%d, %d]", b.Min, b.Max)
	}
	return nil
}

// Snap returns the highest grid point not above khz.
// Frequencies outside [Min, Max] are rejected with ErrOutOfRange.
func (b Bounds) Snap(khz uint32) (uint32, error) {
	if khz < b.Min || khz > b.Max {
		return 0, fmt.Errorf("%w: %d kHz not in [%d, %d]", ErrOutOfRange, khz, b.Min, b.Max)
	}
	return b.Min + (khz-b.Min)/b.Step*b.Step, nil
}

// OnGrid reports whether khz is exactly a grid point inside the bounds.
func (b Bounds) OnGrid(khz uint32) bool {
	s, err := b.Snap(khz)
	return err == nil && s == khz
}
