package hw

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// DefaultSysfsNode is the transmitter chip's sysfs attribute directory.
const DefaultSysfsNode = "/sys/bus/i2c/devices/2-0063"

// Sysfs writes transmitter attributes under a sysfs node.
type Sysfs struct {
	Dir string
}

// Write stores value into the named attribute. The attribute must exist.
func (s Sysfs) Write(name, value string) error {
	path := filepath.Join(s.Dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	if _, err := f.WriteString(value); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	return nil
}

// SetupCarrier enables the 19 kHz stereo pilot and sets the region's
// pre-emphasis time constant (microseconds). Zero preemphasis is left untouched.
func (s Sysfs) SetupCarrier(preemphasisUs int) error {
	if err := s.Write("pilot_frequency", strconv.Itoa(PilotFrequencyHz)); err != nil {
		return err
	}
	if err := s.Write("pilot_enabled", "1"); err != nil {
		return err
	}
	if preemphasisUs > 0 {
		if err := s.Write("region_preemphasis", strconv.Itoa(preemphasisUs)); err != nil {
			return err
		}
	}
	return nil
}

// SetPilotTone writes the tone-on register set, or zeros for tone-off.
// All four registers are written even if one fails; the first error is returned.
func (s Sysfs) SetPilotTone(on bool) error {
	values := [4]int{}
	if on {
		values = [4]int{ToneFrequencyHz, ToneDeviation, ToneOffTimeMs, ToneOnTimeMs}
	}
	names := [4]string{"tone_frequency", "tone_deviation", "tone_off_time", "tone_on_time"}

	var first error
	for i, name := range names {
		if err := s.Write(name, strconv.Itoa(values[i])); err != nil && first == nil {
			first = err
		}
	}
	return first
}
