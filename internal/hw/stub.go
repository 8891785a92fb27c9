//go:build !linux

package hw

import "errors"

// DeviceConfig selects the radio node and sysfs directory.
type DeviceConfig struct {
	Nodes         []string
	SysfsNode     string
	PreemphasisUs int
	LowTuner      bool
}

// DefaultNodes are the radio nodes probed when none are configured.
var DefaultNodes = []string{"/dev/radio0", "/dev/radio1"}

// ErrNoDevice is returned when no radio node could be opened.
var ErrNoDevice = errors.New("hw: no radio device")

// Device is not available on non-Linux platforms.
type Device struct{}

// Open returns an error on non-Linux platforms.
func Open(cfg DeviceConfig) (*Device, error) {
	return nil, errors.New("hw: not supported on this platform (requires Linux)")
}

// Node is not implemented on non-Linux platforms.
func (d *Device) Node() string { return "" }

// SetFrequency is not implemented on non-Linux platforms.
func (d *Device) SetFrequency(khz uint32) error { return ErrNoDevice }

// SetMute is not implemented on non-Linux platforms.
func (d *Device) SetMute(muted bool) error { return ErrNoDevice }

// SetPilotTone is not implemented on non-Linux platforms.
func (d *Device) SetPilotTone(on bool) error { return ErrNoDevice }

// Close is not implemented on non-Linux platforms.
func (d *Device) Close() error { return nil }
