//go:build linux

package hw

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// V4L2 ioctl requests and ids used by the modulator.
const (
	vidiocSCtrl      = 0xc008561c // _IOWR('V', 28, struct v4l2_control)
	vidiocSFrequency = 0x402c5639 // _IOW('V', 57, struct v4l2_frequency)
	cidAudioMute     = 0x00980909
	tunerTypeRadio   = 1
)

type v4l2Control struct {
	ID    uint32
	Value int32
}

type v4l2Frequency struct {
	Tuner     uint32
	Type      uint32
	Frequency uint32
	Reserved  [8]uint32
}

// DeviceConfig selects the radio node and sysfs directory.
type DeviceConfig struct {
	Nodes         []string // candidate V4L2 radio nodes, first that opens wins
	SysfsNode     string
	PreemphasisUs int
	LowTuner      bool // frequency unit is 62.5 Hz instead of 62.5 kHz
}

// DefaultNodes are the radio nodes probed when none are configured.
var DefaultNodes = []string{"/dev/radio0", "/dev/radio1"}

// ErrNoDevice is returned when no radio node could be opened.
var ErrNoDevice = errors.New("hw: no radio device")

// Device drives a V4L2 FM modulator.
type Device struct {
	fd       int
	node     string
	sysfs    Sysfs
	lowTuner bool
}

// Open probes the configured radio nodes and prepares the carrier.
func Open(cfg DeviceConfig) (*Device, error) {
	nodes := cfg.Nodes
	if len(nodes) == 0 {
		nodes = DefaultNodes
	}
	sysfs := Sysfs{Dir: cfg.SysfsNode}
	if sysfs.Dir == "" {
		sysfs.Dir = DefaultSysfsNode
	}

	if err := sysfs.SetupCarrier(cfg.PreemphasisUs); err != nil {
		return nil, fmt.Errorf("setup carrier: %w", err)
	}

	var lastErr error
	for _, node := range nodes {
		fd, err := unix.Open(node, unix.O_RDWR, 0)
		if err != nil {
			lastErr = err
			continue
		}
		return &Device{fd: fd, node: node, sysfs: sysfs, lowTuner: cfg.LowTuner}, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrNoDevice, lastErr)
}

// Node returns the opened radio node path.
func (d *Device) Node() string {
	return d.node
}

// SetFrequency tunes the modulator. Zero is rejected.
func (d *Device) SetFrequency(khz uint32) error {
	if khz == 0 {
		return fmt.Errorf("%w: frequency 0", ErrRejected)
	}
	units := khz * 16
	if !d.lowTuner {
		units = khz * 16 / 1000
	}
	f := v4l2Frequency{Type: tunerTypeRadio, Frequency: units}
	if err := d.ioctl(vidiocSFrequency, unsafe.Pointer(&f)); err != nil {
		return fmt.Errorf("set frequency %d kHz: %w", khz, err)
	}
	return nil
}

// SetMute toggles the modulator's audio mute control.
func (d *Device) SetMute(muted bool) error {
	ctl := v4l2Control{ID: cidAudioMute}
	if muted {
		ctl.Value = 1
	}
	if err := d.ioctl(vidiocSCtrl, unsafe.Pointer(&ctl)); err != nil {
		return fmt.Errorf("set mute %v: %w", muted, err)
	}
	return nil
}

// SetPilotTone writes the tone registers through sysfs.
func (d *Device) SetPilotTone(on bool) error {
	return d.sysfs.SetPilotTone(on)
}

// Close releases the radio node.
func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}

func (d *Device) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
