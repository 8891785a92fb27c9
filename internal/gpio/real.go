//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads the detect lines from the Linux GPIO character device.
type RealReader struct {
	chip      *gpiocdev.Chip
	headphone *gpiocdev.Line
	usb       *gpiocdev.Line
}

// NewRealReader requests both lines as pulled-up inputs. With ActiveLow set
// the kernel inverts the values, so Read reports logical states directly.
func NewRealReader(lines Lines) (*RealReader, error) {
	chip, err := gpiocdev.NewChip(lines.Chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", lines.Chip, err)
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithPullUp, gpiocdev.WithConsumer("fmtxd")}
	if lines.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}

	hp, err := chip.RequestLine(lines.Headphone, opts...)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request headphone pin %d: %w", lines.Headphone, err)
	}

	usb, err := chip.RequestLine(lines.USB, opts...)
	if err != nil {
		hp.Close()
		chip.Close()
		return nil, fmt.Errorf("request usb pin %d: %w", lines.USB, err)
	}

	return &RealReader{chip: chip, headphone: hp, usb: usb}, nil
}

// Read returns the logical states of both lines.
func (r *RealReader) Read() (Sample, error) {
	hp, err := r.headphone.Value()
	if err != nil {
		return Sample{}, fmt.Errorf("read headphone pin: %w", err)
	}
	usb, err := r.usb.Value()
	if err != nil {
		return Sample{}, fmt.Errorf("read usb pin: %w", err)
	}
	return Sample{Headphone: hp == 1, USB: usb == 1}, nil
}

// Close releases the lines and the chip. Lines are left as plain inputs so
// nothing is driven while the daemon is down.
func (r *RealReader) Close() error {
	var errs []error

	for name, l := range map[string]*gpiocdev.Line{"headphone": r.headphone, "usb": r.usb} {
		if l == nil {
			continue
		}
		if err := l.Reconfigure(gpiocdev.AsInput); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s pin: %w", name, err))
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", name, err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
