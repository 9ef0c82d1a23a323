//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads GPIO from actual hardware using Linux GPIO character device.
type RealReader struct {
	chip   *gpiocdev.Chip
	burner *gpiocdev.Line
	fault  *gpiocdev.Line
}

// NewRealReader creates a GPIO reader for actual Raspberry Pi hardware.
func NewRealReader(pinBurner, pinFault int) (*RealReader, error) {
	chip, err := gpiocdev.NewChip(Chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	// Pull-down matches the Pi boot defaults so the optocoupler modules see
	// the same bias before and after the daemon runs.
	burner, err := chip.RequestLine(pinBurner, gpiocdev.AsInput, gpiocdev.WithPullDown)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request burner pin %d: %w", pinBurner, err)
	}

	fault, err := chip.RequestLine(pinFault, gpiocdev.AsInput, gpiocdev.WithPullDown)
	if err != nil {
		burner.Close()
		chip.Close()
		return nil, fmt.Errorf("request fault pin %d: %w", pinFault, err)
	}

	return &RealReader{chip: chip, burner: burner, fault: fault}, nil
}

// Read returns the logical line states. Raw active (1) = OFF.
func (r *RealReader) Read() (bool, bool, error) {
	burnerRaw, err := r.burner.Value()
	if err != nil {
		return false, false, fmt.Errorf("read burner pin: %w", err)
	}
	faultRaw, err := r.fault.Value()
	if err != nil {
		return false, false, fmt.Errorf("read fault pin: %w", err)
	}
	return burnerRaw == 0, faultRaw == 0, nil
}

// Close reconfigures both pins to the boot default (input, pull-down) and
// releases them.
func (r *RealReader) Close() error {
	var errs []error
	for name, line := range map[string]*gpiocdev.Line{"burner": r.burner, "fault": r.fault} {
		if line == nil {
			continue
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s pin: %w", name, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", name, err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}
