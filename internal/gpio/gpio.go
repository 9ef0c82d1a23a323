// Package gpio reads the boiler's burner and fault lines with hardware
// abstraction. The real implementation uses the Linux GPIO character
// device; the fake allows testing without hardware.
package gpio

// Reader reads GPIO input states.
type Reader interface {
	// Read returns the logical states of the burner and fault lines.
	// Both lines sit behind optocouplers, so raw active = logical OFF.
	Read() (burnerOn bool, faultOn bool, err error)

	// Close releases GPIO resources.
	Close() error
}

// Default pins (BCM numbering).
const (
	PinBurner = 26 // burner demand / flame relay
	PinFault  = 16 // lockout lamp
)

// Chip is the GPIO character device on a Raspberry Pi.
const Chip = "gpiochip0"
