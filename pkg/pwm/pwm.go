// ABOUTME: PWM pin and slice hardware model
// ABOUTME: Defines the hardware interface that audio streams drive
package pwm

import "io"

// DefaultClockHz is the system clock the PWM counters are derived
// from (the RP2040 clk_sys default).
const DefaultClockHz = 125_000_000

// NumSlices is the number of independent PWM slices. Each slice
// drives two output channels, A and B.
const NumSlices = 8

// Pin identifies a GPIO capable of PWM output.
type Pin uint8

// Slice returns the PWM slice the pin belongs to. Adjacent pin pairs
// share a slice: pins 0 and 1 are slice 0 channels A and B, pins 16
// and 17 are slice 0 again, and so on.
func (p Pin) Slice() int {
	return int(p>>1) & (NumSlices - 1)
}

// Channel returns the slice channel: 0 for A, 1 for B.
func (p Pin) Channel() int {
	return int(p & 1)
}

// SliceConfig is the counter configuration for one slice, fixed for
// the lifetime of a stream.
type SliceConfig struct {
	// Top is the counter period in ticks (wrap value plus one).
	// Duty-cycle codes written to the compare register are meaningful
	// in [0, Top).
	Top uint32

	// PhaseCorrect selects count-up-then-down mode, halving the
	// effective output frequency.
	PhaseCorrect bool
}

// Hardware is the boundary to a PWM peripheral. The audio stream
// configures one slice, claims its two pins, and pumps duty-cycle
// codes into the slice's compare register through CCWriter.
//
// SetBothLevels and the CCWriter may be called from the transfer
// completion callback, so implementations must not block there.
type Hardware interface {
	// ClockHz returns the counter input clock in Hz.
	ClockHz() uint32

	// ConfigureSlice applies the counter configuration and leaves the
	// slice disabled.
	ConfigureSlice(slice int, cfg SliceConfig) error

	// SetSliceEnabled starts or stops the slice counter. Idempotent.
	SetSliceEnabled(slice int, enabled bool)

	// SetBothLevels sets the compare levels of both channels at once.
	SetBothLevels(slice int, a, b uint16)

	// SetOutputPolarity inverts channel outputs.
	SetOutputPolarity(slice int, invertA, invertB bool)

	// ClaimPin routes the pin to its PWM slice.
	ClaimPin(p Pin) error

	// ReleasePin returns the pin to its reset function.
	ReleasePin(p Pin)

	// CCWriter returns the transfer target for the slice's compare
	// register: a stream of little-endian uint16 duty-cycle codes.
	CCWriter(slice int) io.Writer
}
