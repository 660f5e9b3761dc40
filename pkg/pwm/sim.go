// ABOUTME: In-memory PWM hardware simulator
// ABOUTME: Records slice state and captures duty-cycle codes for inspection
package pwm

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// Simulator is a deterministic in-memory Hardware implementation.
// It records every register write so tests can assert on slice state
// and on the exact duty-cycle code sequence a stream produced.
type Simulator struct {
	mu      sync.Mutex
	clockHz uint32
	slices  [NumSlices]simSlice
	pins    map[Pin]bool
}

type simSlice struct {
	cfg        SliceConfig
	configured bool
	enabled    bool
	levelA     uint16
	levelB     uint16
	invertA    bool
	invertB    bool
	codes      []uint16
}

// NewSimulator creates a simulator running at the default system
// clock.
func NewSimulator() *Simulator {
	return &Simulator{
		clockHz: DefaultClockHz,
		pins:    make(map[Pin]bool),
	}
}

// SetClockHz overrides the simulated system clock. Only meaningful
// before any stream is opened against the simulator.
func (s *Simulator) SetClockHz(hz uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clockHz = hz
}

// ClockHz returns the simulated system clock.
func (s *Simulator) ClockHz() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clockHz
}

// ConfigureSlice applies the counter configuration and disables the
// slice.
func (s *Simulator) ConfigureSlice(slice int, cfg SliceConfig) error {
	if slice < 0 || slice >= NumSlices {
		return fmt.Errorf("pwm: slice %d out of range", slice)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slices[slice] = simSlice{cfg: cfg, configured: true}
	return nil
}

// SetSliceEnabled starts or stops the slice counter.
func (s *Simulator) SetSliceEnabled(slice int, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slices[slice].enabled = enabled
}

// SetBothLevels sets both compare levels at once.
func (s *Simulator) SetBothLevels(slice int, a, b uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slices[slice].levelA = a
	s.slices[slice].levelB = b
}

// SetOutputPolarity inverts channel outputs.
func (s *Simulator) SetOutputPolarity(slice int, invertA, invertB bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slices[slice].invertA = invertA
	s.slices[slice].invertB = invertB
}

// ClaimPin routes the pin to its PWM slice.
func (s *Simulator) ClaimPin(p Pin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pins[p] {
		return fmt.Errorf("pwm: pin %d already claimed", p)
	}
	s.pins[p] = true
	return nil
}

// ReleasePin returns the pin to its reset function.
func (s *Simulator) ReleasePin(p Pin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pins, p)
}

// CCWriter returns a writer that records little-endian uint16 codes
// against the slice. Each code also becomes the current channel A
// level, mirroring a DMA write to the compare register's low half.
func (s *Simulator) CCWriter(slice int) io.Writer {
	return ccWriter{sim: s, slice: slice}
}

// PinClaimed reports whether the pin is currently routed to PWM.
func (s *Simulator) PinClaimed(p Pin) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pins[p]
}

// SliceEnabled reports whether the slice counter is running.
func (s *Simulator) SliceEnabled(slice int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slices[slice].enabled
}

// SliceConfigured reports whether ConfigureSlice was called for the
// slice, and with what configuration.
func (s *Simulator) SliceConfigured(slice int) (SliceConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slices[slice].cfg, s.slices[slice].configured
}

// Levels returns the current compare levels of both channels.
func (s *Simulator) Levels(slice int) (a, b uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slices[slice].levelA, s.slices[slice].levelB
}

// Codes returns a copy of every duty-cycle code written to the slice.
func (s *Simulator) Codes(slice int) []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := make([]uint16, len(s.slices[slice].codes))
	copy(codes, s.slices[slice].codes)
	return codes
}

// ResetCodes discards the captured code history for the slice.
func (s *Simulator) ResetCodes(slice int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slices[slice].codes = nil
}

type ccWriter struct {
	sim   *Simulator
	slice int
}

func (w ccWriter) Write(p []byte) (int, error) {
	if len(p)%2 != 0 {
		return 0, fmt.Errorf("pwm: compare register writes must be whole uint16 codes, got %d bytes", len(p))
	}
	w.sim.mu.Lock()
	defer w.sim.mu.Unlock()
	sl := &w.sim.slices[w.slice]
	for i := 0; i < len(p); i += 2 {
		code := binary.LittleEndian.Uint16(p[i:])
		sl.codes = append(sl.codes, code)
		sl.levelA = code
	}
	return len(p), nil
}
