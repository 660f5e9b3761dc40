// ABOUTME: PWM audio stream controller
// ABOUTME: Owns the FIFO, fragment carryover, and blocking write/drain orchestration
package audioout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pwmaudio/pwmaudio-go/pkg/event"
	"github.com/pwmaudio/pwmaudio-go/pkg/fifo"
	"github.com/pwmaudio/pwmaudio-go/pkg/pwm"
	"github.com/pwmaudio/pwmaudio-go/pkg/ring"
)

// maxFrameBytes bounds one input frame so a partial frame always fits
// in the carryover buffer.
const maxFrameBytes = 4

// Config describes a stream. Immutable after Open.
type Config struct {
	// APin and BPin are the output pin pair. They must be distinct
	// and share one PWM slice.
	APin pwm.Pin
	BPin pwm.Pin

	// NumChannels is the number of interleaved channels per frame.
	NumChannels int

	// SampleRate is the target frame rate in Hz.
	SampleRate int

	// BytesPerSample is the width of one channel's sample. 1 and 2
	// are transcoded; wider samples produce the neutral midpoint.
	BytesPerSample int

	// FIFOSize is the FIFO capacity in bytes (default 1024).
	FIFOSize int

	// Threshold is the minimum free space, in bytes, before the
	// stream reports write readiness (default 256).
	Threshold int

	// PWMBits is the PWM resolution (default 10).
	PWMBits int

	// PhaseCorrect selects count-up-then-down slice mode.
	PhaseCorrect bool

	// WriteTimeout bounds each blocking wait in Write and Drain.
	// Zero blocks indefinitely.
	WriteTimeout time.Duration

	// Hardware is the PWM peripheral to drive. Nil selects a fresh
	// in-memory simulator.
	Hardware pwm.Hardware
}

// Stream is an open PWM audio output. One goroutine may call
// Write/Drain at a time; Start, Stop, Close, and Debug are safe from
// any goroutine, including while a writer is blocked.
type Stream struct {
	id    uuid.UUID
	cfg   Config
	hw    pwm.Hardware
	slice int

	tc      transcoder
	frag    [maxFrameBytes]byte
	fragLen int

	fifo *fifo.FIFO
	ev   *event.File

	wmu     sync.Mutex // serializes Write and Drain
	lifeMu  sync.Mutex // serializes Start/Stop/Close
	closed  atomic.Bool
	running atomic.Bool

	intCount atomic.Uint64
	stalls   atomic.Uint64
	stalled  atomic.Bool
}

// DebugStats is a diagnostic dump of a stream's internals. It is an
// introspection aid, not part of the core contract.
type DebugStats struct {
	ID       uuid.UUID
	ClockHz  uint32
	Top      uint32
	Divisor  uint32
	IntCount uint64
	Stalls   uint64
	FIFO     fifo.DebugStats
}

// Open validates the configuration, claims the hardware, and returns
// a stream in the stopped state: writes are buffered but nothing is
// transferred until Start. Any failure unwinds every acquisition made
// before it.
func Open(cfg Config) (*Stream, error) {
	if cfg.FIFOSize == 0 {
		cfg.FIFOSize = 1024
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 256
	}
	if cfg.PWMBits == 0 {
		cfg.PWMBits = 10
	}

	if cfg.APin == cfg.BPin {
		return nil, fmt.Errorf("%w: pins must be different", ErrInvalidConfig)
	}
	if cfg.APin.Slice() != cfg.BPin.Slice() {
		return nil, fmt.Errorf("%w: pins must share a PWM slice", ErrInvalidConfig)
	}
	if cfg.NumChannels < 1 {
		return nil, fmt.Errorf("%w: channel count %d", ErrInvalidConfig, cfg.NumChannels)
	}
	if cfg.BytesPerSample < 1 {
		return nil, fmt.Errorf("%w: bytes per sample %d", ErrInvalidConfig, cfg.BytesPerSample)
	}
	if frame := cfg.NumChannels * cfg.BytesPerSample; frame > maxFrameBytes {
		return nil, fmt.Errorf("%w: frame width %d exceeds %d bytes", ErrInvalidConfig, frame, maxFrameBytes)
	}
	if cfg.SampleRate < 1 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, cfg.SampleRate)
	}
	if cfg.FIFOSize < codeBytes || cfg.FIFOSize%2 != 0 {
		return nil, fmt.Errorf("%w: fifo size %d must be positive and even", ErrInvalidConfig, cfg.FIFOSize)
	}
	if cfg.Threshold < codeBytes || cfg.Threshold > cfg.FIFOSize {
		return nil, fmt.Errorf("%w: threshold %d outside fifo size %d", ErrInvalidConfig, cfg.Threshold, cfg.FIFOSize)
	}
	if cfg.PWMBits < 1 || cfg.PWMBits > 15 {
		return nil, fmt.Errorf("%w: pwm bits %d", ErrInvalidConfig, cfg.PWMBits)
	}

	hw := cfg.Hardware
	if hw == nil {
		hw = pwm.NewSimulator()
	}

	top := (hw.ClockHz() + uint32(cfg.SampleRate)/2) / uint32(cfg.SampleRate)
	if cfg.PhaseCorrect {
		top = (top + 1) / 2
	}
	if top < 2 {
		return nil, fmt.Errorf("%w: sample rate %d too high for %d Hz clock", ErrInvalidConfig, cfg.SampleRate, hw.ClockHz())
	}
	// Codes and compare levels are uint16, so the wrap value must fit.
	if top > 0xFFFF {
		return nil, fmt.Errorf("%w: sample rate %d too low for %d Hz clock (wrap %d exceeds 16 bits)", ErrInvalidConfig, cfg.SampleRate, hw.ClockHz(), top)
	}
	divisor := (uint32(0x10000) << uint(cfg.PWMBits)) / top
	if divisor == 0 {
		return nil, fmt.Errorf("%w: pwm resolution %d too low for wrap %d", ErrInvalidConfig, cfg.PWMBits, top)
	}

	s := &Stream{
		id:    uuid.New(),
		cfg:   cfg,
		hw:    hw,
		slice: cfg.APin.Slice(),
	}
	s.tc = transcoder{
		numChannels:    cfg.NumChannels,
		bytesPerSample: cfg.BytesPerSample,
		pwmBits:        uint(cfg.PWMBits),
		top:            top,
		divisor:        divisor,
	}
	s.ev = event.NewFile()
	s.fifo = fifo.New(s.onTransfer)

	// Codes drain at two bytes per output frame.
	if err := s.fifo.Alloc(cfg.FIFOSize, hw.CCWriter(s.slice), codeBytes*cfg.SampleRate); err != nil {
		s.ev.Close()
		return nil, fmt.Errorf("audioout: fifo allocation: %w", err)
	}

	if err := hw.ConfigureSlice(s.slice, pwm.SliceConfig{Top: top, PhaseCorrect: cfg.PhaseCorrect}); err != nil {
		s.fifo.Deinit()
		s.ev.Close()
		return nil, fmt.Errorf("audioout: slice config: %w", err)
	}
	hw.SetBothLevels(s.slice, uint16(top/2), uint16(top/2))

	if err := hw.ClaimPin(cfg.APin); err != nil {
		s.unwindOpen(false, false)
		return nil, fmt.Errorf("audioout: claim pin %d: %w", cfg.APin, err)
	}
	if err := hw.ClaimPin(cfg.BPin); err != nil {
		s.unwindOpen(true, false)
		return nil, fmt.Errorf("audioout: claim pin %d: %w", cfg.BPin, err)
	}

	hw.SetSliceEnabled(s.slice, true)
	hw.SetOutputPolarity(s.slice, false, true)

	// The FIFO starts empty, so the stream is immediately writable
	// and drained.
	s.ev.Update(event.Writable | event.DrainDone)

	log.Printf("audio stream %s open: pins %d/%d slice %d, %d Hz, %dch %dB, top=%d divisor=%d",
		s.id, cfg.APin, cfg.BPin, s.slice, cfg.SampleRate, cfg.NumChannels, cfg.BytesPerSample, top, divisor)
	return s, nil
}

// unwindOpen releases partially-acquired open-time resources.
func (s *Stream) unwindOpen(aPin, bPin bool) {
	if bPin {
		s.hw.ReleasePin(s.cfg.BPin)
	}
	if aPin {
		s.hw.ReleasePin(s.cfg.APin)
	}
	s.hw.SetSliceEnabled(s.slice, false)
	s.fifo.Deinit()
	s.ev.Close()
}

// onTransfer runs in the transfer (interrupt) context after every
// FIFO drain step. It refreshes readiness for blocked waiters and
// repairs underrun by parking the outputs at the neutral level.
func (s *Stream) onTransfer(moved int, snap ring.Snapshot) {
	s.intCount.Add(1)
	s.ev.Update(s.pollEvents(snap))

	if moved > 0 {
		s.stalled.Store(false)
	}
	if snap.ReadCapacity() == 0 {
		// Count one stall per underrun event, not per empty tick.
		if !s.stalled.Swap(true) {
			s.hw.SetBothLevels(s.slice, uint16(s.tc.top/2), uint16(s.tc.top/2))
			s.tc.acc.Store(0)
			s.stalls.Add(1)
		}
	}
}

// pollEvents derives the readiness set from a ring snapshot. The
// threshold and full-drain conditions are independent watchpoints.
func (s *Stream) pollEvents(snap ring.Snapshot) event.Events {
	var ev event.Events
	free := snap.WriteCapacity()
	if free >= s.cfg.Threshold {
		ev |= event.Writable
	}
	if free >= snap.Size {
		ev |= event.DrainDone
	}
	return ev
}

// Write transcodes as much of p as fits and returns the number of
// input bytes consumed, which includes bytes parked in the fragment
// buffer. If the FIFO cannot accept even one code, Write blocks until
// space frees up, the stream closes, or the write timeout expires.
// When the FIFO fills mid-call the remaining input is returned
// unconsumed rather than blocking again.
func (s *Stream) Write(p []byte) (int, error) {
	return s.write(p, true)
}

// TryWrite is Write without blocking: if no input can be accepted
// immediately it returns ErrWouldBlock.
func (s *Stream) TryWrite(p []byte) (int, error) {
	return s.write(p, false)
}

func (s *Stream) write(p []byte, block bool) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closed.Load() {
		return 0, ErrClosed
	}

	ctx := context.Background()
	if block && s.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.WriteTimeout)
		defer cancel()
	}

	frameB := s.tc.frameBytes()
	snap := s.fifo.Exchange(0)
	for snap.WriteCapacity() < codeBytes {
		if !block {
			return 0, ErrWouldBlock
		}
		if _, err := s.ev.Wait(ctx, event.Writable); err != nil {
			return 0, s.waitErr(err)
		}
		snap = s.fifo.Exchange(0)
	}

	consumed := 0
	for len(p)-consumed+s.fragLen >= frameB && snap.WriteCapacity() >= codeBytes {
		dst := s.fifo.WriteWindow(snap)
		var frames int
		if s.fragLen > 0 {
			// Complete the carried partial frame first.
			need := frameB - s.fragLen
			copy(s.frag[s.fragLen:], p[consumed:consumed+need])
			frames = s.tc.transcode(dst, s.frag[:frameB])
			consumed += need
			s.fragLen = 0
		} else {
			frames = s.tc.transcode(dst, p[consumed:])
			consumed += frames * frameB
		}
		snap = s.fifo.Exchange(frames * codeBytes)
		s.ev.Update(s.pollEvents(snap))
	}

	// Park any sub-frame remainder for the next call.
	if rem := len(p) - consumed; rem > 0 && rem+s.fragLen < frameB {
		copy(s.frag[s.fragLen:], p[consumed:])
		s.fragLen += rem
		consumed = len(p)
	}
	return consumed, nil
}

// Drain blocks until the FIFO is completely empty. It fails with
// ErrWouldBlock if the stream holds data but is not running, since no
// transfer can make progress then.
func (s *Stream) Drain() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closed.Load() {
		return ErrClosed
	}

	ctx := context.Background()
	if s.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.WriteTimeout)
		defer cancel()
	}

	snap := s.fifo.Exchange(0)
	for snap.WriteCapacity() < snap.Size {
		if !s.running.Load() {
			return ErrWouldBlock
		}
		if _, err := s.ev.Wait(ctx, event.DrainDone); err != nil {
			return s.waitErr(err)
		}
		snap = s.fifo.Exchange(0)
	}
	return nil
}

// waitErr maps event-wait failures onto the stream's error surface.
func (s *Stream) waitErr(err error) error {
	switch {
	case errors.Is(err, event.ErrClosed):
		return ErrClosed
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		return err
	}
}

// Start begins transferring buffered codes to the hardware.
// Idempotent.
func (s *Stream) Start() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.closed.Load() {
		return ErrClosed
	}
	s.fifo.SetEnabled(true)
	s.running.Store(true)
	return nil
}

// Stop suspends transfers and parks both outputs at the neutral 50%
// level. Buffered codes stay queued for the next Start. Idempotent.
func (s *Stream) Stop() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.closed.Load() {
		return ErrClosed
	}
	s.fifo.SetEnabled(false)
	s.running.Store(false)
	s.hw.SetBothLevels(s.slice, uint16(s.tc.top/2), uint16(s.tc.top/2))
	return nil
}

// Close releases the hardware and wakes any blocked writer, which
// then fails with ErrClosed. Valid from any state; a second Close
// reports ErrClosed.
func (s *Stream) Close() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.closed.Swap(true) {
		return ErrClosed
	}
	s.running.Store(false)

	s.fifo.Deinit()
	s.hw.SetSliceEnabled(s.slice, false)
	s.hw.ReleasePin(s.cfg.APin)
	s.hw.ReleasePin(s.cfg.BPin)
	s.ev.Close()

	log.Printf("audio stream %s closed: %d transfers, %d stalls", s.id, s.intCount.Load(), s.stalls.Load())
	return nil
}

// Event returns the stream's readiness file, the fileno-equivalent
// handle for external polling.
func (s *Stream) Event() *event.File {
	return s.ev
}

// State reports the lifecycle state: "closed", "running", or
// "stopped".
func (s *Stream) State() string {
	switch {
	case s.closed.Load():
		return "closed"
	case s.running.Load():
		return "running"
	default:
		return "stopped"
	}
}

// Debug returns a diagnostic snapshot of the stream.
func (s *Stream) Debug() DebugStats {
	return DebugStats{
		ID:       s.id,
		ClockHz:  s.hw.ClockHz(),
		Top:      s.tc.top,
		Divisor:  s.tc.divisor,
		IntCount: s.intCount.Load(),
		Stalls:   s.stalls.Load(),
		FIFO:     s.fifo.Debug(),
	}
}
