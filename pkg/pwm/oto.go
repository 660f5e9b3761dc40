// ABOUTME: Oto-backed PWM hardware implementation
// ABOUTME: Renders channel A duty-cycle codes to the host sound card
package pwm

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// Oto is a Hardware implementation that plays the PWM output on the
// host sound card. Each duty-cycle code written to a slice's compare
// register is converted back to the 16-bit PCM sample it encodes and
// fed to an oto player, so what the simulated pin pair would produce
// becomes audible.
//
// Oto only allows one context per process, so one Oto backend serves
// at most one stream format per run.
type Oto struct {
	mu         sync.Mutex
	sampleRate int
	otoCtx     *oto.Context
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	slices     [NumSlices]struct {
		top     uint32
		enabled bool
	}
	pins map[Pin]bool
}

// NewOto creates an oto-backed Hardware that renders at the given
// sample rate. The audio device is opened on the first ConfigureSlice
// call.
func NewOto(sampleRate int) *Oto {
	return &Oto{
		sampleRate: sampleRate,
		pins:       make(map[Pin]bool),
	}
}

// ClockHz returns the simulated counter clock.
func (o *Oto) ClockHz() uint32 {
	return DefaultClockHz
}

// ConfigureSlice records the wrap value used to scale codes back to
// PCM and opens the audio device if needed.
func (o *Oto) ConfigureSlice(slice int, cfg SliceConfig) error {
	if slice < 0 || slice >= NumSlices {
		return fmt.Errorf("pwm: slice %d out of range", slice)
	}
	if cfg.Top == 0 {
		return fmt.Errorf("pwm: slice %d wrap value must be nonzero", slice)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.slices[slice].top = cfg.Top
	o.slices[slice].enabled = false

	if o.otoCtx != nil {
		return nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   o.sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	o.otoCtx = ctx
	o.pipeReader, o.pipeWriter = io.Pipe()
	o.player = o.otoCtx.NewPlayer(o.pipeReader)
	o.player.Play()

	log.Printf("PWM render output initialized: %dHz mono", o.sampleRate)
	return nil
}

// SetSliceEnabled starts or stops the slice counter.
func (o *Oto) SetSliceEnabled(slice int, enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.slices[slice].enabled = enabled
}

// SetBothLevels renders the channel A level as a single held sample.
func (o *Oto) SetBothLevels(slice int, a, b uint16) {
	o.mu.Lock()
	pw, top := o.pipeWriter, o.slices[slice].top
	o.mu.Unlock()
	if pw == nil || top == 0 {
		return
	}
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], codeToPCM(a, top))
	pw.Write(buf[:])
}

// SetOutputPolarity is a no-op for rendering; only channel A is
// audible and it is rendered non-inverted.
func (o *Oto) SetOutputPolarity(slice int, invertA, invertB bool) {}

// ClaimPin routes the pin to its PWM slice.
func (o *Oto) ClaimPin(p Pin) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pins[p] {
		return fmt.Errorf("pwm: pin %d already claimed", p)
	}
	o.pins[p] = true
	return nil
}

// ReleasePin returns the pin to its reset function.
func (o *Oto) ReleasePin(p Pin) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pins, p)
}

// CCWriter returns the compare register target for the slice. Codes
// are scaled back to signed 16-bit PCM and streamed to the player.
func (o *Oto) CCWriter(slice int) io.Writer {
	return otoCCWriter{o: o, slice: slice}
}

// Close tears down the audio device.
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pipeWriter != nil {
		o.pipeWriter.Close()
		o.pipeWriter = nil
	}
	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	if o.pipeReader != nil {
		o.pipeReader.Close()
		o.pipeReader = nil
	}
	if o.otoCtx != nil {
		o.otoCtx.Suspend()
	}
	return nil
}

type otoCCWriter struct {
	o     *Oto
	slice int
}

func (w otoCCWriter) Write(p []byte) (int, error) {
	if len(p)%2 != 0 {
		return 0, fmt.Errorf("pwm: compare register writes must be whole uint16 codes, got %d bytes", len(p))
	}
	w.o.mu.Lock()
	pw, top := w.o.pipeWriter, w.o.slices[w.slice].top
	w.o.mu.Unlock()
	if pw == nil {
		return 0, fmt.Errorf("pwm: slice %d not configured for rendering", w.slice)
	}

	out := make([]byte, len(p))
	for i := 0; i < len(p); i += 2 {
		code := binary.LittleEndian.Uint16(p[i:])
		binary.LittleEndian.PutUint16(out[i:], codeToPCM(code, top))
	}
	if _, err := pw.Write(out); err != nil {
		return 0, fmt.Errorf("pipe write failed: %w", err)
	}
	return len(p), nil
}

// codeToPCM inverts the duty-cycle quantization: the code is the
// compare value in [0, top), mapped back to an unsigned 16-bit sample
// and then to signed PCM.
func codeToPCM(code uint16, top uint32) uint16 {
	u := uint32(code) * 0x10000 / top
	if u > 0xFFFF {
		u = 0xFFFF
	}
	return uint16(u) ^ 0x8000
}
