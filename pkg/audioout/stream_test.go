// ABOUTME: Stream controller tests
// ABOUTME: Verifies open validation, write/drain semantics, fragments, and stalls
package audioout

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/pwmaudio/pwmaudio-go/pkg/event"
	"github.com/pwmaudio/pwmaudio-go/pkg/pwm"
)

// testConfig returns a mono 16-bit stream config against a fresh
// simulator with a 1 MHz clock, so top = 125 at 8 kHz.
func testConfig() (Config, *pwm.Simulator) {
	sim := pwm.NewSimulator()
	sim.SetClockHz(1_000_000)
	return Config{
		APin:           pwm.Pin(2),
		BPin:           pwm.Pin(3),
		NumChannels:    1,
		SampleRate:     8000,
		BytesPerSample: 2,
		Hardware:       sim,
	}, sim
}

func TestOpenRejectsSamePin(t *testing.T) {
	cfg, sim := testConfig()
	cfg.BPin = cfg.APin
	if _, err := Open(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Open error = %v, want ErrInvalidConfig", err)
	}
	if sim.PinClaimed(cfg.APin) {
		t.Error("pin claimed despite rejected open")
	}
}

func TestOpenRejectsSplitSlice(t *testing.T) {
	cfg, sim := testConfig()
	cfg.BPin = pwm.Pin(4) // slice 2, APin is slice 1
	if _, err := Open(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Open error = %v, want ErrInvalidConfig", err)
	}
	if sim.PinClaimed(cfg.APin) || sim.PinClaimed(cfg.BPin) {
		t.Error("pins claimed despite rejected open")
	}
	if _, ok := sim.SliceConfigured(1); ok {
		t.Error("slice configured despite rejected open")
	}
}

func TestOpenRejectsWideFrames(t *testing.T) {
	cfg, _ := testConfig()
	cfg.NumChannels = 2
	cfg.BytesPerSample = 4
	if _, err := Open(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Open error = %v, want ErrInvalidConfig", err)
	}
}

func TestOpenUnwindsOnPinClaimFailure(t *testing.T) {
	cfg, sim := testConfig()
	if err := sim.ClaimPin(cfg.BPin); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(cfg); err == nil {
		t.Fatal("Open succeeded with BPin already claimed")
	}
	if sim.PinClaimed(cfg.APin) {
		t.Error("APin not released on unwind")
	}
	if sim.SliceEnabled(1) {
		t.Error("slice left enabled on unwind")
	}
}

func TestOpenConfiguresSlice(t *testing.T) {
	cfg, sim := testConfig()
	s, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	sliceCfg, ok := sim.SliceConfigured(1)
	if !ok {
		t.Fatal("slice 1 not configured")
	}
	if sliceCfg.Top != 125 {
		t.Errorf("top = %d, want 125 for 8 kHz at 1 MHz", sliceCfg.Top)
	}
	if !sim.SliceEnabled(1) {
		t.Error("slice counter not enabled at open")
	}
	a, b := sim.Levels(1)
	if a != 62 || b != 62 {
		t.Errorf("idle levels = (%d, %d), want (62, 62)", a, b)
	}

	stats := s.Debug()
	if stats.Top != 125 {
		t.Errorf("Debug top = %d, want 125", stats.Top)
	}
	if stats.Divisor != (0x10000<<10)/125 {
		t.Errorf("Debug divisor = %d", stats.Divisor)
	}
	if s.State() != "stopped" {
		t.Errorf("state = %q, want stopped", s.State())
	}
}

func TestOpenRejectsOversizedWrap(t *testing.T) {
	// 10 Hz at a 1 MHz clock needs a wrap value of 100000, which no
	// longer fits the 16-bit compare registers.
	cfg, sim := testConfig()
	cfg.SampleRate = 10
	if _, err := Open(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Open error = %v, want ErrInvalidConfig", err)
	}
	if sim.PinClaimed(cfg.APin) {
		t.Error("pin claimed despite rejected open")
	}

	// Phase-correct halves the wrap value, which brings the same rate
	// back into range.
	cfg.PhaseCorrect = true
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
	if top := s.Debug().Top; top != 50000 {
		t.Errorf("phase-correct top = %d, want 50000", top)
	}
}

func TestPhaseCorrectHalvesTop(t *testing.T) {
	cfg, _ := testConfig()
	cfg.PhaseCorrect = true
	s, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if top := s.Debug().Top; top != 63 {
		t.Errorf("phase-correct top = %d, want 63", top)
	}
}

func TestWriteReturnsInputBytesConsumed(t *testing.T) {
	cfg, _ := testConfig()
	cfg.FIFOSize = 8
	cfg.Threshold = 8
	s, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	// 8 code bytes of space take 4 frames; the 12-byte input is
	// consumed only up to the FIFO limit, without blocking.
	n, err := s.Write(make([]byte, 12))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != 8 {
		t.Errorf("Write = %d input bytes, want 8", n)
	}

	stats := s.Debug()
	if stats.FIFO.WriteIndex != 8 {
		t.Errorf("fifo write index = %d, want 8", stats.FIFO.WriteIndex)
	}
}

func TestSubFrameWriteGoesToFragment(t *testing.T) {
	cfg, _ := testConfig()
	s, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	n, err := s.Write([]byte{0x42})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Write = %d, want 1 (byte parked in fragment)", n)
	}
	if s.Debug().FIFO.WriteIndex != 0 {
		t.Error("partial frame produced output")
	}

	// The second byte completes the frame: exactly one code.
	n, err = s.Write([]byte{0x00})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Write = %d, want 1", n)
	}
	if got := s.Debug().FIFO.WriteIndex; got != 2 {
		t.Errorf("fifo write index = %d, want 2 (one code)", got)
	}
}

func TestTryWriteWouldBlock(t *testing.T) {
	cfg, _ := testConfig()
	cfg.FIFOSize = 8
	cfg.Threshold = 8
	s, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.Write(make([]byte, 8)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.TryWrite(make([]byte, 2)); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("TryWrite on full stream = %v, want ErrWouldBlock", err)
	}
}

func TestWriteTimeout(t *testing.T) {
	cfg, _ := testConfig()
	cfg.FIFOSize = 8
	cfg.Threshold = 8
	cfg.WriteTimeout = 30 * time.Millisecond
	s, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.Write(make([]byte, 8)); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err = s.Write(make([]byte, 2))
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Write = %v, want ErrTimeout", err)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout took far longer than configured")
	}
}

func TestCloseUnblocksWriter(t *testing.T) {
	cfg, _ := testConfig()
	cfg.FIFOSize = 8
	cfg.Threshold = 8
	s, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Write(make([]byte, 8)); err != nil {
		t.Fatal(err)
	}

	errc := make(chan error)
	go func() {
		_, err := s.Write(make([]byte, 2))
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("blocked Write = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock writer")
	}
}

func TestCloseIsTerminalAndIdempotent(t *testing.T) {
	cfg, sim := testConfig()
	s, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := s.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close = %v, want ErrClosed", err)
	}

	if sim.PinClaimed(cfg.APin) || sim.PinClaimed(cfg.BPin) {
		t.Error("pins still claimed after close")
	}
	if sim.SliceEnabled(1) {
		t.Error("slice still enabled after close")
	}

	if _, err := s.Write([]byte{0, 0}); !errors.Is(err, ErrClosed) {
		t.Errorf("Write after close = %v, want ErrClosed", err)
	}
	if err := s.Drain(); !errors.Is(err, ErrClosed) {
		t.Errorf("Drain after close = %v, want ErrClosed", err)
	}
	if err := s.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after close = %v, want ErrClosed", err)
	}
	if err := s.Stop(); !errors.Is(err, ErrClosed) {
		t.Errorf("Stop after close = %v, want ErrClosed", err)
	}
	if s.State() != "closed" {
		t.Errorf("state = %q, want closed", s.State())
	}
}

func TestDrainWhileStoppedCannotProgress(t *testing.T) {
	cfg, _ := testConfig()
	s, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.Write(make([]byte, 4)); err != nil {
		t.Fatal(err)
	}
	if err := s.Drain(); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("Drain on stopped stream = %v, want ErrWouldBlock", err)
	}
}

func TestStartDrainStop(t *testing.T) {
	cfg, sim := testConfig()
	cfg.FIFOSize = 64
	cfg.Threshold = 16
	s, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	input := make([]byte, 40) // 20 frames
	if _, err := s.Write(input); err != nil {
		t.Fatal(err)
	}

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if s.State() != "running" {
		t.Errorf("state = %q, want running", s.State())
	}
	if err := s.Drain(); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if s.State() != "stopped" {
		t.Errorf("state = %q, want stopped", s.State())
	}

	if got := len(sim.Codes(1)); got != 20 {
		t.Errorf("drained %d codes, want 20", got)
	}
	// Stop parks the outputs at neutral.
	a, b := sim.Levels(1)
	if a != 62 || b != 62 {
		t.Errorf("levels after stop = (%d, %d), want (62, 62)", a, b)
	}
}

func TestUnderrunStallsOncePerEvent(t *testing.T) {
	cfg, sim := testConfig()
	cfg.FIFOSize = 64
	cfg.Threshold = 16
	s, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	// Run with nothing buffered: the pump hits underrun immediately
	// and must count it once, not once per tick.
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	stats := s.Debug()
	if stats.Stalls != 1 {
		t.Fatalf("stalls = %d after idle run, want 1", stats.Stalls)
	}
	if stats.IntCount < 3 {
		t.Fatalf("only %d transfer ticks; test needs several to prove edge triggering", stats.IntCount)
	}
	a, b := sim.Levels(1)
	if a != 62 || b != 62 {
		t.Errorf("underrun levels = (%d, %d), want neutral (62, 62)", a, b)
	}

	// Feeding data and letting it run dry is the next stall event.
	if _, err := s.Write(make([]byte, 32)); err != nil {
		t.Fatal(err)
	}
	if err := s.Drain(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := s.Debug().Stalls; got != 2 {
		t.Errorf("stalls = %d after second underrun, want exactly 2", got)
	}
}

func TestEventFileReportsReadiness(t *testing.T) {
	cfg, _ := testConfig()
	s, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ready := s.Event().Poll()
	if ready&event.Writable == 0 {
		t.Error("fresh stream not writable")
	}
	if ready&event.DrainDone == 0 {
		t.Error("fresh stream not drained")
	}
}

// chunkedCodes opens a fresh stream, writes the input split into the
// given chunk sizes (cycled), drains it, and returns the produced
// duty-cycle codes.
func chunkedCodes(t *testing.T, input []byte, chunks []int) []uint16 {
	t.Helper()
	sim := pwm.NewSimulator()
	sim.SetClockHz(1_000_000)
	s, err := Open(Config{
		APin:           pwm.Pin(2),
		BPin:           pwm.Pin(3),
		NumChannels:    2,
		SampleRate:     8000,
		BytesPerSample: 2,
		FIFOSize:       4096,
		Threshold:      256,
		Hardware:       sim,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	for off, i := 0, 0; off < len(input); i++ {
		n := chunks[i%len(chunks)]
		if off+n > len(input) {
			n = len(input) - off
		}
		consumed := 0
		for consumed < n {
			m, err := s.Write(input[off+consumed : off+n])
			if err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			consumed += m
		}
		off += n
	}

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Drain(); err != nil {
		t.Fatal(err)
	}
	return sim.Codes(1)
}

func TestWriteChunkingInvariance(t *testing.T) {
	// 200 stereo 16-bit frames of pseudo-random input.
	rng := rand.New(rand.NewSource(7))
	input := make([]byte, 200*4)
	rng.Read(input)

	whole := chunkedCodes(t, input, []int{len(input)})
	if len(whole) != 200 {
		t.Fatalf("produced %d codes, want 200", len(whole))
	}

	// Chunk sizes chosen to split frames mid-byte in every pattern.
	for _, chunks := range [][]int{
		{1},
		{3},
		{5, 1, 7},
		{2, 3},
		{4096},
	} {
		got := chunkedCodes(t, input, chunks)
		if len(got) != len(whole) {
			t.Errorf("chunks %v: %d codes, want %d", chunks, len(got), len(whole))
			continue
		}
		for i := range got {
			if got[i] != whole[i] {
				t.Errorf("chunks %v: code %d = %d, want %d", chunks, i, got[i], whole[i])
				break
			}
		}
	}
}

func TestDefaultsApplied(t *testing.T) {
	cfg, _ := testConfig()
	s, err := Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	stats := s.Debug()
	if stats.FIFO.Size != 1024 {
		t.Errorf("default fifo size = %d, want 1024", stats.FIFO.Size)
	}
	if stats.ID != s.Debug().ID {
		t.Error("stream id changed between debug dumps")
	}
}
