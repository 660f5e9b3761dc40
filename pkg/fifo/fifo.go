// ABOUTME: DMA-style FIFO pump between a ring buffer and a hardware writer
// ABOUTME: Provides the atomic producer/consumer exchange across the transfer boundary
package fifo

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pwmaudio/pwmaudio-go/pkg/ring"
)

// Handler runs after every transfer, in the pump's context, with the
// number of bytes just moved and a post-transfer snapshot of the
// ring. It stands in for a DMA completion interrupt: it must not
// block and must not call back into the FIFO's lifecycle methods.
type Handler func(moved int, snap ring.Snapshot)

// FIFO owns a ring buffer and drains it into a hardware register
// writer. The producer side commits transcoded bytes through
// Exchange; the consumer side is either the paced pump goroutine or
// manual Transfer calls.
//
// Cursor discipline: Exchange advances only the write cursor,
// Transfer advances only the read cursor, so the two sides never
// contend on the ring itself.
type FIFO struct {
	ring    *ring.Ring
	target  io.Writer
	handler Handler
	pace    int // target byte rate; 0 disables the pump goroutine
	block   int // bytes moved per transfer

	mu      sync.Mutex // pump lifecycle only
	enabled bool
	stop    chan struct{} // closed to tell the pump to exit
	done    chan struct{} // closed by the pump on exit

	transfers atomic.Uint64
}

// DebugStats is a point-in-time dump of FIFO internals.
type DebugStats struct {
	Size       int
	ReadIndex  uint64
	WriteIndex uint64
	Enabled    bool
	Transfers  uint64
}

// New creates an unallocated FIFO with the given completion handler.
func New(handler Handler) *FIFO {
	return &FIFO{handler: handler}
}

// Alloc sizes the ring and binds the transfer target. pace is the
// byte rate the pump drains at when enabled; zero means transfers are
// driven manually (tests). size must be even since the target
// consumes whole uint16 codes.
func (f *FIFO) Alloc(size int, target io.Writer, pace int) error {
	if f.ring != nil {
		return fmt.Errorf("fifo: already allocated")
	}
	if size%2 != 0 {
		return fmt.Errorf("fifo: size must be even, got %d", size)
	}
	if target == nil {
		return fmt.Errorf("fifo: nil transfer target")
	}
	r, err := ring.New(size)
	if err != nil {
		return fmt.Errorf("fifo: %w", err)
	}

	block := size / 4
	if block < 2 {
		block = 2
	}
	block -= block % 2

	f.ring = r
	f.target = target
	f.pace = pace
	f.block = block
	return nil
}

// Exchange commits advance bytes already written into the ring by the
// producer and returns a consistent snapshot of both cursors.
// Exchange with advance 0 is a pure snapshot. Callable concurrently
// with transfers.
func (f *FIFO) Exchange(advance int) ring.Snapshot {
	if advance > 0 {
		f.ring.CommitWrite(advance)
	}
	return f.ring.Snapshot()
}

// WriteWindow returns the contiguous producer span for the snapshot:
// the bytes starting at the write cursor that may be filled before
// either the wrap boundary or the free capacity runs out.
func (f *FIFO) WriteWindow(snap ring.Snapshot) []byte {
	_, span := f.ring.Span(snap.Write)
	n := snap.WriteCapacity()
	if span < n {
		n = span
	}
	return f.ring.Slot(snap.Write, n)
}

// SetEnabled starts or stops the pump. Idempotent; stopping waits for
// an in-flight transfer to finish.
func (f *FIFO) SetEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if enabled == f.enabled {
		return
	}
	f.enabled = enabled

	if !enabled {
		// The pump never takes f.mu, so waiting for it under the lock
		// is safe and keeps a concurrent enable from installing a new
		// pump while the old one is still draining the read cursor.
		if f.stop != nil {
			close(f.stop)
			<-f.done
			f.stop, f.done = nil, nil
		}
		return
	}
	if f.pace <= 0 {
		return
	}

	f.stop = make(chan struct{})
	f.done = make(chan struct{})
	go f.pump(f.stop, f.done)
}

// Enabled reports whether the consumer side is running.
func (f *FIFO) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

// pump drains the ring at the configured byte rate, one block per
// tick, invoking the completion handler after each transfer exactly
// as the DMA interrupt would.
func (f *FIFO) pump(stop, done chan struct{}) {
	defer close(done)

	interval := time.Duration(f.block) * time.Second / time.Duration(f.pace)
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			f.Transfer(f.block)
		}
	}
}

// Transfer moves up to max contiguous bytes from the ring into the
// target, commits the read cursor, and invokes the completion
// handler with the post-transfer snapshot. It never blocks on the
// ring: an empty ring still runs the handler, which is how underrun
// is observed.
func (f *FIFO) Transfer(max int) int {
	snap := f.ring.Snapshot()
	n := snap.ReadCapacity()
	if n > max {
		n = max
	}
	_, span := f.ring.Span(snap.Read)
	if n > span {
		n = span
	}
	if n > 0 {
		// Target write failures are unreported by real DMA; drop the
		// bytes either way so the stream does not wedge.
		f.target.Write(f.ring.Slot(snap.Read, n))
		f.ring.CommitRead(n)
	}

	f.transfers.Add(1)
	if f.handler != nil {
		f.handler(n, f.ring.Snapshot())
	}
	return n
}

// Deinit stops the pump and discards buffered bytes. The ring stays
// addressable so a producer racing with teardown sees an empty
// buffer rather than a dangling one.
func (f *FIFO) Deinit() {
	f.SetEnabled(false)
	if f.ring != nil {
		f.ring.Reset()
	}
}

// Debug returns a dump of the FIFO's internal state.
func (f *FIFO) Debug() DebugStats {
	f.mu.Lock()
	r := f.ring
	enabled := f.enabled
	f.mu.Unlock()

	stats := DebugStats{
		Enabled:   enabled,
		Transfers: f.transfers.Load(),
	}
	if r != nil {
		snap := r.Snapshot()
		stats.Size = snap.Size
		stats.ReadIndex = snap.Read
		stats.WriteIndex = snap.Write
	}
	return stats
}
