// ABOUTME: Lock-free single-producer single-consumer byte ring buffer
// ABOUTME: Unbounded atomic cursors with modulo-by-capacity addressing
package ring

import (
	"fmt"
	"sync/atomic"
)

// Ring is a fixed-capacity circular byte buffer shared between one
// producer and one consumer. The cursors are logically unbounded
// counters; the physical slot for a cursor is its value modulo the
// capacity, so full and empty are distinguished without a sentinel.
//
// There is no internal locking. Safety depends on single-writer
// discipline: only the producer calls CommitWrite, only the consumer
// calls CommitRead. Both sides may call the capacity queries and
// Snapshot at any time.
type Ring struct {
	// Separate cache lines so the producer and consumer cursors do
	// not false-share.
	write atomic.Uint64
	_     [56]byte
	read  atomic.Uint64
	_     [56]byte

	buf []byte
}

// Snapshot is a consistent view of both cursors and the capacity,
// usable to compute read and write capacities without re-reading the
// live counters.
type Snapshot struct {
	Read  uint64
	Write uint64
	Size  int
}

// WriteCapacity returns the number of bytes the snapshot allows to be
// written without overflow.
func (s Snapshot) WriteCapacity() int {
	return s.Size - int(s.Write-s.Read)
}

// ReadCapacity returns the number of bytes the snapshot allows to be
// read.
func (s Snapshot) ReadCapacity() int {
	return int(s.Write - s.Read)
}

// New allocates a ring with the given capacity in bytes.
func New(size int) (*Ring, error) {
	if size <= 0 {
		return nil, fmt.Errorf("ring: size must be positive, got %d", size)
	}
	return &Ring{buf: make([]byte, size)}, nil
}

// Size returns the fixed capacity in bytes.
func (r *Ring) Size() int {
	return len(r.buf)
}

// WriteIndex returns the producer cursor.
func (r *Ring) WriteIndex() uint64 {
	return r.write.Load()
}

// ReadIndex returns the consumer cursor.
func (r *Ring) ReadIndex() uint64 {
	return r.read.Load()
}

// WriteCapacity returns the number of bytes that may be written
// without overflow.
func (r *Ring) WriteCapacity() int {
	return len(r.buf) - int(r.write.Load()-r.read.Load())
}

// ReadCapacity returns the number of bytes available to read.
func (r *Ring) ReadCapacity() int {
	return int(r.write.Load() - r.read.Load())
}

// Snapshot returns a consistent view of both cursors. Callable from
// either side; the opposite cursor may advance concurrently, which
// only makes the derived capacities conservative.
func (r *Ring) Snapshot() Snapshot {
	return Snapshot{
		Read:  r.read.Load(),
		Write: r.write.Load(),
		Size:  len(r.buf),
	}
}

// Span returns the largest contiguous run of slots starting at the
// physical offset for index, up to the wrap-around boundary. Callers
// must not access past n without re-querying.
func (r *Ring) Span(index uint64) (offset, n int) {
	offset = int(index % uint64(len(r.buf)))
	return offset, len(r.buf) - offset
}

// Slot returns the backing bytes for n contiguous slots starting at
// index. n must not exceed the span at index.
func (r *Ring) Slot(index uint64, n int) []byte {
	offset, span := r.Span(index)
	if n > span {
		panic(fmt.Sprintf("ring: slot of %d bytes exceeds span %d", n, span))
	}
	return r.buf[offset : offset+n]
}

// CommitWrite advances the producer cursor by n bytes. The caller
// guarantees n <= WriteCapacity(); a violation is overflow and
// panics rather than corrupting the consumer's view.
func (r *Ring) CommitWrite(n int) {
	if n < 0 || n > r.WriteCapacity() {
		panic(fmt.Sprintf("ring: commit of %d bytes overflows write capacity %d", n, r.WriteCapacity()))
	}
	r.write.Add(uint64(n))
}

// CommitRead advances the consumer cursor by n bytes. The caller
// guarantees n <= ReadCapacity().
func (r *Ring) CommitRead(n int) {
	if n < 0 || n > r.ReadCapacity() {
		panic(fmt.Sprintf("ring: commit of %d bytes overruns read capacity %d", n, r.ReadCapacity()))
	}
	r.read.Add(uint64(n))
}

// Reset discards all buffered bytes by advancing the consumer cursor
// to the producer cursor. Only safe when the consumer side is
// stopped.
func (r *Ring) Reset() {
	r.read.Store(r.write.Load())
}
