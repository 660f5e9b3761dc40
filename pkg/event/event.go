// ABOUTME: Level-triggered readiness notification primitive
// ABOUTME: Bridges interrupt-context signaling to blocking waiters
package event

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Wait when the file is closed, before or
// while blocked.
var ErrClosed = errors.New("event: file closed")

// Events is a bitmask of readiness conditions, in the style of poll(2)
// revents.
type Events uint32

const (
	// Writable indicates the stream can accept more data (free space
	// at or above the configured threshold).
	Writable Events = 1 << iota

	// DrainDone indicates the stream's buffer is fully empty.
	DrainDone
)

// File is a level-triggered readiness flag set shared between a
// signaling side (which may run in an interrupt-like context) and
// blocking waiters. Update holds the lock only to swap the flag word
// and broadcast channel, so the signaling side never parks for long;
// waiters block on the broadcast channel, not the lock.
type File struct {
	mu     sync.Mutex
	ready  Events
	closed bool
	gen    chan struct{} // closed to wake waiters, then replaced
}

// NewFile creates an open file with no readiness bits set.
func NewFile() *File {
	return &File{gen: make(chan struct{})}
}

// Update replaces the readiness set and wakes all waiters if it
// changed. Calls after Close are ignored.
func (f *File) Update(ready Events) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || ready == f.ready {
		return
	}
	f.ready = ready
	close(f.gen)
	f.gen = make(chan struct{})
}

// Poll returns the current readiness set without blocking.
func (f *File) Poll() Events {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

// Wait blocks until any of the wanted bits is set, the file is
// closed, or the context expires. It returns the satisfied subset on
// success.
func (f *File) Wait(ctx context.Context, want Events) (Events, error) {
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return 0, ErrClosed
		}
		if got := f.ready & want; got != 0 {
			f.mu.Unlock()
			return got, nil
		}
		gen := f.gen
		f.mu.Unlock()

		select {
		case <-gen:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Close marks the file closed and wakes all waiters. Idempotent.
func (f *File) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.gen)
	}
}
