// ABOUTME: Sentinel errors for the audioout package
// ABOUTME: Mirrors OS-style error conditions for stream operations
package audioout

import "errors"

var (
	// ErrClosed is returned when operating on a closed stream, and by
	// blocked calls woken by a concurrent Close.
	ErrClosed = errors.New("audioout: stream closed")

	// ErrInvalidConfig wraps configuration complaints detected at
	// open time.
	ErrInvalidConfig = errors.New("audioout: invalid config")

	// ErrWouldBlock is returned by non-blocking operations that made
	// no progress.
	ErrWouldBlock = errors.New("audioout: operation would block")

	// ErrTimeout is returned when a blocking operation exceeds the
	// configured write timeout.
	ErrTimeout = errors.New("audioout: timeout")
)
