// ABOUTME: Process signal dispatch registry
// ABOUTME: Routes OS signals to registered handler functions
package sigdispatch

import (
	"os"
	"os/signal"
	"sync"
)

// Handler runs on the dispatcher goroutine when its signal arrives.
// It must not block; long work belongs on another goroutine.
type Handler func(sig os.Signal)

// Dispatcher owns a signal channel and a handler table. One
// dispatcher per process is the expected shape; New is exported so
// tests can run isolated instances.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[os.Signal]Handler
	ch       chan os.Signal
	done     chan struct{}
	wg       sync.WaitGroup
}

var std = New()

// New creates a dispatcher with an empty handler table.
func New() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[os.Signal]Handler),
	}
}

// Handle registers a handler for the signal and returns the handler
// it replaced, or nil. A nil handler means the signal is relayed but
// dropped; use Reset to restore default process disposition.
func (d *Dispatcher) Handle(sig os.Signal, h Handler) Handler {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ch == nil {
		d.ch = make(chan os.Signal, 8)
		d.done = make(chan struct{})
		d.wg.Add(1)
		go d.run()
	}

	prev := d.handlers[sig]
	d.handlers[sig] = h
	signal.Notify(d.ch, sig)
	return prev
}

// Lookup returns the registered handler for the signal, or nil.
func (d *Dispatcher) Lookup(sig os.Signal) Handler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handlers[sig]
}

// Reset restores the default disposition for the signal and drops its
// handler.
func (d *Dispatcher) Reset(sig os.Signal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ch != nil {
		signal.Reset(sig)
	}
	delete(d.handlers, sig)
}

// Teardown resets every registered signal and stops the dispatcher
// goroutine. The dispatcher is reusable afterwards.
func (d *Dispatcher) Teardown() {
	d.mu.Lock()
	if d.ch == nil {
		d.mu.Unlock()
		return
	}
	signal.Stop(d.ch)
	close(d.done)
	ch := d.ch
	d.ch = nil
	d.done = nil
	d.handlers = make(map[os.Signal]Handler)
	d.mu.Unlock()

	d.wg.Wait()
	// Drain anything delivered between Stop and the goroutine exit.
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case sig := <-d.ch:
			d.mu.Lock()
			h := d.handlers[sig]
			d.mu.Unlock()
			if h != nil {
				h(sig)
			}
		}
	}
}

// Handle registers a handler on the process-wide dispatcher.
func Handle(sig os.Signal, h Handler) Handler { return std.Handle(sig, h) }

// Lookup queries the process-wide dispatcher.
func Lookup(sig os.Signal) Handler { return std.Lookup(sig) }

// Reset restores default disposition on the process-wide dispatcher.
func Reset(sig os.Signal) { std.Reset(sig) }

// Teardown stops the process-wide dispatcher.
func Teardown() { std.Teardown() }
