// Package eventdispatch provides buffered, non-blocking fan-out of
// link-layer events and data frames to the application.
package eventdispatch

import "sync"

// Dispatcher delivers values to a buffered channel without ever
// blocking the producer. A slow consumer causes drops, not stalls,
// so the link layer task is never held up by the application.
type Dispatcher[T any] struct {
	out    chan T
	mu     sync.Mutex
	closed bool

	// onDrop, when set, is called for every value dropped because the
	// buffer was full.
	onDrop func(T)
}

// NewDispatcher creates a dispatcher with the given buffer size.
func NewDispatcher[T any](bufferSize int, onDrop func(T)) *Dispatcher[T] {
	return &Dispatcher[T]{
		out:    make(chan T, bufferSize),
		onDrop: onDrop,
	}
}

// Emit delivers a value, dropping it if the buffer is full.
func (d *Dispatcher[T]) Emit(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	select {
	case d.out <- v:
	default:
		if d.onDrop != nil {
			d.onDrop(v)
		}
	}
}

// Out returns the channel consumers read from. It is closed when the
// dispatcher is closed.
func (d *Dispatcher[T]) Out() <-chan T {
	return d.out
}

// Close closes the output channel. Safe to call multiple times.
func (d *Dispatcher[T]) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.closed {
		d.closed = true
		close(d.out)
	}
}
