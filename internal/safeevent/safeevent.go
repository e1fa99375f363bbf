// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// SafeEvent is a one-shot, multi-waiter signal guaranteed to fire on any
// scope exit — normal return, error, or cancellation — so that any
// goroutine blocked waiting on it is released. It is the Go counterpart
// of a threading.Event paired with a context manager that always sets
// the event in __exit__.

package safeevent

import "sync"

// SafeEvent is safe for concurrent use. The zero value is not usable;
// construct with New.
type SafeEvent struct {
	once sync.Once
	ch   chan struct{}
}

// New returns a ready-to-use SafeEvent.
func New() *SafeEvent {
	return &SafeEvent{ch: make(chan struct{})}
}

// Set fires the event. Idempotent: only the first call has an effect.
func (e *SafeEvent) Set() {
	e.once.Do(func() { close(e.ch) })
}

// IsSet reports whether the event has fired, without blocking.
func (e *SafeEvent) IsSet() bool {
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once the event fires. Suitable
// for use directly in a select alongside other cancellation sources.
func (e *SafeEvent) Done() <-chan struct{} {
	return e.ch
}

// Wait blocks until the event fires.
func (e *SafeEvent) Wait() {
	<-e.ch
}

// Scope guarantees Set is called when the returned func runs, covering
// normal return, panic, or early return on error — the Go equivalent of
// SafeEvent's __enter__/__exit__ pair. Typical use:
//
//	done := ev.Scope()
//	defer done()
func (e *SafeEvent) Scope() func() {
	return func() { e.Set() }
}

// FireIfSet runs cb exactly once, either immediately if ev is already
// set, or as soon as it becomes set — whichever happens first — unless
// stop is called beforehand. It mirrors wait_for_safe_event's contract
// of wiring client cancellation into a running job: cb fires at most
// once, and never after the caller has lost interest.
func FireIfSet(ev *SafeEvent, cb func()) (stop func()) {
	var once sync.Once
	stopped := make(chan struct{})
	fire := func() { once.Do(cb) }

	go func() {
		select {
		case <-ev.Done():
			fire()
		case <-stopped:
		}
	}()

	return func() {
		select {
		case <-stopped:
		default:
			close(stopped)
		}
	}
}
