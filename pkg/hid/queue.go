package hid

import (
	"context"
	"sync"
)

// CallbackQueue delivers completion callbacks and registry-driven attach or
// detach notifications to whatever owns the guest's execution context. The
// core only enqueues; it never runs guest callbacks itself.
//
// Post must not execute fn inline: registry-driven notifications are posted
// while the triggering call is still on the caller's stack and must not block
// it.
type CallbackQueue interface {
	Post(fn func())
}

// GoroutineQueue runs every posted callback on its own goroutine. It is the
// default queue of a Registry and gives no ordering guarantee between
// callbacks.
type GoroutineQueue struct{}

// Post runs fn on a new goroutine.
func (GoroutineQueue) Post(fn func()) { go fn() }

var _ CallbackQueue = GoroutineQueue{}

// EventLoop is a single-consumer CallbackQueue. Callbacks run one at a time,
// in post order, on whichever goroutine calls Run - typically the goroutine
// that models the guest's execution context.
type EventLoop struct {
	ch        chan func()
	done      chan struct{}
	closeOnce sync.Once
}

// NewEventLoop returns an EventLoop holding up to buffer pending callbacks.
// If buffer is not positive a default of 256 is used.
func NewEventLoop(buffer int) *EventLoop {
	if buffer <= 0 {
		buffer = 256
	}
	return &EventLoop{
		ch:   make(chan func(), buffer),
		done: make(chan struct{}),
	}
}

// Post enqueues fn. It blocks while the queue is full and drops fn once the
// loop is closed.
func (l *EventLoop) Post(fn func()) {
	select {
	case <-l.done:
		return
	default:
	}
	select {
	case <-l.done:
	case l.ch <- fn:
	}
}

// Run consumes and executes callbacks until ctx is cancelled or the loop is
// closed. On close it drains callbacks already queued before returning.
func (l *EventLoop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			for {
				select {
				case fn := <-l.ch:
					fn()
				default:
					return
				}
			}
		case fn := <-l.ch:
			fn()
		}
	}
}

// Close stops the loop. It is safe to call multiple times; callbacks posted
// after Close are dropped.
func (l *EventLoop) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

var _ CallbackQueue = (*EventLoop)(nil)
