package eventloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrClosed is returned when work is posted to a loop that has shut down.
var ErrClosed = errors.New("eventloop: closed")

// Loop runs posted closures one at a time on a single goroutine. Everything
// that touches viewer state goes through it, including timer callbacks.
type Loop struct {
	tasks     chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New starts a loop with the given task buffer.
func New(buffer int) *Loop {
	if buffer <= 0 {
		buffer = 64
	}
	l := &Loop{
		tasks: make(chan func(), buffer),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.quit:
			return
		case f := <-l.tasks:
			l.exec(f)
		}
	}
}

func (l *Loop) exec(f func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("event loop task panicked")
		}
	}()
	f()
}

// Post queues f without waiting. It reports false once the loop is closed.
func (l *Loop) Post(f func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.tasks <- f:
		return true
	case <-l.quit:
		return false
	}
}

// Do runs f on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		f()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

// AfterFunc arranges for f to run on the loop after d. The returned stop
// function cancels it; it reports whether the call prevented f from running.
// Cancellation is re-checked on the loop, so f never runs after stop returns.
func (l *Loop) AfterFunc(d time.Duration, f func()) (stop func() bool) {
	var state atomic.Int32 // 0 pending, 1 fired, 2 cancelled
	t := time.AfterFunc(d, func() {
		l.Post(func() {
			if state.CompareAndSwap(0, 1) {
				f()
			}
		})
	})
	return func() bool {
		t.Stop()
		return state.CompareAndSwap(0, 2)
	}
}

// Close stops the loop after the task currently running. Queued tasks are dropped.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.quit) })
	<-l.done
}
