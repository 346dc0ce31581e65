package sync

import (
	"errors"
	stdsync "sync"
)

// ErrAlreadyWaiting is returned by Increment once Wait has been
// called: the countdown is single-shot, per spec.md §4.1.
var ErrAlreadyWaiting = errors.New("sync: countdown already waiting")

// Countdown is a single-shot latch that starts at zero. Increment is
// only legal before the first Wait call; Decrement drops the count
// and wakes waiters; Wait blocks until the count reaches zero. It is
// used to quiesce in-flight writers before a transport tears down its
// socket (spec.md §5): write increments before enqueueing, the worker
// decrements on completion, and the destructor waits before closing.
type Countdown struct {
	mu      stdsync.Mutex
	cond    *stdsync.Cond
	count   int
	waiting bool
}

// NewCountdown returns a Countdown starting at zero.
func NewCountdown() *Countdown {
	c := &Countdown{}
	c.cond = stdsync.NewCond(&c.mu)
	return c
}

// Increment adds one to the count. It returns ErrAlreadyWaiting if
// Wait has already been called.
func (c *Countdown) Increment() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiting {
		return ErrAlreadyWaiting
	}
	c.count++
	return nil
}

// Decrement subtracts one from the count and wakes any waiter once
// the count reaches zero.
func (c *Countdown) Decrement() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count > 0 {
		c.count--
	}
	if c.count == 0 {
		c.cond.Broadcast()
	}
}

// Wait blocks until the count reaches zero. It is single-shot: once
// called, subsequent Increment calls fail.
func (c *Countdown) Wait() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waiting = true
	for c.count > 0 {
		c.cond.Wait()
	}
}
