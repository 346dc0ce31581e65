package sync

import stdsync "sync"

// Semaphore is a standard counting semaphore.
type Semaphore struct {
	mu    stdsync.Mutex
	cond  *stdsync.Cond
	count int
}

// NewSemaphore returns a Semaphore initialized to n.
func NewSemaphore(n int) *Semaphore {
	s := &Semaphore{count: n}
	s.cond = stdsync.NewCond(&s.mu)
	return s
}

// Notify increments the count and wakes one waiter.
func (s *Semaphore) Notify() {
	s.mu.Lock()
	s.count++
	s.cond.Signal()
	s.mu.Unlock()
}

// Wait blocks until the count is positive, then decrements it.
func (s *Semaphore) Wait() {
	s.mu.Lock()
	for s.count == 0 {
		s.cond.Wait()
	}
	s.count--
	s.mu.Unlock()
}

// TryWait decrements the count and returns true if it was positive,
// or returns false immediately without blocking.
func (s *Semaphore) TryWait() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return false
	}
	s.count--
	return true
}
