package sync

import (
	stdsync "sync"
	"time"
)

// ReadyChecker reports whether fd currently has data available to
// read, without blocking past the given timeout. Production transports
// back this with select(2)/poll(2); tests can fake it freely. It is
// injected so Multiplexer stays free of any particular socket API.
type ReadyChecker func(fds []int, timeout time.Duration) (ready []int, err error)

// Multiplexer maps file descriptors to callbacks and dispatches each
// ready fd's callback exactly once per readiness event, either inline
// or on an unordered Pool (spec.md §4.1). It guards against a given fd
// having two concurrent dispatches in flight — the source's "fd in
// use" set — which can happen if a callback is still running on the
// pool when the fd becomes ready again.
type Multiplexer struct {
	check ReadyChecker
	pool  *Pool

	mu      stdsync.Mutex
	cbs     map[int]func()
	inUse   map[int]struct{}
	stop    chan struct{}
	stopped bool
	done    chan struct{}
}

// NewMultiplexer starts a Multiplexer that polls with check at a
// roughly 1-second cadence (spec.md §4.1) and dispatches ready-fd
// callbacks onto pool.
func NewMultiplexer(check ReadyChecker, pool *Pool) *Multiplexer {
	m := &Multiplexer{
		check: check,
		pool:  pool,
		cbs:   make(map[int]func()),
		inUse: make(map[int]struct{}),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go m.loop()
	return m
}

// Add registers cb to be invoked, with no argument, each time fd
// becomes read-ready; the callback is expected to perform its own
// read(2) against the transport it was registered for. Add and Remove
// mutate the watch set under a lock, matching the source.
func (m *Multiplexer) Add(fd int, cb func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cbs[fd] = cb
}

// Remove unregisters fd. It does not cancel a dispatch already in
// flight for fd.
func (m *Multiplexer) Remove(fd int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cbs, fd)
}

func (m *Multiplexer) loop() {
	defer close(m.done)
	const pollInterval = time.Second
	for {
		select {
		case <-m.stop:
			return
		default:
		}

		fds := m.watchedFDs()
		if len(fds) > 0 {
			ready, err := m.check(fds, pollInterval)
			if err == nil {
				for _, fd := range ready {
					m.dispatch(fd)
				}
				continue
			}
		}
		select {
		case <-m.stop:
			return
		case <-time.After(pollInterval):
		}
	}
}

func (m *Multiplexer) watchedFDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	fds := make([]int, 0, len(m.cbs))
	for fd := range m.cbs {
		fds = append(fds, fd)
	}
	return fds
}

// dispatch schedules fd's callback exactly once, skipping it entirely
// if a previous dispatch for the same fd is still running.
func (m *Multiplexer) dispatch(fd int) {
	m.mu.Lock()
	cb, ok := m.cbs[fd]
	if !ok {
		m.mu.Unlock()
		return
	}
	if _, busy := m.inUse[fd]; busy {
		m.mu.Unlock()
		return
	}
	m.inUse[fd] = struct{}{}
	m.mu.Unlock()

	run := func() {
		defer func() {
			m.mu.Lock()
			delete(m.inUse, fd)
			m.mu.Unlock()
		}()
		cb()
	}
	if m.pool != nil {
		m.pool.Schedule(run)
	} else {
		run()
	}
}

// Close stops the polling goroutine and waits for it to exit. It does
// not wait for in-flight dispatches.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()
	close(m.stop)
	<-m.done
}
