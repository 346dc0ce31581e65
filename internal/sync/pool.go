package sync

import stdsync "sync"

// Task is a unit of work scheduled onto a Pool.
type Task func()

// Pool is an unordered worker pool: Schedule enqueues a task onto a
// blocking queue, and N long-lived workers pop and run tasks in
// whatever order they are popped (spec.md §4.1). Multiplexer uses one
// to run ready-descriptor callbacks off its own polling goroutine.
// Registry event handlers do not run on a Pool; the registry calls
// them inline.
type Pool struct {
	queue   *Queue[Task]
	wg      stdsync.WaitGroup
	started bool
}

// NewPool starts a Pool with n workers.
func NewPool(n int) *Pool {
	p := &Pool{queue: NewQueue[Task]()}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	p.started = true
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		t, err := p.queue.Pop()
		if err != nil {
			return
		}
		t()
	}
}

// Schedule enqueues f to run on the next available worker. It is a
// no-op (the task is silently dropped) once the pool has been
// destroyed.
func (p *Pool) Schedule(f Task) {
	_ = p.queue.Push(f)
}

// Close destroys the task queue, drains any still-queued tasks on the
// calling goroutine (matching the source's "drain in the caller
// before worker join" contract), and waits for every worker to exit.
func (p *Pool) Close() {
	remaining := p.queue.Destroy()
	for _, t := range remaining {
		t()
	}
	p.wg.Wait()
}
