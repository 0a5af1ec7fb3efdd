// Package worker runs tasks on a fixed set of goroutines. Tasks submitted
// under the same key always land on the same worker, so they execute one at
// a time and in submission order.
package worker

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"go.uber.org/zap"
)

var (
	ErrClosed    = errors.New("worker pool closed")
	ErrQueueFull = errors.New("worker queue full")
)

// Task is a unit of work.
type Task func()

// Pool is a set of workers, each draining its own FIFO.
type Pool struct {
	workers []*worker
	wg      sync.WaitGroup
	closed  atomic.Bool
	log     *zap.Logger

	submitted atomic.Int64
	completed atomic.Int64
}

type worker struct {
	id         int
	mu         sync.Mutex
	cond       *sync.Cond
	tasks      *queue.Queue
	maxPending int
	stopping   bool
}

// NewPool starts size workers. size <= 0 defaults to runtime.NumCPU();
// maxPending <= 0 leaves each worker's queue unbounded.
func NewPool(size, maxPending int, log *zap.Logger) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p := &Pool{
		workers: make([]*worker, size),
		log:     log,
	}
	for i := range p.workers {
		w := &worker{id: i, tasks: queue.New(), maxPending: maxPending}
		w.cond = sync.NewCond(&w.mu)
		p.workers[i] = w
		p.wg.Add(1)
		go p.run(w)
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Submit queues task on the worker that owns key.
func (p *Pool) Submit(key uint64, task Task) error {
	return p.submit(key, task, true)
}

// SubmitUnbounded is Submit without the pending limit. Reserved for tasks
// that must not be dropped, such as connection teardown.
func (p *Pool) SubmitUnbounded(key uint64, task Task) error {
	return p.submit(key, task, false)
}

func (p *Pool) submit(key uint64, task Task, bounded bool) error {
	if p.closed.Load() {
		return ErrClosed
	}
	w := p.workers[key%uint64(len(p.workers))]

	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		return ErrClosed
	}
	if bounded && w.maxPending > 0 && w.tasks.Length() >= w.maxPending {
		w.mu.Unlock()
		return ErrQueueFull
	}
	w.tasks.Add(task)
	w.mu.Unlock()
	w.cond.Signal()

	p.submitted.Add(1)
	return nil
}

// Pending returns the number of queued tasks not yet finished.
func (p *Pool) Pending() int64 {
	return p.submitted.Load() - p.completed.Load()
}

// Close stops accepting tasks, lets every worker drain its queue and waits
// for them to exit.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	for _, w := range p.workers {
		w.mu.Lock()
		w.stopping = true
		w.mu.Unlock()
		w.cond.Broadcast()
	}
	p.wg.Wait()
}

func (p *Pool) run(w *worker) {
	defer p.wg.Done()
	for {
		w.mu.Lock()
		for w.tasks.Length() == 0 && !w.stopping {
			w.cond.Wait()
		}
		if w.tasks.Length() == 0 {
			w.mu.Unlock()
			return
		}
		task := w.tasks.Remove().(Task)
		w.mu.Unlock()

		p.execute(w, task)
	}
}

// execute runs one task with panic recovery so a bad task cannot kill the
// worker and stall every connection pinned to it.
func (p *Pool) execute(w *worker, task Task) {
	defer func() {
		p.completed.Add(1)
		if rec := recover(); rec != nil {
			p.log.Error("worker task panic recovered",
				zap.Int("worker", w.id),
				zap.Any("panic", rec),
			)
		}
	}()
	task()
}
