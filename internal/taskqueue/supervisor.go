// Package taskqueue is the fire-and-forget background task supervisor used
// by entity extraction, categorization, and description consolidation. It
// generalizes a ticker-driven claim/execute/fail loop into a bounded
// worker-pool with addressable futures, so a caller can await a specific
// background task with a budget (the MCP orchestrator needs to await the
// previous add_memories item's extraction before starting the next one).
package taskqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Task is a unit of background work. Errors are logged by the supervisor,
// never surfaced to the caller that submitted the task.
type Task func(ctx context.Context) error

// Future is returned by Submit and lets a caller optionally wait for the
// task to finish, bounded by a timeout.
type Future struct {
	done chan struct{}
	err  error
}

// Wait blocks until the task completes or timeout elapses, whichever comes
// first. Returns (err, true) if the task completed, (nil, false) on timeout.
func (f *Future) Wait(ctx context.Context, timeout time.Duration) (error, bool) {
	if f == nil {
		return nil, true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.done:
		return f.err, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return ctx.Err(), false
	}
}

// Supervisor owns a bounded pool of worker goroutines draining a non-blocking
// task queue. Tasks submitted beyond the queue capacity block the submitter
// (back-pressure) instead of fanning out an unbounded goroutine per item.
type Supervisor struct {
	tasks  chan taskEnvelope
	wg     sync.WaitGroup
	name   string
	closed atomic.Bool
	once   sync.Once
}

type taskEnvelope struct {
	task   Task
	future *Future
}

// New starts a supervisor with the given number of workers and queue depth.
func New(name string, workers, queueDepth int) *Supervisor {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = workers
	}
	s := &Supervisor{
		tasks: make(chan taskEnvelope, queueDepth),
		name:  name,
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *Supervisor) worker() {
	defer s.wg.Done()
	for env := range s.tasks {
		s.run(env)
	}
}

func (s *Supervisor) run(env taskEnvelope) {
	ctx := context.Background()
	err := env.task(ctx)
	if err != nil {
		log.Error("taskqueue: background task failed", "pool", s.name, "err", err)
	}
	if env.future != nil {
		env.future.err = err
		close(env.future.done)
	}
}

// Submit enqueues a fire-and-forget task and returns a Future the caller may
// optionally await. Blocks if the queue is full. A no-op after Shutdown.
func (s *Supervisor) Submit(t Task) *Future {
	f := &Future{done: make(chan struct{})}
	if s.closed.Load() {
		close(f.done)
		return f
	}
	s.tasks <- taskEnvelope{task: t, future: f}
	return f
}

// TrySubmit enqueues a task without blocking; returns false if the queue is
// full (the caller should log and drop, never block the request handler).
func (s *Supervisor) TrySubmit(t Task) (*Future, bool) {
	if s.closed.Load() {
		return nil, false
	}
	f := &Future{done: make(chan struct{})}
	select {
	case s.tasks <- taskEnvelope{task: t, future: f}:
		return f, true
	default:
		return nil, false
	}
}

// Shutdown stops accepting new tasks and waits for queued and in-flight
// tasks to drain (or the context to expire, whichever comes first).
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.tasks)
	})
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
