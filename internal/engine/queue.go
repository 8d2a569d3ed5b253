package engine

import (
	"sync"

	"github.com/roach88/accord/internal/op"
)

// taskKind distinguishes inbox task kinds.
type taskKind int

const (
	// taskDeliver carries an incoming operation to admit.
	taskDeliver taskKind = iota + 1
	// taskDecide carries an external decision for an open conflict.
	taskDecide
)

// task is one unit of work for the runner's single-writer loop:
// either an operation delivery or a conflict decision.
type task struct {
	kind        taskKind
	operation   op.Operation
	conflictKey string
	decision    Decision
}

// taskQueue is a thread-safe FIFO inbox for runner tasks.
//
// The queue is unbounded so producers never block on the run loop.
//
// Thread-safety exists for external producers (transports, decision
// surfaces) while the runner's single goroutine dequeues.
//
// A size-1 signal channel enables context-aware waiting in the run
// loop; multiple enqueues coalesce into one wakeup.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []task
	closed bool
	signal chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		tasks:  make([]task, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a task to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *taskQueue) Enqueue(t task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.tasks = append(q.tasks, t)

	// Non-blocking send; the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (task{}, false) if the queue is empty.
func (q *taskQueue) TryDequeue() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return task{}, false
	}

	t := q.tasks[0]

	// Nil out the slot so the backing array does not retain the
	// operation payloads until reallocation.
	q.tasks[0] = task{}

	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}

	return t, true
}

// Wait returns a channel that signals when tasks may be available.
// Use with select alongside ctx.Done(); the channel closes when the
// queue closes, waking all waiters.
func (q *taskQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close signals that no more tasks will be enqueued.
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
