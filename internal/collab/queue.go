package collab

import (
	"sync"

	"github.com/soa-bra/glass-project-flow-sub021/internal/engine"
)

// command is a unit of work run on the session loop. The result is sent on
// reply, which is buffered so the loop never blocks on a caller that gave up.
type command struct {
	run   func() (engine.Event, error)
	reply chan commandReply
}

type commandReply struct {
	ev  engine.Event
	err error
}

// commandQueue is a thread-safe FIFO of commands.
//
// Submissions arrive from any goroutine while the session's Run loop
// dequeues. The signal channel lets the loop wait with select alongside
// the transport and its tickers.
type commandQueue struct {
	mu     sync.Mutex
	items  []command
	closed bool
	signal chan struct{} // buffered, size 1
}

func newCommandQueue() *commandQueue {
	return &commandQueue{
		items:  make([]command, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a command. Returns false if the queue is closed.
func (q *commandQueue) Enqueue(c command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, c)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front command without blocking.
func (q *commandQueue) TryDequeue() (command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return command{}, false
	}
	c := q.items[0]
	q.items[0] = command{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return c, true
}

// Wait returns a channel that signals when commands may be available.
func (q *commandQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued commands.
func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further commands and returns the ones still queued.
func (q *commandQueue) Close() []command {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	rest := q.items
	q.items = nil
	return rest
}
