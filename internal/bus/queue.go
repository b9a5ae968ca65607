package bus

import (
	"context"
	"sync"

	"fincontrol/pkg/exception"
)

// queue is a bounded, non-blocking per-subscriber message queue.
type queue struct {
	mu     sync.Mutex
	ch     chan Message
	closed bool
}

func newQueue(capacity int) *queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &queue{ch: make(chan Message, capacity)}
}

// tryPush enqueues a message without blocking. The lock orders pushes against
// close; a push never reaches a closed channel.
func (q *queue) tryPush(m Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return exception.ErrBusClosed
	}
	select {
	case q.ch <- m:
		return nil
	default:
		return exception.ErrBusQueueFull
	}
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// run consumes messages until the context is done or the queue is closed.
func (q *queue) run(ctx context.Context, handle func(Message)) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-q.ch:
			if !ok {
				return
			}
			handle(m)
		}
	}
}
