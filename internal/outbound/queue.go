package outbound

import (
	"sync"
	"time"

	"github.com/matheus3301/yarning/internal/wire"
)

// DefaultLimit caps the buffer when no limit is given.
const DefaultLimit = 1024

// Op is one buffered client operation.
type Op struct {
	Envelope *wire.Envelope
	QueuedAt time.Time
}

// Queue buffers operations emitted while the channel is not authenticated.
// It is strictly FIFO; when full the oldest entry is dropped.
type Queue struct {
	mu      sync.Mutex
	items   []Op
	limit   int
	dropped int
}

// New creates a queue holding at most limit operations. limit <= 0 uses DefaultLimit.
func New(limit int) *Queue {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Queue{limit: limit}
}

// Push appends env. It reports the operation dropped to make room, if any.
func (q *Queue) Push(env *wire.Envelope) (Op, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var evicted Op
	var dropped bool
	if len(q.items) >= q.limit {
		evicted = q.items[0]
		q.items = q.items[1:]
		q.dropped++
		dropped = true
	}
	q.items = append(q.items, Op{Envelope: env, QueuedAt: time.Now()})
	return evicted, dropped
}

// Drain removes and returns every buffered operation in enqueue order.
func (q *Queue) Drain() []Op {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Requeue puts ops back at the head of the queue, ahead of anything pushed
// since they were drained. Used when a flush is interrupted by a write error.
func (q *Queue) Requeue(ops []Op) {
	if len(ops) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]Op, 0, len(ops)+len(q.items))
	merged = append(merged, ops...)
	merged = append(merged, q.items...)
	if over := len(merged) - q.limit; over > 0 {
		merged = merged[over:]
		q.dropped += over
	}
	q.items = merged
}

// Len returns the number of buffered operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many operations were evicted since creation.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
