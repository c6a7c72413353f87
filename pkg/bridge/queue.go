package bridge

import (
	"sync"
	"sync/atomic"
)

// Item is one tagged sample awaiting persistence: the topic it arrived on
// and the document to insert.
type Item struct {
	Topic string
	ID    string
	Doc   map[string]any
}

// Queue is the FIFO hand-off between the broker callback and the drain
// loop. Both sides mutate it, so every access goes through the mutex.
//
// The queue is bounded; when full the oldest entry is dropped to make
// room. The producer is a broker callback that must never block, and the
// newest samples are worth more than the oldest unpersisted backlog.
type Queue struct {
	mu       sync.Mutex
	items    []Item
	capacity int
	dropped  atomic.Uint64
}

// DefaultQueueCapacity bounds the hand-off queue when the configuration
// does not say otherwise.
const DefaultQueueCapacity = 10000

// NewQueue creates a queue holding at most capacity entries. A capacity
// of zero or less falls back to DefaultQueueCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{capacity: capacity}
}

// Enqueue appends an item, evicting the oldest entry when the queue is
// full.
func (q *Queue) Enqueue(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.dropped.Add(1)
	}
	q.items = append(q.items, item)
}

// Dequeue removes and returns the oldest item. The second return value is
// false when the queue is empty.
func (q *Queue) Dequeue() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Item{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many items were evicted by backpressure.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
