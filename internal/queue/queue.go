package queue

import "sync"

// Queue is an unbounded FIFO with any number of producers and a single
// consumer. Push never blocks.
type Queue[T any] struct {
	mu     *sync.Mutex
	items  []T
	signal chan struct{}
	closed bool
}

func New[T any]() *Queue[T] {
	return &Queue[T]{
		mu:     &sync.Mutex{},
		signal: make(chan struct{}, 1),
	}
}

// Push appends v. It reports false once the queue is closed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	q.wake()
	return true
}

// Pop blocks until an item is available. Items pushed before Close are still
// returned, after that it reports false.
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return v, true
		}
		if q.closed {
			q.mu.Unlock()
			return zero, false
		}
		q.mu.Unlock()

		<-q.signal
	}
}

func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.wake()
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
