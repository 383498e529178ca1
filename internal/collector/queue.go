package collector

import (
	"context"
	"sync"

	"footprint/internal/market"
)

// Queue is an unbounded FIFO between producers that must never block and a
// consumer that waits. Close wakes every waiting consumer.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	notify chan struct{}
	done   chan struct{}
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends v. It fails only after Close.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return market.ErrClosed
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// PopBatch waits for at least one item and returns up to limit of them in FIFO
// order. Items pushed before Close are still delivered; after that it returns
// ErrClosed.
func (q *Queue[T]) PopBatch(ctx context.Context, limit int) ([]T, error) {
	for {
		q.mu.Lock()
		if n := len(q.items); n > 0 {
			if limit > 0 && n > limit {
				n = limit
			}
			out := make([]T, n)
			copy(out, q.items)
			var zero T
			for i := 0; i < n; i++ {
				q.items[i] = zero
			}
			q.items = q.items[n:]
			q.mu.Unlock()
			return out, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, market.ErrClosed
		}

		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Pop returns the oldest item.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	items, err := q.PopBatch(ctx, 1)
	if err != nil {
		var zero T
		return zero, err
	}
	return items[0], nil
}

func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
