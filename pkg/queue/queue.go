package queue

import (
	"context"
	"errors"
)

// ErrQueueFull is returned by Enqueue when the buffer has no room left.
var ErrQueueFull = errors.New("queue is full")

// Queue is a bounded FIFO of items handed from producers to a worker.
type Queue[T any] interface {
	// Enqueue adds an item without blocking.
	Enqueue(item T) error
	// Dequeue blocks until an item is available or ctx is done.
	Dequeue(ctx context.Context) (T, error)
	// C exposes the receive side for use in a select loop.
	C() <-chan T
	Size() int
	ReadAllMessages() []T
	ClearQueue()
}
