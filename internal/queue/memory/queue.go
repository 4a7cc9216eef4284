// Package memory provides the bounded in-memory target queue shared by
// pull-based worker slots.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/webshot/internal/capture"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained, and
// by Enqueue after Close.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan capture.Target
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan capture.Target, capacity),
	}
}

// Enqueue pushes a target or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, target capture.Target) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- target:
		return nil
	}
}

// Dequeue pops the next target, respecting context cancellation. Buffered
// targets are still returned after Close.
func (q *Queue) Dequeue(ctx context.Context) (capture.Target, error) {
	select {
	case <-ctx.Done():
		return capture.Target{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case target, ok := <-q.ch:
		if !ok {
			return capture.Target{}, ErrClosed
		}
		return target, nil
	}
}

// Close closes the underlying channel. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
