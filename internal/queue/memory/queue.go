// Package memory provides a bounded in-memory alert queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/safescope/monitor/internal/monitor"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan monitor.AlertMessage
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan monitor.AlertMessage, capacity),
	}
}

// Enqueue pushes an alert message or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, msg monitor.AlertMessage) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- msg:
		return nil
	}
}

// Dequeue pops the next alert message, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (monitor.AlertMessage, error) {
	select {
	case <-ctx.Done():
		return monitor.AlertMessage{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case msg, ok := <-q.ch:
		if !ok {
			return monitor.AlertMessage{}, errors.New("queue closed")
		}
		return msg, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}

// Len reports the number of queued messages.
func (q *Queue) Len() int {
	return len(q.ch)
}
