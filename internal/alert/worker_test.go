package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/safescope/monitor/internal/monitor"
	queuememory "github.com/safescope/monitor/internal/queue/memory"
)

type fakeSender struct {
	mu        sync.Mutex
	delivered []monitor.AlertMessage
	errOnce   error
	notify    chan struct{}
}

func newFakeSender() *fakeSender {
	return &fakeSender{notify: make(chan struct{}, 16)}
}

func (s *fakeSender) Send(_ context.Context, msg monitor.AlertMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.notify <- struct{}{} }()
	if s.errOnce != nil {
		err := s.errOnce
		s.errOnce = nil
		return err
	}
	s.delivered = append(s.delivered, msg)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

func waitForDeliveries(t *testing.T, s *fakeSender, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %d of %d", i+1, n)
		}
	}
}

func TestWorkerDeliversQueuedMessages(t *testing.T) {
	t.Parallel()

	queue := queuememory.NewQueue(4)
	sender := newFakeSender()
	worker := NewWorker(queue, sender, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	msg := monitor.AlertMessage{Visit: riskyVisit()}
	require.NoError(t, queue.Enqueue(ctx, msg))
	require.NoError(t, queue.Enqueue(ctx, msg))

	waitForDeliveries(t, sender, 2)
	require.Equal(t, 2, sender.count())
}

func TestWorkerContinuesAfterDeliveryFailure(t *testing.T) {
	t.Parallel()

	queue := queuememory.NewQueue(4)
	sender := newFakeSender()
	sender.errOnce = errors.New("smtp unavailable")
	worker := NewWorker(queue, sender, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	msg := monitor.AlertMessage{Visit: riskyVisit()}
	require.NoError(t, queue.Enqueue(ctx, msg))
	require.NoError(t, queue.Enqueue(ctx, msg))

	waitForDeliveries(t, sender, 2)
	// the first attempt failed, the second landed
	require.Equal(t, 1, sender.count())
}

func TestWorkerStopsWhenContextEnds(t *testing.T) {
	t.Parallel()

	queue := queuememory.NewQueue(1)
	worker := NewWorker(queue, newFakeSender(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
}

func TestPoolFansOutAcrossWorkers(t *testing.T) {
	t.Parallel()

	queue := queuememory.NewQueue(16)
	sender := newFakeSender()
	pool := NewPool(3, queue, sender, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go pool.Run(ctx)

	msg := monitor.AlertMessage{Visit: riskyVisit()}
	for i := 0; i < 6; i++ {
		require.NoError(t, queue.Enqueue(ctx, msg))
	}

	waitForDeliveries(t, sender, 6)
	require.Equal(t, 6, sender.count())

	cancel()
}
