package alert

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/safescope/monitor/internal/monitor"
	"github.com/safescope/monitor/internal/telemetry"
)

// Sender delivers one alert message.
type Sender interface {
	Send(ctx context.Context, msg monitor.AlertMessage) error
}

// Worker consumes queued alert messages and delivers them off the request
// path. Delivery failures are logged and counted, never propagated: alerting
// is a best-effort side channel.
type Worker struct {
	queue  monitor.AlertQueue
	sender Sender
	logger *zap.Logger
}

// NewWorker constructs a Worker.
func NewWorker(queue monitor.AlertQueue, sender Sender, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:  queue,
		sender: sender,
		logger: logger,
	}
}

// Run blocks, consuming alert messages until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		msg, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("alert dequeue failed", zap.Error(err))
			continue
		}
		w.deliver(ctx, msg)
	}
}

func (w *Worker) deliver(ctx context.Context, msg monitor.AlertMessage) {
	if w.sender == nil {
		w.logger.Warn("no alert sender configured, dropping message",
			zap.String("visit_id", msg.Visit.ID),
		)
		telemetry.ObserveAlertDispatch("dropped")
		return
	}
	if err := w.sender.Send(ctx, msg); err != nil {
		w.logger.Error("alert delivery failed",
			zap.String("visit_id", msg.Visit.ID),
			zap.String("parent", msg.Visit.ParentEmail),
			zap.Error(err),
		)
		telemetry.ObserveAlertDispatch("failed")
		return
	}
	telemetry.ObserveAlertDispatch("sent")
}

// Pool fans out queue consumption to a fixed set of workers.
type Pool struct {
	workers []*Worker
}

// NewPool creates size workers over the same queue and sender.
func NewPool(size int, queue monitor.AlertQueue, sender Sender, logger *zap.Logger) *Pool {
	workers := make([]*Worker, 0, size)
	for i := 0; i < size; i++ {
		var wl *zap.Logger
		if logger != nil {
			wl = logger.With(zap.Int("index", i))
		}
		workers = append(workers, NewWorker(queue, sender, wl))
	}
	return &Pool{workers: workers}
}

// Run starts all workers and blocks until the context finishes.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(wk *Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}
