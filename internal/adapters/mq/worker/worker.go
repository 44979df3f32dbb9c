// Package worker drains play events from the queue into the play counter.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/okian/chartsnap/internal/adapters/mq/queue"
	"github.com/okian/chartsnap/pkg/logger"
	"github.com/okian/chartsnap/pkg/metrics"
)

const poolShutdownTimeout = 30 * time.Second

// Event is what workers read off the queue.
type Event = queue.Event

// Incrementer applies plays to a counter.
type Incrementer interface {
	Increment(ctx context.Context, itemID string, delta int64) (int64, error)
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue() <-chan Event
}

// Worker processes events until its queue is closed or ctx is done.
type Worker struct {
	queue   Queue
	counter Incrementer
	name    string

	processed atomic.Int64
	failed    atomic.Int64

	logger logger.Logger
}

// NewWorker creates a worker.
func NewWorker(q Queue, counter Incrementer, opts ...Option) *Worker {
	w := &Worker{
		queue:   q,
		counter: counter,
		name:    "worker",
		logger:  logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run consumes events. It returns when the queue channel is closed and
// drained, or when ctx is done.
func (w *Worker) Run(ctx context.Context) {
	events := w.queue.Dequeue()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			metrics.RecordQueueDequeue()
			if err := w.process(ctx, event); err != nil {
				w.failed.Add(1)
				w.logger.Error(ctx, "error processing play", logger.Error(err))
				continue
			}
			w.processed.Add(1)
		}
	}
}

// Processed returns how many events were applied.
func (w *Worker) Processed() int64 { return w.processed.Load() }

// Failed returns how many events could not be applied.
func (w *Worker) Failed() int64 { return w.failed.Load() }

func (w *Worker) process(ctx context.Context, e Event) error {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	n := e.Count
	if n <= 0 {
		n = 1
	}
	if _, err := w.counter.Increment(ctx, e.ItemID, n); err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "increment_error")
		metrics.RecordPlay("rejected")
		return fmt.Errorf("apply play %s for %s: %w", e.EventID, e.ItemID, err)
	}
	metrics.RecordPlay("applied")
	return nil
}

// Pool runs a fixed set of workers over one queue.
type Pool struct {
	workers []*Worker
	wg      conc.WaitGroup
	cancel  context.CancelFunc
	logger  logger.Logger
}

// NewPool creates workerCount workers. A non-positive count uses NumCPU.
func NewPool(workerCount int, q Queue, counter Incrementer) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}
	p := &Pool{
		workers: make([]*Worker, workerCount),
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range workerCount {
		p.workers[i] = NewWorker(q, counter, WithName("worker-"+strconv.Itoa(i)))
	}
	return p
}

// Start launches every worker. Workers stop when ctx is done or the queue
// is closed and drained.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for _, w := range p.workers {
		p.wg.Go(func() { w.Run(ctx) })
	}
	metrics.UpdateWorkerActiveCount(len(p.workers))
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Processed sums applied events across workers.
func (p *Pool) Processed() int64 {
	var n int64
	for _, w := range p.workers {
		n += w.Processed()
	}
	return n
}

// Shutdown waits for the workers to drain a closed queue. When ctx expires
// first the workers are cancelled and the remaining events are dropped.
func (p *Pool) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn(ctx, "worker pool shutdown timed out, dropping queued plays")
		err = fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
	if p.cancel != nil {
		p.cancel()
	}
	<-done
	metrics.UpdateWorkerActiveCount(0)
	return err
}
