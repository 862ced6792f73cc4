// Package dispatcher admits jobs into the bounded queue and fans them out to
// a fixed pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
)

// Runner consumes jobs until its context ends or the queue closes.
type Runner interface {
	Run(ctx context.Context)
}

// Config controls admission.
type Config struct {
	// AdmissionTimeout is how long Submit waits for queue space before
	// rejecting the job. Zero rejects at once when the queue is full.
	AdmissionTimeout time.Duration
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   collector.Queue
	workers []Runner
	ids     collector.IDGenerator
	clock   collector.Clock
	cfg     Config
	metrics collector.Metrics
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(
	queue collector.Queue,
	workers []Runner,
	ids collector.IDGenerator,
	clock collector.Clock,
	cfg Config,
	metrics collector.Metrics,
	logger *zap.Logger,
) *Dispatcher {
	if metrics == nil {
		metrics = collector.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		ids:     ids,
		clock:   clock,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Runner) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit assigns an ID when job has none and enqueues it. It returns as soon
// as the job is queued; ErrQueueFull means the pool is saturated.
func (d *Dispatcher) Submit(ctx context.Context, job collector.JobRequest) (collector.JobRequest, error) {
	if job.JobID == "" {
		id, err := d.ids.NewID()
		if err != nil {
			return job, fmt.Errorf("assign job id: %w", err)
		}
		job.JobID = id
	}
	if job.Submitted.IsZero() && d.clock != nil {
		job.Submitted = d.clock.Now()
	}

	admitCtx, cancel := d.admissionContext(ctx)
	defer cancel()
	if err := d.queue.Enqueue(admitCtx, job); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			d.logger.Warn("job rejected, queue full", zap.String("job_id", job.JobID))
			return job, collector.ErrQueueFull
		}
		return job, fmt.Errorf("queue enqueue: %w", err)
	}
	d.logger.Debug("job queued", zap.String("job_id", job.JobID))
	return job, nil
}

func (d *Dispatcher) admissionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.AdmissionTimeout > 0 {
		return context.WithTimeout(ctx, d.cfg.AdmissionTimeout)
	}
	// Queues try a free slot before looking at the deadline.
	return context.WithDeadline(ctx, time.Time{})
}
