// Package dispatch drains the queue with a fixed pool of workers.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/AlfredBerg/rod-runner/internal/job"
	"github.com/AlfredBerg/rod-runner/internal/metrics"
	"github.com/AlfredBerg/rod-runner/internal/queue"
	"github.com/AlfredBerg/rod-runner/internal/sandbox"
	"github.com/AlfredBerg/rod-runner/internal/store"
)

// Dispatcher owns jobs from dequeue to their terminal state. Each worker is
// one execution slot; the worker count is the only concurrency knob.
type Dispatcher struct {
	queue   *queue.Queue
	store   *store.Store
	exec    sandbox.Executor
	workers int
	metrics *metrics.Metrics
	log     *zap.Logger

	running atomic.Int64
	wg      sync.WaitGroup
}

func New(q *queue.Queue, st *store.Store, exec sandbox.Executor, workers int, m *metrics.Metrics, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		queue:   q,
		store:   st,
		exec:    exec,
		workers: workers,
		metrics: m,
		log:     log,
	}
}

// Start launches the worker pool. ctx cancels in-flight executions on
// shutdown.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func(worker int) {
			defer d.wg.Done()
			log := d.log.With(zap.Int("worker", worker))
			log.Info("worker started")
			for {
				j, ok := d.queue.Pop()
				if !ok {
					break
				}
				d.metrics.JobsQueued.Set(float64(d.queue.Len()))
				d.run(ctx, j, log)
			}
			log.Info("worker stopped")
		}(i)
	}
	d.log.Info("dispatcher started", zap.Int("workers", d.workers))
}

// Stop closes the queue, lets the workers drain what is already queued and
// waits for them to exit.
func (d *Dispatcher) Stop() {
	d.queue.Close()
	d.wg.Wait()
}

// Running is the number of jobs currently executing.
func (d *Dispatcher) Running() int {
	return int(d.running.Load())
}

// run drives one job through Running to a terminal state. A failure here is
// recorded on the job and never stops the worker loop.
func (d *Dispatcher) run(ctx context.Context, j *job.Job, log *zap.Logger) {
	if err := d.store.Update(j.ID, func(stored *job.Job) error {
		return stored.Transition(job.StateRunning)
	}); err != nil {
		log.Error("failed marking job running", zap.String("job_id", j.ID), zap.Error(err))
		return
	}

	d.running.Add(1)
	d.metrics.JobsRunning.Inc()
	log.Info("job started", zap.String("job_id", j.ID), zap.String("name", j.Name))

	res, execErr := d.exec.Execute(ctx, j)

	d.running.Add(-1)
	d.metrics.JobsRunning.Dec()

	if err := d.store.Update(j.ID, func(stored *job.Job) error {
		if execErr != nil {
			if e := stored.Transition(job.StateFailed); e != nil {
				return e
			}
			stored.Err = asJobError(execErr)
			return nil
		}
		if e := stored.Transition(job.StateSucceeded); e != nil {
			return e
		}
		stored.Output = res.Output
		stored.FinalURL = res.FinalURL
		stored.Title = res.Title
		return nil
	}); err != nil {
		log.Error("failed finishing job", zap.String("job_id", j.ID), zap.Error(err))
		return
	}

	if execErr != nil {
		d.metrics.JobsFailed.WithLabelValues(string(job.KindOf(execErr))).Inc()
		log.Warn("job failed",
			zap.String("job_id", j.ID),
			zap.String("name", j.Name),
			zap.Duration("duration", j.Duration()),
			zap.Error(execErr),
		)
		return
	}
	d.metrics.JobsSucceeded.Inc()
	d.metrics.JobDuration.Observe(j.Duration().Seconds())
	log.Info("job succeeded",
		zap.String("job_id", j.ID),
		zap.String("name", j.Name),
		zap.Duration("duration", j.Duration()),
	)
}

func asJobError(err error) *job.Error {
	if e, ok := err.(*job.Error); ok {
		return e
	}
	return job.Wrap(job.KindExecution, err)
}
