// Package intake validates submissions and hands them to the dispatch queue.
package intake

import (
	"go.uber.org/zap"

	"github.com/AlfredBerg/rod-runner/internal/job"
	"github.com/AlfredBerg/rod-runner/internal/metrics"
	"github.com/AlfredBerg/rod-runner/internal/queue"
	"github.com/AlfredBerg/rod-runner/internal/store"
)

// DefaultMaxScriptSize caps submitted payloads at 1 MiB.
const DefaultMaxScriptSize = 1 << 20

type Intake struct {
	store         *store.Store
	queue         *queue.Queue
	maxScriptSize int
	metrics       *metrics.Metrics
	log           *zap.Logger
}

func New(st *store.Store, q *queue.Queue, maxScriptSize int, m *metrics.Metrics, log *zap.Logger) *Intake {
	if maxScriptSize <= 0 {
		maxScriptSize = DefaultMaxScriptSize
	}
	return &Intake{store: st, queue: q, maxScriptSize: maxScriptSize, metrics: m, log: log}
}

// Submit validates the payload, creates a queued job and enqueues it. It
// returns the job id without waiting for execution. Safe for concurrent
// callers. Names are labels, not keys: two submissions with the same name
// are independent jobs.
func (i *Intake) Submit(name string, script []byte, target string) (string, error) {
	if name == "" {
		return "", job.NewError(job.KindValidation, "job name must not be empty")
	}
	if len(script) == 0 {
		return "", job.NewError(job.KindValidation, "script payload must not be empty")
	}
	if len(script) > i.maxScriptSize {
		return "", job.Newf(job.KindValidation, "script payload of %d bytes exceeds the %d byte limit", len(script), i.maxScriptSize)
	}

	j := job.New(name, string(script), target)
	i.store.Put(j)
	if err := i.queue.Push(j); err != nil {
		// The job never made it onto the queue, so it must not be
		// queryable either.
		i.store.Delete(j.ID)
		return "", err
	}

	i.metrics.JobsSubmitted.Inc()
	i.metrics.JobsQueued.Set(float64(i.queue.Len()))
	i.log.Info("job queued",
		zap.String("job_id", j.ID),
		zap.String("name", name),
		zap.Int("script_bytes", len(script)),
	)
	return j.ID, nil
}
