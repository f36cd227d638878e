// Package store keeps job state and results until they are retrieved or
// aged out.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AlfredBerg/rod-runner/internal/job"
)

// Store is the in-memory result store. Reads race with worker writes, so the
// whole map sits behind one RWMutex and Get hands out copies.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job

	maxCompleted int
	retention    time.Duration

	log *zap.Logger
}

// New creates a store. maxCompleted bounds how many terminal jobs are kept
// (<= 0 for no bound); retention bounds how long (0 for no age limit).
func New(maxCompleted int, retention time.Duration, log *zap.Logger) *Store {
	return &Store{
		jobs:         make(map[string]*job.Job),
		maxCompleted: maxCompleted,
		retention:    retention,
		log:          log,
	}
}

// Put registers a freshly submitted job.
func (s *Store) Put(j *job.Job) {
	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()
}

// Get returns a copy of the job, or a not_found error.
func (s *Store) Get(id string) (job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return job.Job{}, job.Newf(job.KindNotFound, "unknown job id %q", id)
	}
	return *j, nil
}

// Update applies fn to the stored job under the write lock. Workers use this
// for state transitions so readers never see a half-written job.
func (s *Store) Update(id string, fn func(*job.Job) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return job.Newf(job.KindNotFound, "unknown job id %q", id)
	}
	return fn(j)
}

// Delete removes a job outright. Intake uses it to roll back a submission
// the queue rejected.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
}

// Len is the number of jobs currently held, any state.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Sweep evicts terminal jobs that aged past retention, then trims the
// completed set down to maxCompleted, oldest completion first. Queued and
// running jobs are never touched.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completed []*job.Job
	for _, j := range s.jobs {
		if j.State.Terminal() {
			completed = append(completed, j)
		}
	}
	sort.Slice(completed, func(i, k int) bool {
		return completed[i].CompletedAt.Before(*completed[k].CompletedAt)
	})

	evicted := 0
	if s.retention > 0 {
		cutoff := now.Add(-s.retention)
		for len(completed) > 0 && completed[0].CompletedAt.Before(cutoff) {
			delete(s.jobs, completed[0].ID)
			completed = completed[1:]
			evicted++
		}
	}
	if s.maxCompleted > 0 {
		for len(completed) > s.maxCompleted {
			delete(s.jobs, completed[0].ID)
			completed = completed[1:]
			evicted++
		}
	}
	return evicted
}

// Janitor sweeps on the given interval until ctx is done.
func (s *Store) Janitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Sweep(now); n > 0 {
				s.log.Info("evicted old job results", zap.Int("count", n))
			}
		}
	}
}
