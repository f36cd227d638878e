// Package queue is the fifo dispatch queue between intake and the workers.
package queue

import (
	"sync"

	"github.com/AlfredBerg/rod-runner/internal/job"
)

// Queue is a fifo job queue safe for concurrent producers and consumers.
// Unbounded unless a max depth is given.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*job.Job
	max    int
	closed bool
}

// New creates a queue. max <= 0 means no depth limit.
func New(max int) *Queue {
	q := &Queue{max: max}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends a job. It never blocks; a bounded queue at depth returns a
// queue_full error instead.
func (q *Queue) Push(j *job.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return job.NewError(job.KindInternal, "queue is closed")
	}
	if q.max > 0 && len(q.items) >= q.max {
		return job.Newf(job.KindQueueFull, "queue is at its maximum depth of %d", q.max)
	}
	q.items = append(q.items, j)
	q.cond.Signal()
	return nil
}

// Pop blocks until a job is available or the queue is closed and drained.
// The second return is false only when no more jobs will ever come.
func (q *Queue) Pop() (*job.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	j := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return j, true
}

// Close stops intake; queued jobs are still handed out until drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len is the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
