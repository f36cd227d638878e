package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AlfredBerg/rod-runner/internal/job"
	"github.com/AlfredBerg/rod-runner/internal/metrics"
	"github.com/AlfredBerg/rod-runner/internal/queue"
	"github.com/AlfredBerg/rod-runner/internal/sandbox"
	"github.com/AlfredBerg/rod-runner/internal/store"
)

type stubExecutor struct {
	fn func(ctx context.Context, j *job.Job) (*sandbox.Result, error)
}

func (s *stubExecutor) Execute(ctx context.Context, j *job.Job) (*sandbox.Result, error) {
	return s.fn(ctx, j)
}
func (s *stubExecutor) Connected() bool { return true }
func (s *stubExecutor) Cleanup()        {}

type fixture struct {
	queue *queue.Queue
	store *store.Store
	disp  *Dispatcher
}

func newFixture(t *testing.T, workers int, exec sandbox.Executor) *fixture {
	t.Helper()
	q := queue.New(0)
	st := store.New(0, 0, zap.NewNop())
	m := metrics.New(prometheus.NewRegistry())
	return &fixture{queue: q, store: st, disp: New(q, st, exec, workers, m, zap.NewNop())}
}

func (f *fixture) enqueue(t *testing.T, name string) string {
	t.Helper()
	j := job.New(name, "() => 1", "")
	f.store.Put(j)
	require.NoError(t, f.queue.Push(j))
	return j.ID
}

func (f *fixture) waitTerminal(t *testing.T, id string) job.Job {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		j, err := f.store.Get(id)
		require.NoError(t, err)
		if j.State.Terminal() {
			return j
		}
		select {
		case <-deadline:
			t.Fatalf("job %s never reached a terminal state, still %s", id, j.State)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestJobSucceedsWithOutput(t *testing.T) {
	exec := &stubExecutor{fn: func(ctx context.Context, j *job.Job) (*sandbox.Result, error) {
		return &sandbox.Result{Output: "ok", FinalURL: "about:blank"}, nil
	}}
	f := newFixture(t, 1, exec)
	f.disp.Start(context.Background())
	defer f.disp.Stop()

	id := f.enqueue(t, "echo")
	j := f.waitTerminal(t, id)

	assert.Equal(t, job.StateSucceeded, j.State)
	assert.Equal(t, "ok", j.Output)
	assert.Equal(t, "about:blank", j.FinalURL)
	assert.Nil(t, j.Err)
	assert.NotNil(t, j.StartedAt)
	assert.NotNil(t, j.CompletedAt)
}

func TestRunningIsObservedBeforeTerminal(t *testing.T) {
	var f *fixture
	seen := make(chan job.State, 1)
	exec := &stubExecutor{fn: func(ctx context.Context, j *job.Job) (*sandbox.Result, error) {
		stored, err := f.store.Get(j.ID)
		if err != nil {
			return nil, err
		}
		seen <- stored.State
		return &sandbox.Result{}, nil
	}}
	f = newFixture(t, 1, exec)
	f.disp.Start(context.Background())
	defer f.disp.Stop()

	id := f.enqueue(t, "observe")
	f.waitTerminal(t, id)

	assert.Equal(t, job.StateRunning, <-seen)
}

func TestFailureKindIsKept(t *testing.T) {
	exec := &stubExecutor{fn: func(ctx context.Context, j *job.Job) (*sandbox.Result, error) {
		return nil, job.Newf(job.KindTimeout, "execution exceeded the 2s timeout")
	}}
	f := newFixture(t, 1, exec)
	f.disp.Start(context.Background())
	defer f.disp.Stop()

	id := f.enqueue(t, "hang")
	j := f.waitTerminal(t, id)

	assert.Equal(t, job.StateFailed, j.State)
	require.NotNil(t, j.Err)
	assert.Equal(t, job.KindTimeout, j.Err.Kind)
}

func TestPlainErrorsBecomeExecutionFailures(t *testing.T) {
	exec := &stubExecutor{fn: func(ctx context.Context, j *job.Job) (*sandbox.Result, error) {
		return nil, errors.New("page crashed")
	}}
	f := newFixture(t, 1, exec)
	f.disp.Start(context.Background())
	defer f.disp.Stop()

	id := f.enqueue(t, "crash")
	j := f.waitTerminal(t, id)

	assert.Equal(t, job.StateFailed, j.State)
	require.NotNil(t, j.Err)
	assert.Equal(t, job.KindExecution, j.Err.Kind)
}

func TestConcurrencyNeverExceedsSlots(t *testing.T) {
	const slots = 2
	var cur, peak atomic.Int64
	exec := &stubExecutor{fn: func(ctx context.Context, j *job.Job) (*sandbox.Result, error) {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		cur.Add(-1)
		return &sandbox.Result{}, nil
	}}
	f := newFixture(t, slots, exec)

	var ids []string
	for i := 0; i < 10; i++ {
		ids = append(ids, f.enqueue(t, "parallel"))
	}
	f.disp.Start(context.Background())
	f.disp.Stop() // closes the queue and waits for the drain

	for _, id := range ids {
		j, err := f.store.Get(id)
		require.NoError(t, err)
		assert.Equal(t, job.StateSucceeded, j.State)
	}
	assert.LessOrEqual(t, peak.Load(), int64(slots))
	assert.Greater(t, peak.Load(), int64(0))
}

func TestOneFailureDoesNotStopTheLoop(t *testing.T) {
	var calls atomic.Int64
	exec := &stubExecutor{fn: func(ctx context.Context, j *job.Job) (*sandbox.Result, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("boom")
		}
		return &sandbox.Result{Output: "fine"}, nil
	}}
	f := newFixture(t, 1, exec)
	f.disp.Start(context.Background())
	defer f.disp.Stop()

	first := f.enqueue(t, "bad")
	second := f.enqueue(t, "good")

	assert.Equal(t, job.StateFailed, f.waitTerminal(t, first).State)
	got := f.waitTerminal(t, second)
	assert.Equal(t, job.StateSucceeded, got.State)
	assert.Equal(t, "fine", got.Output)
}

func TestStopDrainsQueuedJobs(t *testing.T) {
	exec := &stubExecutor{fn: func(ctx context.Context, j *job.Job) (*sandbox.Result, error) {
		return &sandbox.Result{}, nil
	}}
	f := newFixture(t, 2, exec)

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, f.enqueue(t, "drain"))
	}
	f.disp.Start(context.Background())
	f.disp.Stop()

	for _, id := range ids {
		j, err := f.store.Get(id)
		require.NoError(t, err)
		assert.True(t, j.State.Terminal())
	}
	assert.Equal(t, 0, f.disp.Running())
}
