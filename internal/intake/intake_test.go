package intake

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AlfredBerg/rod-runner/internal/job"
	"github.com/AlfredBerg/rod-runner/internal/metrics"
	"github.com/AlfredBerg/rod-runner/internal/queue"
	"github.com/AlfredBerg/rod-runner/internal/store"
)

func newIntake(t *testing.T, queueDepth, maxScript int) (*Intake, *store.Store, *queue.Queue) {
	t.Helper()
	st := store.New(0, 0, zap.NewNop())
	q := queue.New(queueDepth)
	m := metrics.New(prometheus.NewRegistry())
	return New(st, q, maxScript, m, zap.NewNop()), st, q
}

func TestSubmitQueuesJob(t *testing.T) {
	in, st, q := newIntake(t, 0, 0)

	id, err := in.Submit("echo", []byte(`() => "ok"`), "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Immediately queryable in state queued.
	j, err := st.Get(id)
	require.NoError(t, err)
	assert.Equal(t, job.StateQueued, j.State)
	assert.Equal(t, "echo", j.Name)
	assert.Equal(t, 1, q.Len())
}

func TestSubmitValidation(t *testing.T) {
	in, _, q := newIntake(t, 0, 64)

	_, err := in.Submit("", []byte("() => 1"), "")
	assert.Equal(t, job.KindValidation, job.KindOf(err))

	_, err = in.Submit("no-script", nil, "")
	assert.Equal(t, job.KindValidation, job.KindOf(err))

	_, err = in.Submit("too-big", []byte(strings.Repeat("x", 65)), "")
	assert.Equal(t, job.KindValidation, job.KindOf(err))

	// Nothing invalid ever reaches the queue.
	assert.Equal(t, 0, q.Len())
}

func TestSubmitQueueFullRollsBackStore(t *testing.T) {
	in, st, _ := newIntake(t, 1, 0)

	_, err := in.Submit("first", []byte("() => 1"), "")
	require.NoError(t, err)

	id, err := in.Submit("second", []byte("() => 2"), "")
	require.Error(t, err)
	assert.Equal(t, job.KindQueueFull, job.KindOf(err))
	assert.Empty(t, id)

	// The rejected job must not be queryable.
	assert.Equal(t, 1, st.Len())
}

func TestSameNameSubmissionsAreIndependent(t *testing.T) {
	in, st, _ := newIntake(t, 0, 0)

	a, err := in.Submit("dup", []byte("() => 1"), "")
	require.NoError(t, err)
	b, err := in.Submit("dup", []byte("() => 2"), "")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	ja, err := st.Get(a)
	require.NoError(t, err)
	jb, err := st.Get(b)
	require.NoError(t, err)
	assert.NotEqual(t, ja.Script, jb.Script)
}

func TestSubmitConcurrent(t *testing.T) {
	in, st, q := newIntake(t, 0, 0)

	var wg sync.WaitGroup
	ids := make(chan string, 200)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 25; k++ {
				id, err := in.Submit("burst", []byte("() => 1"), "")
				assert.NoError(t, err)
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, 200)
	assert.Equal(t, 200, q.Len())
	assert.Equal(t, 200, st.Len())
}
