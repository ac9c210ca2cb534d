package op

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/asyncflow/internal/async"
	"github.com/rendis/asyncflow/pkg/schema"
)

func manuals(n int) ([]*manual[int], []async.Startable[int]) {
	ms := make([]*manual[int], n)
	ss := make([]async.Startable[int], n)
	for i := range ms {
		ms[i] = newManual[int]()
		ss[i] = ms[i]
	}
	return ms, ss
}

func TestConcurrent_AllComplete(t *testing.T) {
	e := Concurrent(nops(1, 2, 3))
	require.NoError(t, e.Start())

	r := waitDone[[]int](t, e)
	assert.True(t, r.IsCompleted())
	assert.Equal(t, []int{1, 2, 3}, r.Value)
}

func TestConcurrent_Empty(t *testing.T) {
	e := Concurrent([]async.Startable[int]{})
	require.NoError(t, e.Start())

	r := waitDone[[]int](t, e)
	assert.True(t, r.IsCompleted())
	assert.Empty(t, r.Value)
}

func TestConcurrentN_Threshold(t *testing.T) {
	ms, children := manuals(5)
	e, err := ConcurrentN(2, children)
	require.NoError(t, err)
	require.NoError(t, e.Start())

	for _, m := range ms {
		assert.Equal(t, async.Running, m.State())
	}

	require.True(t, ms[0].NotifyCompleted(10))
	assert.Equal(t, async.Running, e.State())
	require.True(t, ms[1].NotifyCompleted(20))

	r := waitDone[[]int](t, e)
	require.True(t, r.IsCompleted())
	assert.Equal(t, []int{10, 20}, r.Value)

	for _, m := range ms[2:] {
		assert.True(t, m.CancelRequested())
		assert.Equal(t, int32(1), m.cancels.Load())
		assert.Equal(t, async.Cancelled, m.State())
	}
	assert.Equal(t, int32(0), ms[0].cancels.Load())
}

func TestConcurrentN_FailuresAreSwallowed(t *testing.T) {
	ms, children := manuals(4)
	e, err := ConcurrentN(2, children)
	require.NoError(t, err)
	require.NoError(t, e.Start())

	require.True(t, ms[0].NotifyFailed(errors.New("first")))
	require.True(t, ms[1].NotifyCompleted(1))
	require.True(t, ms[2].Cancel(true))
	assert.Equal(t, async.Running, e.State())
	assert.Equal(t, 3, e.Finishes())
	assert.Equal(t, 1, e.Completions())

	require.True(t, ms[3].NotifyCompleted(2))
	r := waitDone[[]int](t, e)
	require.True(t, r.IsCompleted())
	assert.Equal(t, []int{1, 2}, r.Value)
}

func TestConcurrent_CompletesWhenAllFinishedBelowThreshold(t *testing.T) {
	boom := errors.New("boom")
	e := Concurrent([]async.Startable[int]{Nop(1), Failure[int](boom), Nop(3)})
	require.NoError(t, e.Start())

	r := waitDone[[]int](t, e)
	require.True(t, r.IsCompleted())
	assert.Equal(t, []int{1, 3}, r.Value)
}

func TestConcurrentN_InvalidThreshold(t *testing.T) {
	for _, threshold := range []int{0, -1, 3, 4} {
		_, err := ConcurrentN(threshold, nops(1, 2, 3))
		assert.True(t, schema.HasCode(err, schema.ErrCodePrecondition), "threshold %d", threshold)
	}
}

func TestConcurrent_CancelFansOut(t *testing.T) {
	ms, children := manuals(3)
	e := Concurrent(children)
	require.NoError(t, e.Start())

	require.True(t, e.Cancel(true))
	r := waitDone[[]int](t, e)
	assert.True(t, r.IsCancelled())
	for _, m := range ms {
		assert.Equal(t, async.Cancelled, m.State())
	}
}

func TestConcurrent_SynchronousThresholdSkipsRemainingStarts(t *testing.T) {
	ms, rest := manuals(2)
	children := append([]async.Startable[int]{Nop(1), Nop(2)}, rest...)
	e, err := ConcurrentN(2, children)
	require.NoError(t, err)
	require.NoError(t, e.Start())

	r := waitDone[[]int](t, e)
	require.True(t, r.IsCompleted())
	for _, m := range ms {
		assert.Equal(t, async.Cancelled, m.State(), "never-started children are cancelled directly")
		assert.Equal(t, int32(0), m.cancels.Load())
	}
}
