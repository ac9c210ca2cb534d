package op

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/asyncflow/internal/async"
)

func TestTimed_TargetWins(t *testing.T) {
	sched := testScheduler(t)
	target := Idle(50*time.Millisecond, 1, sched)
	e := Timed[int](target, 200*time.Millisecond, sched)
	require.NoError(t, e.Start())

	r := waitDone[int](t, e)
	require.True(t, r.IsCompleted())
	assert.Equal(t, 1, r.Value)
	assert.False(t, target.CancelRequested())
	assert.Equal(t, "target_done", e.Phase())
}

func TestTimed_TargetFailureMirrored(t *testing.T) {
	boom := errors.New("boom")
	e := Timed[int](Failure[int](boom), time.Second, testScheduler(t))
	require.NoError(t, e.Start())

	r := waitDone[int](t, e)
	require.True(t, r.IsFailed())
	assert.ErrorIs(t, r.Err, boom)
}

func TestTimed_DeadlineWins(t *testing.T) {
	sched := testScheduler(t)
	target := Idle(500*time.Millisecond, 1, sched)
	e := Timed[int](target, 200*time.Millisecond, sched)

	begin := time.Now()
	require.NoError(t, e.Start())

	r := waitDone[int](t, e)
	elapsed := time.Since(begin)
	assert.True(t, r.IsCancelled())
	assert.True(t, target.CancelRequested())
	assert.Equal(t, async.Cancelled, target.State())
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.Equal(t, "timeout_cancel", e.Phase())
}

func TestTimed_TargetCancelledItself(t *testing.T) {
	target := newManual[int]()
	e := Timed[int](target, time.Hour, testScheduler(t))
	require.NoError(t, e.Start())

	require.True(t, target.Cancel(false))
	r := waitDone[int](t, e)
	assert.True(t, r.IsCancelled())
	assert.Equal(t, "target_cancel", e.Phase())
}

func TestTimed_ParentCancel(t *testing.T) {
	target := newManual[int]()
	e := Timed[int](target, time.Hour, testScheduler(t))
	require.NoError(t, e.Start())

	require.True(t, e.Cancel(true))
	r := waitDone[int](t, e)
	assert.True(t, r.IsCancelled())
	assert.Equal(t, int32(1), target.cancels.Load())
	assert.Equal(t, "parent_cancel", e.Phase())
}

func TestTimed_Fallback(t *testing.T) {
	sched := testScheduler(t)
	target := newManual[string]()
	e := Timed[string](target, 20*time.Millisecond, sched).
		WithFallback(func() async.Startable[string] { return Nop("fallback") })
	require.NoError(t, e.Start())

	r := waitDone[string](t, e)
	require.True(t, r.IsCompleted())
	assert.Equal(t, "fallback", r.Value)
	assert.Equal(t, async.Cancelled, target.State())
}

func TestTimed_CancelBeforeStart(t *testing.T) {
	target := newManual[int]()
	e := Timed[int](target, time.Hour, testScheduler(t))
	require.True(t, e.Cancel(true))
	assert.Equal(t, async.Cancelled, e.State())
	assert.Equal(t, async.NotStarted, target.State())
}

func TestTimed_CancelWhileFallbackIsBuiltNeverStartsIt(t *testing.T) {
	building, proceed := make(chan struct{}), make(chan struct{})
	fb := newManual[string]()
	target := newManual[string]()
	e := Timed[string](target, time.Millisecond, testScheduler(t)).
		WithFallback(func() async.Startable[string] {
			close(building)
			<-proceed
			return fb
		})
	require.NoError(t, e.Start())

	select {
	case <-building:
	case <-time.After(3 * time.Second):
		t.Fatal("deadline never fired")
	}
	require.True(t, e.Cancel(true))
	close(proceed)

	assert.True(t, waitDone[string](t, e).IsCancelled())
	assert.Never(t, func() bool { return fb.State() != async.NotStarted }, 100*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, async.Cancelled, target.State())
}

func TestTimed_CancelDuringFallbackCancelsIt(t *testing.T) {
	fb := newManual[string]()
	e := Timed[string](newManual[string](), time.Millisecond, testScheduler(t)).
		WithFallback(func() async.Startable[string] { return fb })
	require.NoError(t, e.Start())

	require.Eventually(t, func() bool { return fb.State() == async.Running }, 3*time.Second, 5*time.Millisecond)
	require.True(t, e.Cancel(true))
	assert.True(t, waitDone[string](t, e).IsCancelled())
	assert.Equal(t, int32(1), fb.cancels.Load())
}
