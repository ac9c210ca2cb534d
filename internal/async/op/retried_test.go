package op

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/asyncflow/internal/async"
	"github.com/rendis/asyncflow/internal/scheduler"
	"github.com/rendis/asyncflow/pkg/schema"
)

// flaky fails the first n attempts, then completes with the attempt number.
func flaky(n int) func(int) async.Startable[int] {
	return func(attempt int) async.Startable[int] {
		if attempt < n {
			return Failure[int](fmt.Errorf("attempt %d: connection reset", attempt))
		}
		return Nop(attempt)
	}
}

// --- Policy ---

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(schema.NewError(schema.ErrCodeValidation, "bad")))
	assert.True(t, IsRetryable(schema.NewError(schema.ErrCodeTimeout, "slow")))
	assert.True(t, IsRetryable(errors.New("eof")))
}

func TestRetryPolicy_BackoffFor(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		attempt int
		want    time.Duration
	}{
		{"no delay", RetryPolicy{Backoff: BackoffExponential}, 3, 0},
		{"constant", RetryPolicy{Delay: time.Second, Backoff: BackoffConstant}, 4, time.Second},
		{"default is constant", RetryPolicy{Delay: time.Second}, 2, time.Second},
		{"linear", RetryPolicy{Delay: time.Second, Backoff: BackoffLinear}, 2, 3 * time.Second},
		{"exponential", RetryPolicy{Delay: time.Second, Backoff: BackoffExponential}, 3, 8 * time.Second},
		{"capped", RetryPolicy{Delay: time.Second, Backoff: BackoffExponential, MaxDelay: 5 * time.Second}, 10, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.BackoffFor(tt.attempt))
		})
	}
}

// --- Execution ---

func TestRetried_SucceedsAfterFailures(t *testing.T) {
	e := Retried(flaky(2), RetryPolicy{MaxAttempts: 5, Delay: time.Millisecond}, testScheduler(t))
	require.NoError(t, e.Start())

	r := waitDone[int](t, e)
	require.True(t, r.IsCompleted())
	assert.Equal(t, 2, r.Value)
	assert.Equal(t, 3, e.Attempts())
}

func TestRetried_ExhaustsAttempts(t *testing.T) {
	e := Retried(flaky(10), RetryPolicy{MaxAttempts: 3}, testScheduler(t))
	require.NoError(t, e.Start())

	r := waitDone[int](t, e)
	require.True(t, r.IsFailed())
	assert.Contains(t, r.Err.Error(), "attempt 2")
	assert.Equal(t, 3, e.Attempts())
}

func TestRetried_ZeroAttemptsRunsOnce(t *testing.T) {
	e := Retried(flaky(1), RetryPolicy{}, testScheduler(t))
	require.NoError(t, e.Start())

	assert.True(t, waitDone[int](t, e).IsFailed())
	assert.Equal(t, 1, e.Attempts())
}

func TestRetried_StopsOnPermanentFailure(t *testing.T) {
	bad := schema.NewError(schema.ErrCodeValidation, "bad input")
	e := Retried(func(int) async.Startable[int] { return Failure[int](bad) },
		RetryPolicy{MaxAttempts: 5}, testScheduler(t))
	require.NoError(t, e.Start())

	r := waitDone[int](t, e)
	assert.ErrorIs(t, r.Err, bad)
	assert.Equal(t, 1, e.Attempts())
}

func TestRetried_CustomClassifier(t *testing.T) {
	e := Retried(flaky(1), RetryPolicy{MaxAttempts: 3, Retryable: func(error) bool { return false }}, testScheduler(t))
	require.NoError(t, e.Start())

	assert.True(t, waitDone[int](t, e).IsFailed())
	assert.Equal(t, 1, e.Attempts())
}

func TestRetried_CancelRunningAttempt(t *testing.T) {
	child := newManual[int]()
	e := Retried(func(int) async.Startable[int] { return child }, RetryPolicy{MaxAttempts: 3}, testScheduler(t))
	require.NoError(t, e.Start())

	require.True(t, e.Cancel(true))
	assert.True(t, waitDone[int](t, e).IsCancelled())
	assert.Equal(t, int32(1), child.cancels.Load())
	assert.Equal(t, 1, e.Attempts())
}

func TestRetried_CancelDuringBackoff(t *testing.T) {
	sched := scheduler.New(nil)
	t.Cleanup(sched.Stop)
	e := Retried(flaky(10), RetryPolicy{MaxAttempts: 3, Delay: time.Hour}, WithScheduler(sched))
	require.NoError(t, e.Start())

	require.Eventually(t, func() bool { return sched.Pending() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, e.Cancel(false))
	assert.True(t, waitDone[int](t, e).IsCancelled())
	assert.Equal(t, 1, e.Attempts())
	assert.Zero(t, sched.Pending())
}

func TestRetried_StartTwice(t *testing.T) {
	e := Retried(flaky(0), RetryPolicy{}, testScheduler(t))
	require.NoError(t, e.Start())
	assert.Error(t, e.Start())
}
