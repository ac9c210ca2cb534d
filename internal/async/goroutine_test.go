package async

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/asyncflow/pkg/schema"
)

func TestGo_Completes(t *testing.T) {
	e := Go(func(context.Context) (string, error) { return "hello", nil }, WithName("greeter"))
	assert.Equal(t, NotStarted, e.State(), "work never begins implicitly")

	v, err := Await(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
	assert.Equal(t, Completed, e.State())
}

func TestGo_FailureUnwrapsRootCause(t *testing.T) {
	base := errors.New("connection refused")
	e := Go(func(context.Context) (int, error) {
		return 0, fmt.Errorf("dial: %w", base)
	})

	_, err := Await(context.Background(), e)
	require.Error(t, err)
	assert.Equal(t, base, err)
	assert.Equal(t, Failed, e.State())
}

func TestGo_PanicBecomesFailure(t *testing.T) {
	e := Go(func(context.Context) (int, error) { panic("kaboom") })
	_, err := Await(context.Background(), e)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExecution))
	assert.Contains(t, err.Error(), "kaboom")
}

func TestGo_StartTwice(t *testing.T) {
	e := Go(func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, e.Start())
	err := e.Start()
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodePrecondition))
}

func TestGo_InterruptingCancel(t *testing.T) {
	started := make(chan struct{})
	e := Go(func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	})
	require.NoError(t, e.Start())
	<-started

	require.True(t, e.Cancel(true))
	r, err := e.WaitForDoneTimeout(context.Background(), time.Second)
	require.NoError(t, err)
	assert.True(t, r.IsCancelled())
}

func TestGo_NonInterruptingCancelFinishesImmediately(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	e := Go(func(ctx context.Context) (int, error) {
		close(started)
		<-release
		return 1, nil
	})
	require.NoError(t, e.Start())
	<-started

	require.True(t, e.Cancel(false))
	assert.Equal(t, Cancelled, e.State())
	close(release)

	r, err := e.WaitForDone(context.Background())
	require.NoError(t, err)
	assert.True(t, r.IsCancelled(), "late completion does not override cancellation")
}

func TestGo_CancelBeforeStart(t *testing.T) {
	ran := false
	e := Go(func(context.Context) (int, error) {
		ran = true
		return 1, nil
	})
	require.True(t, e.Cancel(true))
	assert.Equal(t, Cancelled, e.State())
	assert.Error(t, e.Start())
	assert.False(t, ran)
}

func TestGo_SelfWaitFromWork(t *testing.T) {
	var e *GoExecution[int]
	e = Go(func(ctx context.Context) (int, error) {
		_, err := e.WaitForDone(ctx)
		return 0, err
	})
	_, err := Await(context.Background(), e)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSelfWait)
}

type rejectingExecutor struct{}

func (rejectingExecutor) Submit(context.Context, func(context.Context) error) error {
	return errors.New("pool closed")
}

func TestGo_SubmitFailure(t *testing.T) {
	e := Go(func(context.Context) (int, error) { return 1, nil }, WithExecutor(rejectingExecutor{}))
	require.NoError(t, e.Start())
	r, err := e.WaitForDone(context.Background())
	require.NoError(t, err)
	assert.True(t, r.IsFailed())
	assert.Contains(t, r.Err.Error(), "submit work")
}

func TestGo_StartedListenerRunsBeforeFinished(t *testing.T) {
	events := make(chan string, 2)
	e := Go(func(context.Context) (int, error) { return 1, nil })
	e.WhenStarted(func(context.Context) { events <- "started" })
	e.WhenFinished(func(context.Context, Result[int]) { events <- "finished" })

	_, err := Await(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, "started", <-events)
	assert.Equal(t, "finished", <-events)
}
