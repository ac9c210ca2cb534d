package op

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/asyncflow/internal/async"
	"github.com/rendis/asyncflow/pkg/schema"
)

func TestNop(t *testing.T) {
	e := Nop("hello")
	require.NoError(t, e.Start())

	r, ok := e.Result()
	require.True(t, ok)
	assert.True(t, r.IsCompleted())
	assert.Equal(t, "hello", r.Value)

	err := e.Start()
	assert.True(t, schema.HasCode(err, schema.ErrCodePrecondition))
}

func TestFailure(t *testing.T) {
	boom := errors.New("boom")
	e := Failure[int](boom)
	require.NoError(t, e.Start())

	r, ok := e.Result()
	require.True(t, ok)
	assert.True(t, r.IsFailed())
	assert.ErrorIs(t, r.Err, boom)
}

func TestIdle_CompletesAfterDelay(t *testing.T) {
	e := Idle(30*time.Millisecond, 5, testScheduler(t))
	begin := time.Now()
	require.NoError(t, e.Start())

	r := waitDone[int](t, e)
	assert.True(t, r.IsCompleted())
	assert.Equal(t, 5, r.Value)
	assert.GreaterOrEqual(t, time.Since(begin), 30*time.Millisecond)
}

func TestIdle_Cancel(t *testing.T) {
	e := Idle(time.Hour, 5, testScheduler(t))
	require.NoError(t, e.Start())
	require.True(t, e.Cancel(false))
	assert.Equal(t, async.Cancelled, e.State())
}

func TestAtCron_InvalidExpression(t *testing.T) {
	_, err := AtCron("not a cron", testScheduler(t))
	assert.Error(t, err)
}

func TestAtCron_FiresAtNextMatch(t *testing.T) {
	e, err := AtCron("* * * * * *", testScheduler(t))
	require.NoError(t, err)

	begin := time.Now()
	require.NoError(t, e.Start())

	r := waitDone[time.Time](t, e)
	require.True(t, r.IsCompleted())
	assert.True(t, r.Value.After(begin))
	assert.Zero(t, r.Value.Nanosecond())
}
