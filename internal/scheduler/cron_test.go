package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/asyncflow/internal/async"
	"github.com/rendis/asyncflow/pkg/schema"
)

// manualFactory hands out event-driven executions that the test finishes.
type manualFactory struct {
	mu    sync.Mutex
	execs []*async.EventDriven[time.Time]
	err   error
}

func (f *manualFactory) build(fire time.Time) (async.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	e := async.NewEventDriven[time.Time](nil)
	f.execs = append(f.execs, e)
	return e, nil
}

func (f *manualFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.execs)
}

func (f *manualFactory) last() *async.EventDriven[time.Time] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.execs[len(f.execs)-1]
}

func newTestRunner() *CronRunner {
	return NewCronRunner(New(slog.Default()), slog.Default())
}

func TestCronRunner_AddValidates(t *testing.T) {
	r := newTestRunner()
	f := &manualFactory{}

	require.NoError(t, r.Add("job-1", "0 * * * *", f.build))

	err := r.Add("job-1", "0 * * * *", f.build)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	err = r.Add("job-2", "not a cron", f.build)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestCronRunner_FireStartsExecution(t *testing.T) {
	r := newTestRunner()
	f := &manualFactory{}
	require.NoError(t, r.Add("job-1", "0 * * * *", f.build))
	require.NoError(t, r.Start())
	defer r.Stop()

	fireAt := time.Now()
	r.fire("job-1", fireAt)

	require.Equal(t, 1, f.count())
	assert.Equal(t, async.Running, f.last().State())

	st, ok := r.Status("job-1")
	require.True(t, ok)
	assert.Equal(t, 1, st.Runs)
	assert.Equal(t, "started", st.LastRunStatus)
	assert.True(t, st.NextRunAt.After(fireAt))
}

func TestCronRunner_SkipsWhileRunning(t *testing.T) {
	r := newTestRunner()
	f := &manualFactory{}
	require.NoError(t, r.Add("job-1", "0 * * * *", f.build))
	require.NoError(t, r.Start())
	defer r.Stop()

	r.fire("job-1", time.Now())
	r.fire("job-1", time.Now())
	assert.Equal(t, 1, f.count(), "second fire skipped while first execution runs")

	f.last().NotifyCompleted(time.Now())
	r.fire("job-1", time.Now())
	assert.Equal(t, 2, f.count())

	st, _ := r.Status("job-1")
	assert.Equal(t, 1, st.Skipped)
	assert.Equal(t, 2, st.Runs)
}

func TestCronRunner_FactoryError(t *testing.T) {
	r := newTestRunner()
	f := &manualFactory{err: errors.New("no capacity")}
	require.NoError(t, r.Add("job-1", "0 * * * *", f.build))
	require.NoError(t, r.Start())
	defer r.Stop()

	r.fire("job-1", time.Now())
	st, _ := r.Status("job-1")
	assert.Equal(t, "error", st.LastRunStatus)
}

func TestCronRunner_StartTwiceAndRemove(t *testing.T) {
	r := newTestRunner()
	f := &manualFactory{}
	require.NoError(t, r.Add("job-1", "0 * * * *", f.build))
	require.NoError(t, r.Start())
	require.Error(t, r.Start())

	assert.True(t, r.Remove("job-1"))
	assert.False(t, r.Remove("job-1"))
	r.fire("job-1", time.Now())
	assert.Equal(t, 0, f.count())
	r.Stop()
}

func TestCronRunner_RealSchedule(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a real cron tick")
	}
	r := newTestRunner()
	fired := make(chan time.Time, 4)
	require.NoError(t, r.Add("every-second", "* * * * * *", func(fire time.Time) (async.Handle, error) {
		return async.Go(func(context.Context) (time.Time, error) {
			fired <- fire
			return fire, nil
		}), nil
	}))
	require.NoError(t, r.Start())
	defer r.Stop()

	select {
	case ts := <-fired:
		assert.False(t, ts.IsZero())
	case <-time.After(3 * time.Second):
		t.Fatal("cron job never fired")
	}
}
