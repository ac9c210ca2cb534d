package op

import (
	"context"
	"iter"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rendis/asyncflow/internal/async"
	"github.com/rendis/asyncflow/internal/scheduler"
)

// manual is a child execution finished explicitly by the test.
type manual[T any] struct {
	*async.EventDriven[T]
	cancels atomic.Int32
}

func newManual[T any]() *manual[T] {
	m := &manual[T]{}
	m.EventDriven = async.NewEventDriven[T](func(bool) bool {
		m.cancels.Add(1)
		return m.NotifyCancelled()
	})
	return m
}

func nops(vals ...int) []async.Startable[int] {
	out := make([]async.Startable[int], len(vals))
	for i, v := range vals {
		out[i] = Nop(v)
	}
	return out
}

func seqOf[T any](children ...async.Startable[T]) iter.Seq[async.Startable[T]] {
	return slices.Values(children)
}

func testScheduler(t *testing.T) Option {
	t.Helper()
	s := scheduler.New(nil)
	t.Cleanup(s.Stop)
	return WithScheduler(s)
}

func waitDone[T any](t *testing.T, e async.Execution[T]) async.Result[T] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	r, err := e.WaitForDone(ctx)
	require.NoError(t, err)
	return r
}
