package guard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_RunSerializes(t *testing.T) {
	g := New()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				g.Run(func() { counter++ })
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5000, Get(g, func() int { return counter }))
}

func TestGuard_GetChecked(t *testing.T) {
	g := New()

	v, err := GetChecked(g, func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	boom := errors.New("boom")
	_, err = GetChecked(g, func() (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
}

func TestGuard_AwaitWakesOnBroadcast(t *testing.T) {
	g := New()
	ready := false

	done := make(chan error, 1)
	go func() {
		done <- g.Await(context.Background(), func() bool { return ready })
	}()

	time.Sleep(10 * time.Millisecond)
	g.Run(func() {
		ready = true
		g.Broadcast()
	})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestGuard_AwaitImmediate(t *testing.T) {
	g := New()
	err := g.Await(context.Background(), func() bool { return true })
	assert.NoError(t, err)
}

func TestGuard_AwaitTimeout(t *testing.T) {
	g := New()
	start := time.Now()
	err := g.AwaitTimeout(context.Background(), 30*time.Millisecond, func() bool { return false })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestGuard_AwaitContextCancelled(t *testing.T) {
	g := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Await(ctx, func() bool { return false })
	assert.ErrorIs(t, err, context.Canceled)
}
