package sweeper

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeStore counts sweeps, signals when the first one starts, and can block
// until released.
type fakeStore struct {
	calls   atomic.Int32
	started chan struct{}
	block   chan struct{}
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		started: make(chan struct{}, 1),
		block:   make(chan struct{}),
	}
}

func (f *fakeStore) ExpireSweep(ctx context.Context) (int64, error) {
	f.calls.Add(1)
	select {
	case f.started <- struct{}{}:
	default:
	}
	select {
	case <-f.block:
	case <-ctx.Done():
	}
	return 3, f.err
}

func TestSweeper_StartTriggersSweep(t *testing.T) {
	store := newFakeStore()
	close(store.block)

	s := New(store, 10*time.Millisecond, time.Second, nil)
	require.False(t, s.IsRunning())
	require.NoError(t, s.Start())
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	select {
	case <-store.started:
	case <-time.After(time.Second):
		t.Fatal("expected a sweep after Start")
	}
	require.True(t, s.IsRunning())
	require.Eventually(t, func() bool { return s.Sweeps() > 0 }, time.Second, 5*time.Millisecond)
}

func TestSweeper_StopWaitsForSweep(t *testing.T) {
	store := newFakeStore()
	s := New(store, 5*time.Millisecond, 2*time.Second, nil)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	require.NoError(t, s.Start())

	select {
	case <-store.started:
	case <-time.After(time.Second):
		t.Fatal("expected a sweep to start")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a sweep was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.block)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the sweep finished")
	}

	calls := store.calls.Load()
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, calls, store.calls.Load(), "no sweeps after Stop")
	require.False(t, s.IsRunning())
}

func TestSweeper_FailedSweepsAreNotCounted(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("backend down")
	close(store.block)

	s := New(store, 5*time.Millisecond, time.Second, nil)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return store.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	require.Zero(t, s.Sweeps())
}

func TestSweeper_CloseEndsLoop(t *testing.T) {
	store := newFakeStore()
	close(store.block)

	before := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		s := New(store, time.Millisecond, time.Second, nil)
		require.NoError(t, s.Start())
		require.NoError(t, s.Stop())
		require.NoError(t, s.Close())
	}
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, time.Second, 10*time.Millisecond)
}

func TestSweeper_CommandsAfterClose(t *testing.T) {
	store := newFakeStore()
	close(store.block)

	s := New(store, time.Hour, time.Second, nil)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.ErrorIs(t, s.Start(), ErrClosed)
	require.ErrorIs(t, s.Stop(), ErrClosed)
	require.False(t, s.IsRunning())
}
