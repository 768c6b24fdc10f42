package application_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xiaoi/internal/application"
)

func TestOperationQueue_RunsInSubmissionOrder(t *testing.T) {
	q := application.NewOperationQueue()

	var (
		mu    sync.Mutex
		order []int
	)
	release := make(chan struct{})

	var wg sync.WaitGroup
	first := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Do(context.Background(), func(context.Context) error {
			close(first)
			<-release
			mu.Lock()
			order = append(order, 0)
			mu.Unlock()
			return nil
		})
	}()
	<-first

	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = q.Do(context.Background(), func(context.Context) error {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				return nil
			})
		}(i)
		// let each submission register before the next
		time.Sleep(10 * time.Millisecond)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3}, order)
}

func TestOperationQueue_OneTaskInFlight(t *testing.T) {
	q := application.NewOperationQueue()

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do(context.Background(), func(context.Context) error {
				n := inFlight.Add(1)
				for {
					cur := maxInFlight.Load()
					if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestOperationQueue_FailureDoesNotPoison(t *testing.T) {
	q := application.NewOperationQueue()
	boom := errors.New("boom")

	err := q.Do(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = q.Do(context.Background(), func(context.Context) error { panic("kaboom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	err = q.Do(context.Background(), func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestOperationQueue_CallerTimeoutLeavesTaskRunning(t *testing.T) {
	q := application.NewOperationQueue()
	finished := make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Do(ctx, func(taskCtx context.Context) error {
		time.Sleep(60 * time.Millisecond)
		if taskCtx.Err() == nil {
			close(finished)
		}
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("queued task did not run to completion")
	}

	// The next task still runs after the abandoned one.
	assert.NoError(t, q.Do(context.Background(), func(context.Context) error { return nil }))
}

func TestOperationQueue_InFlightFailureStaysWithItsCaller(t *testing.T) {
	q := application.NewOperationQueue()
	boom := errors.New("boom")

	var (
		mu    sync.Mutex
		state string
	)
	require.NoError(t, q.Do(context.Background(), func(context.Context) error {
		mu.Lock()
		state = "a"
		mu.Unlock()
		return nil
	}))

	started := make(chan struct{})
	release := make(chan struct{})
	errB := make(chan error, 1)
	go func() {
		errB <- q.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return boom
		})
	}()
	<-started

	var seen string
	errC := make(chan error, 1)
	go func() {
		errC <- q.Do(context.Background(), func(context.Context) error {
			mu.Lock()
			seen = state
			mu.Unlock()
			return nil
		})
	}()
	// C is queued behind B before B fails.
	time.Sleep(20 * time.Millisecond)
	select {
	case err := <-errC:
		t.Fatalf("C finished while B was in flight: %v", err)
	default:
	}
	close(release)

	assert.ErrorIs(t, <-errB, boom)
	assert.NoError(t, <-errC)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "a", seen)
}
