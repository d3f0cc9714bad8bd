// SPDX-License-Identifier: MIT

package coalesce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDoSingleCaller(t *testing.T) {
	c := New[string, int]("test")
	defer c.Stop()

	got, err := c.Do(context.Background(), "k", func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestDoCoalescesConcurrentCallers(t *testing.T) {
	c := New[string, int]("test")
	defer c.Stop()

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	}

	const n = 25
	results := make([]int, n)
	errs := make([]error, n)
	started := make(chan struct{}, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			results[i], errs[i] = c.Do(context.Background(), "k", fetch)
		}(i)
	}

	// Let every caller register before the fetch completes.
	for i := 0; i < n; i++ {
		<-started
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "fetch must run exactly once")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 7, results[i])
	}
}

func TestDoSharesIdenticalError(t *testing.T) {
	c := New[string, int]("test")
	defer c.Stop()

	fetchErr := errors.New("upstream exploded")
	release := make(chan struct{})
	fetch := func(context.Context) (int, error) {
		<-release
		return 0, fetchErr
	}

	const n = 5
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Do(context.Background(), "k", fetch)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.ErrorIs(t, errs[i], fetchErr)
	}
}

func TestDoDifferentKeysFetchIndependently(t *testing.T) {
	c := New[string, string]("test")
	defer c.Stop()

	var calls atomic.Int32
	fetch := func(v string) Fetch[string] {
		return func(context.Context) (string, error) {
			calls.Add(1)
			return v, nil
		}
	}

	a, err := c.Do(context.Background(), "a", fetch("va"))
	require.NoError(t, err)
	b, err := c.Do(context.Background(), "b", fetch("vb"))
	require.NoError(t, err)

	assert.Equal(t, "va", a)
	assert.Equal(t, "vb", b)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoWorkerPanicReportsWorkerDied(t *testing.T) {
	c := New[string, int]("test")
	defer c.Stop()

	release := make(chan struct{})
	boom := func(context.Context) (int, error) {
		<-release
		panic("boom")
	}

	const n = 4
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Do(context.Background(), "k", boom)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.ErrorIs(t, errs[i], ErrWorkerDied)
	}

	// The key must be forgotten: a fresh fetch runs a brand-new worker.
	got, err := c.Do(context.Background(), "k", func(context.Context) (int, error) {
		return 99, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 99, got)
}

func TestDoNoRetentionAfterCompletion(t *testing.T) {
	c := New[string, int]("test")
	defer c.Stop()

	var calls atomic.Int32
	fetch := func(context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}

	first, err := c.Do(context.Background(), "k", fetch)
	require.NoError(t, err)
	second, err := c.Do(context.Background(), "k", fetch)
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second, "completed entries must not be cached")
}

func TestDoExpiresHungFetch(t *testing.T) {
	c := New[string, int]("test", WithMaxInFlight(60*time.Millisecond))
	defer c.Stop()

	hung := func(ctx context.Context) (int, error) {
		<-ctx.Done() // honor cancellation like a well-behaved fetch
		return 0, ctx.Err()
	}

	start := time.Now()
	_, err := c.Do(context.Background(), "k", hung)
	elapsed := time.Since(start)

	require.Error(t, err)
	// Either the sweep expired the entry or the worker reported its
	// cancelled context first; both resolve the waiters promptly.
	assert.True(t, errors.Is(err, ErrFetchExpired) || errors.Is(err, context.DeadlineExceeded),
		"got %v", err)
	assert.Less(t, elapsed, time.Second)
}

func TestDoCallerContextCancelDoesNotCancelFetch(t *testing.T) {
	c := New[string, int]("test")
	defer c.Stop()

	fetchDone := make(chan struct{})
	fetch := func(context.Context) (int, error) {
		defer close(fetchDone)
		time.Sleep(30 * time.Millisecond)
		return 1, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := c.Do(ctx, "k", fetch)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-fetchDone:
	case <-time.After(time.Second):
		t.Fatal("fetch should run to completion after caller gave up")
	}
}

func TestStopFailsPendingWaiters(t *testing.T) {
	c := New[string, int]("test")

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Do(context.Background(), "k", func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	c.Stop()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("waiter was not released on Stop")
	}

	_, err := c.Do(context.Background(), "k2", func(context.Context) (int, error) { return 0, nil })
	assert.ErrorIs(t, err, ErrStopped)
}

func TestStopConcurrent(t *testing.T) {
	c := New[string, int]("test")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Stop()
		}()
	}
	wg.Wait()
}
