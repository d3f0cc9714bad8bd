// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbookings/calsync/internal/domain"
)

func job(id string) domain.Job {
	return domain.Job{ID: id, ResourceType: domain.ResourceIntegration, ResourceID: "int-" + id}
}

func TestMemoryQueueRoundTrip(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(4)

	require.NoError(t, q.Enqueue(ctx, job("1")))
	require.NoError(t, q.Enqueue(ctx, job("2")))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", got.ID)

	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", got.ID)
}

func TestMemoryQueueFullDropsJob(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(1)

	require.NoError(t, q.Enqueue(ctx, job("1")))
	assert.ErrorIs(t, q.Enqueue(ctx, job("2")), ErrQueueFull)
}

func TestMemoryQueueDequeueHonorsContext(t *testing.T) {
	q := NewMemory(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func newRedisQueue(t *testing.T) *Redis {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, "test:jobs")
}

func TestRedisQueueRoundTrip(t *testing.T) {
	ctx := context.Background()
	q := newRedisQueue(t)

	require.NoError(t, q.Enqueue(ctx, job("1")))
	require.NoError(t, q.Enqueue(ctx, job("2")))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", got.ID, "list preserves FIFO order per key")

	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", got.ID)
}

func TestRedisQueueSkipsMalformedPayload(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := NewRedis(client, "test:jobs")

	require.NoError(t, client.LPush(ctx, "test:jobs", "not json").Err())
	require.NoError(t, q.Enqueue(ctx, job("ok")))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", got.ID)
}

func TestConsumerProcessesJobsWithBoundedConcurrency(t *testing.T) {
	q := NewMemory(64)

	var (
		inFlight    atomic.Int32
		maxInFlight atomic.Int32
		processed   atomic.Int32
	)

	handler := func(ctx context.Context, job domain.Job) error {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		processed.Add(1)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	consumer := NewConsumer(q, handler, 3)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = consumer.Run(ctx)
	}()

	const jobs = 12
	for i := 0; i < jobs; i++ {
		require.NoError(t, q.Enqueue(ctx, job(string(rune('a'+i)))))
	}

	require.Eventually(t, func() bool {
		return processed.Load() == jobs
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	wg.Wait()

	assert.LessOrEqual(t, maxInFlight.Load(), int32(3))
}

func TestConsumerStopsOnContextCancel(t *testing.T) {
	q := NewMemory(1)
	consumer := NewConsumer(q, func(context.Context, domain.Job) error { return nil }, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}
