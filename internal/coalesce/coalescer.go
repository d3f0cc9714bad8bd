// SPDX-License-Identifier: MIT

// Package coalesce deduplicates concurrent identical fetches. All requests
// for one key that arrive while a fetch is in flight share the single
// result; once the fetch completes the key is forgotten, so this is not a
// cache. A dedicated coordinator goroutine owns the in-flight table and
// routes messages; it never performs I/O itself.
package coalesce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openbookings/calsync/internal/log"
	"github.com/openbookings/calsync/internal/metrics"
)

var (
	// ErrWorkerDied is delivered to every waiter when the fetch worker
	// panicked before reporting a result.
	ErrWorkerDied = errors.New("coalesce: worker died")

	// ErrFetchExpired is delivered to every waiter when the fetch neither
	// completed nor crashed within the in-flight lifetime.
	ErrFetchExpired = errors.New("coalesce: in-flight fetch expired")

	// ErrStopped is returned when the coalescer has been shut down.
	ErrStopped = errors.New("coalesce: coalescer stopped")
)

// DefaultMaxInFlight bounds how long one fetch may stay in flight before
// its waiters are failed out and the entry is dropped.
const DefaultMaxInFlight = 30 * time.Second

// Fetch performs the actual upstream call. It runs on a detached worker
// goroutine and must honor ctx, which is cancelled when the in-flight
// lifetime expires.
type Fetch[V any] func(ctx context.Context) (V, error)

type outcome[V any] struct {
	value V
	err   error
}

type request[K comparable, V any] struct {
	key   K
	fetch Fetch[V]
	reply chan outcome[V]
}

type completion[K comparable, V any] struct {
	key   K
	epoch uint64
	out   outcome[V]
}

// entry tracks one in-flight fetch and everyone waiting on it.
type entry[V any] struct {
	epoch   uint64
	started time.Time
	waiters []chan outcome[V]
	cancel  context.CancelFunc
}

// Coalescer deduplicates fetches keyed by K. The zero value is not usable;
// construct with New and release with Stop.
type Coalescer[K comparable, V any] struct {
	name        string
	maxInFlight time.Duration

	requests    chan request[K, V]
	completions chan completion[K, V]
	stop        chan struct{}
	stopOnce    sync.Once
	stopped     chan struct{}
}

// Option configures a Coalescer.
type Option func(*options)

type options struct {
	maxInFlight time.Duration
}

// WithMaxInFlight overrides the in-flight lifetime bound.
func WithMaxInFlight(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.maxInFlight = d
		}
	}
}

// New creates a Coalescer and starts its coordinator goroutine. The name
// labels log entries and metrics.
func New[K comparable, V any](name string, opts ...Option) *Coalescer[K, V] {
	o := options{maxInFlight: DefaultMaxInFlight}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Coalescer[K, V]{
		name:        name,
		maxInFlight: o.maxInFlight,
		requests:    make(chan request[K, V]),
		completions: make(chan completion[K, V]),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	go c.run()
	return c
}

// Do returns the result of fetch for key, sharing one in-flight fetch among
// all concurrent callers with the same key. Every caller registered before
// the fetch completes observes the identical result, including errors. A
// caller whose ctx ends stops waiting but does not cancel the fetch.
func (c *Coalescer[K, V]) Do(ctx context.Context, key K, fetch Fetch[V]) (V, error) {
	var zero V

	reply := make(chan outcome[V], 1)
	select {
	case c.requests <- request[K, V]{key: key, fetch: fetch, reply: reply}:
	case <-c.stop:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case out := <-reply:
		return out.value, out.err
	case <-ctx.Done():
		// The reply channel is buffered, so the coordinator can still
		// deliver without blocking; the result is simply dropped.
		return zero, ctx.Err()
	}
}

// Stop shuts the coordinator down. Pending waiters receive ErrStopped.
// Safe to call from multiple goroutines.
func (c *Coalescer[K, V]) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.stopped
}

func (c *Coalescer[K, V]) run() {
	logger := log.WithComponent("coalesce").With().Str("coalescer", c.name).Logger()

	entries := make(map[K]*entry[V])
	var epoch uint64

	sweep := time.NewTicker(c.maxInFlight / 4)
	defer sweep.Stop()
	defer close(c.stopped)

	fail := func(key K, e *entry[V], err error) {
		e.cancel()
		for _, w := range e.waiters {
			w <- outcome[V]{err: err}
		}
		delete(entries, key)
		metrics.SetCoalescerInFlight(c.name, len(entries))
	}

	for {
		select {
		case req := <-c.requests:
			if e, ok := entries[req.key]; ok {
				e.waiters = append(e.waiters, req.reply)
				metrics.RecordCoalescedRequest(c.name, "joined")
				continue
			}

			epoch++
			workerCtx, cancel := context.WithTimeout(context.Background(), c.maxInFlight)
			e := &entry[V]{
				epoch:   epoch,
				started: time.Now(),
				waiters: []chan outcome[V]{req.reply},
				cancel:  cancel,
			}
			entries[req.key] = e
			metrics.RecordCoalescedRequest(c.name, "leader")
			metrics.SetCoalescerInFlight(c.name, len(entries))

			go c.work(workerCtx, req.key, e.epoch, req.fetch)

		case done := <-c.completions:
			e, ok := entries[done.key]
			if !ok || e.epoch != done.epoch {
				// Late report from an expired epoch; the waiters were
				// already answered.
				metrics.RecordCoalescedRequest(c.name, "stale")
				continue
			}
			e.cancel()
			for _, w := range e.waiters {
				w <- done.out
			}
			delete(entries, done.key)
			metrics.SetCoalescerInFlight(c.name, len(entries))

			if errors.Is(done.out.err, ErrWorkerDied) {
				logger.Error().
					Str("event", "coalesce.worker_died").
					Int("waiters", len(e.waiters)).
					Msg("fetch worker died, all waiters failed")
			}

		case <-sweep.C:
			now := time.Now()
			for key, e := range entries {
				if now.Sub(e.started) < c.maxInFlight {
					continue
				}
				logger.Warn().
					Str("event", "coalesce.entry_expired").
					Int("waiters", len(e.waiters)).
					Dur("age", now.Sub(e.started)).
					Msg("in-flight fetch exceeded lifetime, expiring entry")
				fail(key, e, ErrFetchExpired)
			}

		case <-c.stop:
			for key, e := range entries {
				fail(key, e, ErrStopped)
			}
			return
		}
	}
}

// work runs one fetch on a detached goroutine and reports the outcome back
// to the coordinator tagged with the key and epoch. A panic in fetch is
// converted to ErrWorkerDied instead of taking the process down.
func (c *Coalescer[K, V]) work(ctx context.Context, key K, epoch uint64, fetch Fetch[V]) {
	done := completion[K, V]{key: key, epoch: epoch}

	func() {
		defer func() {
			if r := recover(); r != nil {
				done.out = outcome[V]{err: fmt.Errorf("%w: %v", ErrWorkerDied, r)}
			}
		}()
		v, err := fetch(ctx)
		done.out = outcome[V]{value: v, err: err}
	}()

	select {
	case c.completions <- done:
	case <-c.stop:
	}
}
