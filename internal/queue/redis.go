// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openbookings/calsync/internal/domain"
	"github.com/openbookings/calsync/internal/metrics"
)

const defaultRedisKey = "calsync:health_checks"

// Redis is a Queue backed by a Redis list. Multiple daemon replicas can
// share one list; BRPOP gives each job to exactly one consumer per
// delivery attempt.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis creates a Redis-backed queue on the given list key.
// An empty key selects the default.
func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = defaultRedisKey
	}
	return &Redis{client: client, key: key}
}

// Enqueue implements domain.Queue.
func (r *Redis) Enqueue(ctx context.Context, job domain.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := r.client.LPush(ctx, r.key, payload).Err(); err != nil {
		metrics.RecordQueueDrop("redis", "push_failed")
		return fmt.Errorf("enqueue job: %w", err)
	}
	if depth, err := r.client.LLen(ctx, r.key).Result(); err == nil {
		metrics.SetQueueDepth("redis", int(depth))
	}
	return nil
}

// Dequeue implements domain.Queue. It polls in bounded intervals so ctx
// cancellation is observed promptly even on an idle list.
func (r *Redis) Dequeue(ctx context.Context) (domain.Job, error) {
	for {
		res, err := r.client.BRPop(ctx, 2*time.Second, r.key).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return domain.Job{}, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return domain.Job{}, ctx.Err()
			}
			return domain.Job{}, fmt.Errorf("dequeue job: %w", err)
		}

		// BRPop returns [key, value].
		if len(res) != 2 {
			metrics.RecordQueueDrop("redis", "malformed_reply")
			continue
		}

		var job domain.Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			metrics.RecordQueueDrop("redis", "malformed_payload")
			continue
		}
		return job, nil
	}
}
