package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// pollTimeout bounds each BRPOP so Dequeue notices cancellation
const pollTimeout = 5 * time.Second

// Redis is a Queue backed by a Redis list (LPUSH producer, BRPOP consumer)
type Redis struct {
	client *redis.Client
	name   string
}

// NewRedis connects to a redis:// URL and verifies it with PING
func NewRedis(ctx context.Context, url, name string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisFromClient(client, name), nil
}

// NewRedisFromClient wraps an existing client
func NewRedisFromClient(client *redis.Client, name string) *Redis {
	if name == "" {
		name = DefaultName
	}
	return &Redis{client: client, name: name}
}

// Client exposes the connection so other components can share it
func (q *Redis) Client() *redis.Client {
	return q.client
}

// Enqueue implements Queue
func (q *Redis) Enqueue(ctx context.Context, job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.name, payload).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", q.name, err)
	}
	return nil
}

// Dequeue implements Queue
func (q *Redis) Dequeue(ctx context.Context) (Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Job{}, err
		}

		res, err := q.client.BRPop(ctx, pollTimeout, q.name).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			return Job{}, fmt.Errorf("brpop %s: %w", q.name, err)
		}

		// res is [key, value]
		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return Job{}, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}

// Close implements Queue
func (q *Redis) Close() error {
	return q.client.Close()
}
