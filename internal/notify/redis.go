package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes events on Redis pub/sub channels named after the topic
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher wraps an existing client
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish implements Publisher
func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload any) error {
	b, err := encode(payload)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, topic, b).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a subscription to the given topics
func (p *RedisPublisher) Subscribe(ctx context.Context, topics ...string) *redis.PubSub {
	return p.client.Subscribe(ctx, topics...)
}
