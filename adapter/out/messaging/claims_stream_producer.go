// Package messaging provides the Redis Streams queue adapters.
package messaging

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"claims_server/core/port/out"
)

// Stream names
const (
	StreamExtract = "claims:extract"
	StreamSubmit  = "claims:submit"
)

// RedisProducer implements out.MessageProducer using Redis Streams.
type RedisProducer struct {
	client *redis.Client
}

// NewRedisProducer creates a new RedisProducer.
func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client}
}

// PublishExtract publishes an extraction job.
func (p *RedisProducer) PublishExtract(ctx context.Context, job *out.ExtractJob) error {
	return p.publish(ctx, StreamExtract, job)
}

// PublishSubmit publishes a submission job.
func (p *RedisProducer) PublishSubmit(ctx context.Context, job *out.SubmitJob) error {
	return p.publish(ctx, StreamSubmit, job)
}

// publish serializes the job and appends it to the stream.
func (p *RedisProducer) publish(ctx context.Context, stream string, job any) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]any{
			"data": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}

	return nil
}

// Ensure RedisProducer implements out.MessageProducer
var _ out.MessageProducer = (*RedisProducer)(nil)
