package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// JobHandler processes jobs from streams.
type JobHandler interface {
	Handle(ctx context.Context, stream string, data []byte) error
}

// ExhaustedFunc is called when a message leaves for the DLQ so the owner can
// fail the underlying job.
type ExhaustedFunc func(ctx context.Context, stream string, data []byte)

// Consumer consumes messages from Redis Streams with lease-based crash
// recovery: messages left pending by a dead worker are reclaimed with
// XAUTOCLAIM once their idle time exceeds the lease, and messages that keep
// failing move to a dead letter stream after maxDeliveries.
type Consumer struct {
	client   *redis.Client
	group    string
	consumer string
	streams  []string
	handler  JobHandler
	log      zerolog.Logger

	batchSize     int64
	blockTime     time.Duration
	leaseIdleTime time.Duration
	leaseCheck    time.Duration
	maxDeliveries int
	onExhausted   ExhaustedFunc
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Group    string
	Consumer string
	Streams  []string
	Handler  JobHandler
	Logger   zerolog.Logger

	BatchSize     int64
	BlockTime     time.Duration
	LeaseIdleTime time.Duration // pending longer than this is considered abandoned
	LeaseCheck    time.Duration // how often abandoned messages are reclaimed
	MaxDeliveries int           // delivery count before the DLQ
	OnExhausted   ExhaustedFunc
}

// NewConsumer creates a new Consumer.
func NewConsumer(client *redis.Client, cfg *ConsumerConfig) *Consumer {
	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 10
	}
	blockTime := cfg.BlockTime
	if blockTime == 0 {
		blockTime = 5 * time.Second
	}
	leaseIdleTime := cfg.LeaseIdleTime
	if leaseIdleTime == 0 {
		leaseIdleTime = 2 * time.Minute
	}
	leaseCheck := cfg.LeaseCheck
	if leaseCheck == 0 {
		leaseCheck = 30 * time.Second
	}
	maxDeliveries := cfg.MaxDeliveries
	if maxDeliveries == 0 {
		maxDeliveries = 3
	}

	return &Consumer{
		client:        client,
		group:         cfg.Group,
		consumer:      cfg.Consumer,
		streams:       cfg.Streams,
		handler:       cfg.Handler,
		log:           cfg.Logger,
		batchSize:     batchSize,
		blockTime:     blockTime,
		leaseIdleTime: leaseIdleTime,
		leaseCheck:    leaseCheck,
		maxDeliveries: maxDeliveries,
		onExhausted:   cfg.OnExhausted,
	}
}

// Run starts consuming messages. Blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().
		Str("group", c.group).
		Str("consumer", c.consumer).
		Strs("streams", c.streams).
		Dur("lease_idle", c.leaseIdleTime).
		Msg("starting consumer")

	for _, stream := range c.streams {
		c.createConsumerGroup(ctx, stream)
	}

	go c.reclaimLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result, err := c.readMessages(ctx)
		if err != nil {
			if err == redis.Nil {
				continue // no messages
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error().Err(err).Msg("error reading from streams")
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range result {
			for _, msg := range stream.Messages {
				c.handleMessage(ctx, stream.Stream, msg)
			}
		}
	}
}

// handleMessage processes one message and acks on success. A failed message
// stays pending and comes back through the reclaim loop.
func (c *Consumer) handleMessage(ctx context.Context, stream string, msg redis.XMessage) {
	data, err := messageData(msg)
	if err != nil {
		c.log.Error().Err(err).Str("stream", stream).Str("id", msg.ID).Msg("malformed message, acking")
		c.client.XAck(ctx, stream, c.group, msg.ID)
		return
	}

	if err := c.handler.Handle(ctx, stream, data); err != nil {
		c.log.Error().
			Err(err).
			Str("stream", stream).
			Str("id", msg.ID).
			Msg("error processing message, left pending for redelivery")
		return
	}

	if err := c.client.XAck(ctx, stream, c.group, msg.ID).Err(); err != nil {
		c.log.Error().Err(err).Str("stream", stream).Str("id", msg.ID).Msg("error acknowledging message")
	}
}

// reclaimLoop periodically takes over messages whose lease expired.
func (c *Consumer) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(c.leaseCheck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, stream := range c.streams {
				c.reclaimStream(ctx, stream)
			}
		}
	}
}

// reclaimStream claims abandoned messages with XAUTOCLAIM and either
// reprocesses them or, past the delivery cap, moves them to the DLQ.
func (c *Consumer) reclaimStream(ctx context.Context, stream string) {
	start := "0-0"
	for {
		claimed, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.leaseIdleTime,
			Start:    start,
			Count:    c.batchSize,
		}).Result()
		if err != nil {
			if err != redis.Nil {
				c.log.Error().Err(err).Str("stream", stream).Msg("error autoclaiming messages")
			}
			return
		}

		for _, msg := range claimed {
			if c.deliveryCount(ctx, stream, msg.ID) >= int64(c.maxDeliveries) {
				c.exhaust(ctx, stream, msg)
				continue
			}

			c.log.Info().
				Str("stream", stream).
				Str("id", msg.ID).
				Msg("reclaimed abandoned message")
			c.handleMessage(ctx, stream, msg)
		}

		if next == "0-0" || len(claimed) == 0 {
			return
		}
		start = next
	}
}

// deliveryCount looks up the redelivery counter the group keeps per message.
func (c *Consumer) deliveryCount(ctx context.Context, stream, id string) int64 {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  c.group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 0
	}
	return pending[0].RetryCount
}

// exhaust moves a message past its delivery cap to the dead letter stream
// and acks it so it stops cycling. The owner's callback gets the payload to
// fail the job.
func (c *Consumer) exhaust(ctx context.Context, stream string, msg redis.XMessage) {
	c.log.Warn().
		Str("stream", stream).
		Str("id", msg.ID).
		Int("max_deliveries", c.maxDeliveries).
		Msg("message exceeded max deliveries, moving to DLQ")

	if err := c.moveToDeadLetterQueue(ctx, stream, msg); err != nil {
		c.log.Error().Err(err).Str("id", msg.ID).Msg("error moving message to DLQ")
	}
	c.client.XAck(ctx, stream, c.group, msg.ID)

	if c.onExhausted != nil {
		if data, err := messageData(msg); err == nil {
			c.onExhausted(ctx, stream, data)
		}
	}
}

// createConsumerGroup creates a consumer group if it doesn't exist.
func (c *Consumer) createConsumerGroup(ctx context.Context, stream string) {
	err := c.client.XGroupCreateMkStream(ctx, stream, c.group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		c.log.Warn().Err(err).Str("stream", stream).Msg("error creating consumer group")
	}
}

// readMessages reads fresh messages from all streams using XREADGROUP.
func (c *Consumer) readMessages(ctx context.Context) ([]redis.XStream, error) {
	if len(c.streams) == 0 {
		return nil, nil
	}

	args := make([]string, len(c.streams)*2)
	for i, stream := range c.streams {
		args[i] = stream
		args[len(c.streams)+i] = ">"
	}

	return c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  args,
		Count:    c.batchSize,
		Block:    c.blockTime,
	}).Result()
}

// moveToDeadLetterQueue copies the message into dlq:{stream} with failure
// metadata.
func (c *Consumer) moveToDeadLetterQueue(ctx context.Context, stream string, msg redis.XMessage) error {
	dlqData := map[string]any{
		"original_stream": stream,
		"original_id":     msg.ID,
		"failed_at":       time.Now().UTC().Format(time.RFC3339),
		"consumer":        c.consumer,
		"group":           c.group,
	}
	for k, v := range msg.Values {
		dlqData["original_"+k] = v
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: "dlq:" + stream,
		Values: dlqData,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add message to DLQ: %w", err)
	}
	return nil
}

func messageData(msg redis.XMessage) ([]byte, error) {
	data, ok := msg.Values["data"]
	if !ok {
		return nil, fmt.Errorf("invalid message format: missing data field")
	}
	str, ok := data.(string)
	if !ok {
		return nil, fmt.Errorf("invalid message format: data is not a string")
	}
	return []byte(str), nil
}
