// Package relay mirrors hub events to Redis pub/sub for other consumers.
package relay

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"buywatch/internal/observability"
)

// DefaultChannel is the Redis channel events are published to.
const DefaultChannel = "buywatch:events"

const sinkName = "redis"

// RedisSink publishes every hub payload to a Redis channel.
// Deliveries are queued; a full queue drops the payload.
type RedisSink struct {
	client  *redis.Client
	channel string
	queue   chan []byte
	logger  *zap.Logger
}

// NewRedisSink connects to the Redis server at url (redis://...) and verifies
// it with PING.
func NewRedisSink(ctx context.Context, url, channel string, logger *zap.Logger) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisSinkWithClient(client, channel, logger), nil
}

// NewRedisSinkWithClient wraps an existing client.
func NewRedisSinkWithClient(client *redis.Client, channel string, logger *zap.Logger) *RedisSink {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSink{
		client:  client,
		channel: channel,
		queue:   make(chan []byte, 256),
		logger:  logger,
	}
}

// Deliver queues payload for publishing without blocking.
func (s *RedisSink) Deliver(eventType string, payload []byte) {
	select {
	case s.queue <- payload:
	default:
		observability.RecordSinkError(sinkName)
		s.logger.Warn("redis relay queue full, event dropped", zap.String("type", eventType))
	}
}

// Run publishes queued payloads until ctx is done.
func (s *RedisSink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-s.queue:
			if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
				if ctx.Err() != nil {
					return
				}
				observability.RecordSinkError(sinkName)
				s.logger.Warn("redis publish failed", zap.String("channel", s.channel), zap.Error(err))
			}
		}
	}
}

// Close closes the Redis client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
