// Package sinks mirrors bus events to external systems.
package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/arena/internal/events"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// DefaultStream is the Redis stream dashboards read from
const DefaultStream = "arena:events"

const (
	streamMaxLen  = 10000
	publishTimeout = 5 * time.Second
)

// StreamWriter is the subset of the Redis client the sink uses
type StreamWriter interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStreamSink appends every event to a capped Redis stream
type RedisStreamSink struct {
	client StreamWriter
	stream string
	log    zerolog.Logger
}

// NewRedisClient parses a redis:// URL and verifies the connection
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisStreamSink creates a sink writing to stream
func NewRedisStreamSink(client StreamWriter, stream string, log zerolog.Logger) *RedisStreamSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStreamSink{
		client: client,
		stream: stream,
		log:    log.With().Str("component", "redis_sink").Str("stream", stream).Logger(),
	}
}

// Attach subscribes the sink to every event on bus
func (s *RedisStreamSink) Attach(bus *events.Bus) {
	bus.SubscribeAll(s.Handle)
}

// Handle writes one event; failures are logged, never propagated
func (s *RedisStreamSink) Handle(e events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.Publish(ctx, e); err != nil {
		s.log.Warn().Err(err).Str("event_type", string(e.Type)).Msg("Failed to mirror event to redis")
	}
}

// Publish XADDs one event
func (s *RedisStreamSink) Publish(ctx context.Context, e events.Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	values := map[string]interface{}{
		"type":      string(e.Type),
		"module":    e.Module,
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
		"data":      string(data),
	}

	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	s.log.Debug().Str("event_type", string(e.Type)).Msg("Published event")
	return nil
}
