package analytics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStreamMaxLen is the approximate cap on the analytics stream length.
const DefaultStreamMaxLen = 100000

// RedisStreamSink appends events to a Redis stream with XADD.
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamSink connects to Redis and checks the connection.
func NewRedisStreamSink(redisURL, stream string) (*RedisStreamSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStreamSinkWithClient(client, stream), nil
}

// NewRedisStreamSinkWithClient creates a sink from an existing Redis client.
func NewRedisStreamSinkWithClient(client *redis.Client, stream string) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream, maxLen: DefaultStreamMaxLen}
}

// Publish appends the event as one stream entry.
func (s *RedisStreamSink) Publish(ctx context.Context, event Event) error {
	values := map[string]interface{}{
		"type":                  string(event.Type),
		"form_type":             string(event.FormType),
		"document_id":           event.DocumentID,
		"property_id":           event.PropertyID,
		"seller_id":             event.SellerID,
		"actor_id":              event.ActorID,
		"status":                string(event.Status),
		"completion_percentage": strconv.Itoa(event.CompletionPercentage),
		"occurred_at":           event.OccurredAt.Format(time.RFC3339Nano),
	}
	if event.Section != "" {
		values["section"] = event.Section
	}
	if event.Slot != "" {
		values["slot"] = event.Slot
	}

	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (s *RedisStreamSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStreamSink) Close() error {
	return s.client.Close()
}
