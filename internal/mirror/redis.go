package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"airguard.dev/gateway/internal/store"
)

// DefaultStream is the Redis stream samples are appended to.
const DefaultStream = "airguard:samples"

// RedisStreamSink appends each sample to a Redis stream.
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamSink creates a sink writing to stream, trimmed to roughly
// maxLen entries (0 disables trimming).
func NewRedisStreamSink(client *redis.Client, stream string, maxLen int64) (*RedisStreamSink, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}, nil
}

// Name implements Sink.
func (s *RedisStreamSink) Name() string {
	return "redis"
}

// Write implements Sink.
func (s *RedisStreamSink) Write(ctx context.Context, sample *store.Sample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to encode sample: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"batchId":   sample.BatchID,
			"data":      string(data),
			"timestamp": sample.StoredAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append to stream %s: %w", s.stream, err)
	}
	return nil
}
