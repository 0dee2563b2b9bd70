package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"coordmutex/pkg/models"
)

const (
	StreamKeyUsage = "coordmutex:usage"
	// streamMaxLen caps the stream; older entries are trimmed approximately.
	streamMaxLen = 100_000
)

type UsageStream struct {
	client *redis.Client
}

// StreamConfig holds Redis connection configuration
type StreamConfig struct {
	Addr         string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultStreamConfig(addr string) StreamConfig {
	return StreamConfig{
		Addr:         addr,
		PoolSize:     20,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func NewUsageStream(addr string) (*UsageStream, error) {
	return NewUsageStreamWithConfig(DefaultStreamConfig(addr))
}

func NewUsageStreamWithConfig(cfg StreamConfig) (*UsageStream, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &UsageStream{client: client}, nil
}

func (r *UsageStream) Name() string { return "redis" }

func (r *UsageStream) Close() error {
	return r.client.Close()
}

// Append adds the record to the usage stream.
func (r *UsageStream) Append(ctx context.Context, record models.UsageRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal usage record: %w", err)
	}

	// XADD coordmutex:usage MAXLEN ~ N * payload {json} line {text}
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKeyUsage,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload":    payload,
			"process_id": record.ProcessID,
			"line":       record.Line(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}
	return nil
}

// Recent returns the newest records first.
func (r *UsageStream) Recent(ctx context.Context, limit int) ([]models.UsageRecord, error) {
	msgs, err := r.client.XRevRangeN(ctx, StreamKeyUsage, "+", "-", int64(limit)).Result()
	if err != nil {
		if err == redis.Nil {
			return []models.UsageRecord{}, nil
		}
		return nil, fmt.Errorf("failed to read usage stream: %w", err)
	}

	out := make([]models.UsageRecord, 0, len(msgs))
	for _, msg := range msgs {
		payloadStr, ok := msg.Values["payload"].(string)
		if !ok {
			return nil, fmt.Errorf("invalid payload format in %s", msg.ID)
		}
		var rec models.UsageRecord
		if err := json.Unmarshal([]byte(payloadStr), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal usage record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Len returns the number of records in the stream.
func (r *UsageStream) Len(ctx context.Context) (int64, error) {
	return r.client.XLen(ctx, StreamKeyUsage).Result()
}
