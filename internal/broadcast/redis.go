package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const streamPrefix = "reflecta:session:"

// RedisRelay is an Observer that appends every event to a per-session
// Redis Stream so out-of-process consumers can follow a run.
type RedisRelay struct {
	rdb    *redis.Client
	maxLen int64
	logger *zap.Logger
}

// NewRedisRelay connects to redisURL and verifies the connection.
func NewRedisRelay(redisURL string, maxLen int64, logger *zap.Logger) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisRelay{rdb: rdb, maxLen: maxLen, logger: logger}, nil
}

func (r *RedisRelay) Name() string { return "redis" }

// Notify appends ev to the stream of its session.
func (r *RedisRelay) Notify(ctx context.Context, ev Event) error {
	data, err := Marshal(ev)
	if err != nil {
		return err
	}

	stream := streamPrefix + ev.Session()
	_, err = r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type": string(ev.Kind()),
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}

	r.logger.Debug("relayed event",
		zap.String("session", ev.Session()),
		zap.String("type", string(ev.Kind())))
	return nil
}

// Tail follows the stream of sessionID starting after fromID ("0" for the
// beginning, "$" for new entries only). Cancel ctx to stop; the channel is
// closed on return.
func (r *RedisRelay) Tail(ctx context.Context, sessionID, fromID string) <-chan Event {
	ch := make(chan Event, 16)
	stream := streamPrefix + sessionID
	if fromID == "" {
		fromID = "$"
	}

	go func() {
		defer close(ch)
		lastID := fromID

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := r.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					r.logger.Warn("redis tail read failed", zap.String("stream", stream), zap.Error(err))
				}
				continue
			}

			for _, res := range results {
				for _, msg := range res.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					ev, err := Unmarshal([]byte(data))
					if err != nil {
						continue
					}
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (r *RedisRelay) Close() error {
	return r.rdb.Close()
}
