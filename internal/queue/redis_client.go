package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisBlockTimeout = 5 * time.Second

// RedisClient is a list-backed queue. Received messages move to a processing
// list and stay there until acknowledged; Recover puts them back.
type RedisClient struct {
	rdb           redis.Cmdable
	key           string
	processingKey string
	blockTimeout  time.Duration
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int, key string) (*RedisClient, error) {
	if key == "" {
		return nil, fmt.Errorf("REDIS_QUEUE_KEY is required")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedisClientWithCmdable(rdb, key), nil
}

// NewRedisClientWithCmdable wraps an existing connection.
func NewRedisClientWithCmdable(rdb redis.Cmdable, key string) *RedisClient {
	return &RedisClient{
		rdb:           rdb,
		key:           key,
		processingKey: key + ":processing",
		blockTimeout:  redisBlockTimeout,
	}
}

// Send pushes a message onto the queue.
func (r *RedisClient) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode redis message: %w", err)
	}
	if err := r.rdb.LPush(ctx, r.key, payload).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

// Receive blocks for the first message and then drains up to max without blocking.
func (r *RedisClient) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	first, err := r.rdb.BLMove(ctx, r.key, r.processingKey, "RIGHT", "LEFT", r.blockTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis blmove: %w", err)
	}

	out := []Delivery{r.delivery(first)}
	for len(out) < max {
		body, err := r.rdb.LMove(ctx, r.key, r.processingKey, "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("redis lmove: %w", err)
		}
		out = append(out, r.delivery(body))
	}
	return out, nil
}

// Recover moves every unacknowledged message back to the consuming end of the
// queue, oldest first out. Call it once at worker start before consuming.
func (r *RedisClient) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := r.rdb.LMove(ctx, r.processingKey, r.key, "LEFT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("redis recover: %w", err)
		}
		moved++
	}
}

func (r *RedisClient) delivery(body string) Delivery {
	return Delivery{
		Body:         body,
		ReceiveCount: 1,
		Ack: func(ctx context.Context) error {
			if err := r.rdb.LRem(ctx, r.processingKey, 1, body).Err(); err != nil {
				return fmt.Errorf("redis lrem: %w", err)
			}
			return nil
		},
	}
}

var (
	_ Client   = (*RedisClient)(nil)
	_ Consumer = (*RedisClient)(nil)
)
