// README: Delivery queues; Redis list for multi-instance deployments, channel for single process.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const queueKey = "notify:queue"

var ErrQueueFull = errors.New("notification queue full")

type Queue interface {
	Enqueue(ctx context.Context, t Task) error
	// Dequeue blocks until a task is available or ctx is done.
	Dequeue(ctx context.Context) (Task, error)
}

type RedisQueue struct {
	redis *redis.Client
	wait  time.Duration
}

func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{redis: rdb, wait: 5 * time.Second}
}

func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return q.redis.RPush(ctx, queueKey, b).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Task{}, err
		}
		res, err := q.redis.BLPop(ctx, q.wait, queueKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Task{}, err
		}
		// BLPOP returns [key, value].
		var t Task
		if err := json.Unmarshal([]byte(res[1]), &t); err != nil {
			return Task{}, err
		}
		return t, nil
	}
}

type MemoryQueue struct {
	ch chan Task
}

func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{ch: make(chan Task, size)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, t Task) error {
	select {
	case q.ch <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Task, error) {
	select {
	case t := <-q.ch:
		return t, nil
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}
