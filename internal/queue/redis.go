package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeliveryQueueKey is the sorted set used when no key is configured.
const DeliveryQueueKey = "delivery_queue"

// RedisQueue stores jobs in a sorted set scored by ready time (unix micros).
// Jobs survive a restart of the engine, but the subscriptions and attempts
// they refer to live in the owning instance's registry and ledger. A key
// therefore belongs to one engine instance; instances sharing a Redis server
// must use distinct keys. Within an instance several pollers may share the
// key, and a job goes to whichever removes its member first.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue uses key, or DeliveryQueueKey when key is empty.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DeliveryQueueKey
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Push(ctx context.Context, job Job, readyAt time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}

	err = q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(readyAt.UnixMicro()),
		Member: string(data),
	}).Err()
	if err != nil {
		return fmt.Errorf("queuing job to redis: %w", err)
	}
	return nil
}

func (q *RedisQueue) PopReady(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}

	results, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMicro(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("polling delivery queue: %w", err)
	}

	jobs := make([]Job, 0, len(results))
	var errs []error
	for _, member := range results {
		// ZRem returning 0 means another poller already claimed it.
		removed, err := q.client.ZRem(ctx, q.key, member).Result()
		if err != nil {
			errs = append(errs, fmt.Errorf("claiming job: %w", err))
			continue
		}
		if removed == 0 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			errs = append(errs, fmt.Errorf("unmarshaling job: %w", err))
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, errors.Join(errs...)
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}
