package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultKey = "mailroom:jobs"

// pollTimeout bounds each BRPOP so a cancelled context is noticed.
const pollTimeout = 2 * time.Second

// RedisQueue is a list-backed queue shared by every server process.
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID int64) error {
	if err := q.client.LPush(ctx, q.key, jobID).Err(); err != nil {
		return fmt.Errorf("push job %d: %w", jobID, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (int64, error) {
	for {
		res, err := q.client.BRPop(ctx, pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 0, fmt.Errorf("pop job: %w", err)
		}

		id, err := strconv.ParseInt(res[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad job id %q: %w", res[1], err)
		}
		return id, nil
	}
}

// ----------------------------
// Lock
// ----------------------------

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker takes SET NX locks that expire after ttl.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(context.Context) error, error) {
	key = "lock:" + key
	owner := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}

	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{key}, owner).Err()
	}, nil
}
