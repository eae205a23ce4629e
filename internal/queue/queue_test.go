package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestChanQueue(t *testing.T) {
	ctx := context.Background()
	q := NewChanQueue(2)

	require.NoError(t, q.Enqueue(ctx, 7))
	id, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = q.Dequeue(cctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	q.Close()
	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, q.Enqueue(ctx, 8), ErrClosed)
}

func TestRedisQueueOrder(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	q := NewRedisQueue(client, "")

	require.NoError(t, q.Enqueue(ctx, 1))
	require.NoError(t, q.Enqueue(ctx, 2))

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	second, err := q.Dequeue(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
}

func TestRedisQueueBadID(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	q := NewRedisQueue(client, "jobs")

	_, err := mr.Lpush("jobs", "nope")
	require.NoError(t, err)

	_, err = q.Dequeue(ctx)
	assert.Error(t, err)
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	l := NewRedisLocker(client, time.Minute)

	release, err := l.TryLock(ctx, "job:1")
	require.NoError(t, err)
	require.NotNil(t, release)
	assert.True(t, mr.Exists("lock:job:1"))

	again, err := l.TryLock(ctx, "job:1")
	require.NoError(t, err)
	assert.Nil(t, again)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("lock:job:1"))

	release, err = l.TryLock(ctx, "job:1")
	require.NoError(t, err)
	assert.NotNil(t, release)
}

func TestRedisLockerExpired(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	l := NewRedisLocker(client, time.Second)

	release, err := l.TryLock(ctx, "job:2")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	other, err := l.TryLock(ctx, "job:2")
	require.NoError(t, err)
	require.NotNil(t, other)

	// the first owner must not free the second owner's lock
	require.NoError(t, release(ctx))
	assert.True(t, mr.Exists("lock:job:2"))
}
