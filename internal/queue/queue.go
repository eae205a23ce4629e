// Package queue hands job ids from the API over to the send workers.
package queue

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("queue closed")

type Queue interface {
	Enqueue(ctx context.Context, jobID int64) error
	// Dequeue blocks until a job id is available or ctx is done.
	Dequeue(ctx context.Context) (int64, error)
}

// Locker makes sure a job is sent by one worker at a time across processes.
type Locker interface {
	// TryLock returns a release func when the lock was taken and nil when
	// someone else holds it.
	TryLock(ctx context.Context, key string) (func(context.Context) error, error)
}

// ----------------------------
// In-process queue
// ----------------------------

type ChanQueue struct {
	jobs chan int64
	done chan struct{}
}

func NewChanQueue(size int) *ChanQueue {
	return &ChanQueue{jobs: make(chan int64, size), done: make(chan struct{})}
}

func (q *ChanQueue) Enqueue(ctx context.Context, jobID int64) error {
	select {
	case q.jobs <- jobID:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *ChanQueue) Dequeue(ctx context.Context) (int64, error) {
	select {
	case id := <-q.jobs:
		return id, nil
	case <-q.done:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close wakes every blocked Dequeue. It must be called once.
func (q *ChanQueue) Close() {
	close(q.done)
}

// NopLocker always grants the lock. Enough for a single process.
type NopLocker struct{}

func (NopLocker) TryLock(context.Context, string) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}
