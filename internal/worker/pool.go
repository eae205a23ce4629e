// Package worker runs the goroutines that take queued jobs and send them.
package worker

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"Mailroom/internal/queue"
)

// Sender sends one queued job.
type Sender interface {
	SendQueued(ctx context.Context, jobID int64) error
}

// dequeueBackOff paces a worker while the queue keeps failing.
var dequeueBackOff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

func StartPool(
	ctx context.Context,
	wg *sync.WaitGroup,
	workers int,
	jobs queue.Queue,
	locker queue.Locker,
	sender Sender,
	logger *zap.Logger,
) {

	if locker == nil {
		locker = queue.NopLocker{}
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()

			log := logger.With(zap.Int("worker_id", id))
			log.Info("worker started")

			retry := dequeueBackOff()
			for {
				jobID, err := jobs.Dequeue(ctx)
				if err != nil {
					if ctx.Err() != nil {
						log.Info("worker shutting down")
						return
					}
					if errors.Is(err, queue.ErrClosed) {
						log.Info("job queue closed")
						return
					}
					wait := retry.NextBackOff()
					log.Error("failed to dequeue job", zap.Error(err), zap.Duration("retry_in", wait))
					select {
					case <-time.After(wait):
					case <-ctx.Done():
						log.Info("worker shutting down")
						return
					}
					continue
				}
				retry.Reset()

				process(ctx, log, jobID, locker, sender)
			}
		}(i)
	}
}

func process(ctx context.Context, log *zap.Logger, jobID int64, locker queue.Locker, sender Sender) {
	log = log.With(zap.Int64("job_id", jobID))

	// ----------------------------
	// Lock
	// ----------------------------
	release, err := locker.TryLock(ctx, "job:"+strconv.FormatInt(jobID, 10))
	if err != nil {
		log.Error("failed to lock job", zap.Error(err))
		return
	}
	if release == nil {
		log.Info("job already being sent elsewhere")
		return
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release job lock", zap.Error(err))
		}
	}()

	// ----------------------------
	// Send
	// ----------------------------
	log.Info("sending job")
	if err := sender.SendQueued(ctx, jobID); err != nil {
		log.Error("job send failed", zap.Error(err))
		return
	}
	log.Info("job sent successfully")
}
