// Package notify carries the fire-and-forget new-work signal from the
// enqueue path to the producer, in-process or across processes via Redis
// pub/sub.
package notify

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const channel = "conveyor:new-work"

// Notifier signals that new waiting jobs may exist. Redundant signals are
// harmless: the producer's claims are bounded by the actual waiting-row
// count.
type Notifier interface {
	NotifyNewWork(ctx context.Context)
}

// Waker is the producer-side receiving end.
type Waker interface {
	NotifyNewWork()
}

// Local delivers the signal directly to an in-process producer.
type Local struct {
	waker Waker
}

func NewLocal(w Waker) *Local {
	return &Local{waker: w}
}

func (l *Local) NotifyNewWork(context.Context) {
	l.waker.NotifyNewWork()
}

// Redis publishes the signal on a pub/sub channel so enqueuers in other
// processes can wake this deployment's producer.
type Redis struct {
	rc     *redis.Client
	logger *slog.Logger
}

func NewRedis(rc *redis.Client, logger *slog.Logger) *Redis {
	return &Redis{rc: rc, logger: logger}
}

func (r *Redis) NotifyNewWork(ctx context.Context) {
	if err := r.rc.Publish(ctx, channel, "1").Err(); err != nil {
		// Fire-and-forget: a lost signal delays pickup until the next
		// enqueue or sweep, it does not fail the submission.
		r.logger.Warn("new-work publish failed", "err", err)
	}
}

// Listen subscribes to the new-work channel and wakes the producer on
// every message. It blocks until ctx is canceled.
func Listen(ctx context.Context, rc *redis.Client, w Waker, logger *slog.Logger) {
	sub := rc.Subscribe(ctx, channel)
	defer sub.Close()

	ch := sub.Channel()
	logger.Info("listening for new-work signals", "channel", channel)

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			w.NotifyNewWork()
		}
	}
}
