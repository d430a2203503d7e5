// Package inflight maintains a Redis SET of job ids currently being
// executed, as a cross-process gauge of pipeline load.
package inflight

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const setKey = "conveyor:inflight"

// Tracker records executions in flight. Implementations must be safe for
// concurrent use by all consumers.
type Tracker interface {
	Add(ctx context.Context, jobID int64) error
	Remove(ctx context.Context, jobID int64) error
	Count(ctx context.Context) (int64, error)
}

// Redis tracks in-flight job ids in a SET. Using a SET rather than a
// counter keeps Remove idempotent: a duplicate release (broadcast mode, or
// a crashed consumer's retry) can never push the gauge negative.
type Redis struct {
	rc *redis.Client
}

func NewRedis(rc *redis.Client) *Redis {
	return &Redis{rc: rc}
}

func (t *Redis) Add(ctx context.Context, jobID int64) error {
	return t.rc.SAdd(ctx, setKey, strconv.FormatInt(jobID, 10)).Err()
}

func (t *Redis) Remove(ctx context.Context, jobID int64) error {
	return t.rc.SRem(ctx, setKey, strconv.FormatInt(jobID, 10)).Err()
}

// Count returns the current gauge value.
func (t *Redis) Count(ctx context.Context) (int64, error) {
	return t.rc.SCard(ctx, setKey).Result()
}

// Noop satisfies Tracker for deployments without Redis.
type Noop struct{}

func (Noop) Add(context.Context, int64) error     { return nil }
func (Noop) Remove(context.Context, int64) error  { return nil }
func (Noop) Count(context.Context) (int64, error) { return 0, nil }
