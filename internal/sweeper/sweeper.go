// Package sweeper reconciles stranded jobs: running rows that were never
// reported terminal (consumer crash, lost dispatch, failed status write)
// are returned to waiting after a stale window so the pipeline can claim
// them again.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yourorg/conveyor/internal/notify"
	"github.com/yourorg/conveyor/internal/store"
)

// electionLockKey is the Postgres advisory lock for sweeper election.
// One sweeper wins across all worker processes sharing the database.
const electionLockKey = int64(0x434F4E56)

// Sweeper periodically requeues stale running rows and wakes the producer
// when it moved any.
type Sweeper struct {
	store    store.Store
	notifier notify.Notifier
	logger   *slog.Logger
	interval time.Duration
	maxAge   time.Duration
}

func New(s store.Store, n notify.Notifier, logger *slog.Logger,
	interval, maxAge time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &Sweeper{
		store:    s,
		notifier: n,
		logger:   logger,
		interval: interval,
		maxAge:   maxAge,
	}
}

// Run sweeps on a fixed interval until ctx is canceled. Use RunElected
// when multiple worker processes share one database.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// RunElected competes for the advisory lock and runs the sweep loop on
// the winner. The lock is held on a dedicated connection so it
// auto-releases if the process dies; losers retry every 10 seconds.
func (s *Sweeper) RunElected(ctx context.Context, pool *pgxpool.Pool) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := pool.Acquire(ctx)
		if err != nil {
			s.logger.Error("sweeper: acquire failed", "err", err)
			time.Sleep(5 * time.Second)
			continue
		}

		var won bool
		err = conn.QueryRow(ctx,
			`SELECT pg_try_advisory_lock($1)`, electionLockKey).Scan(&won)
		if err != nil || !won {
			conn.Release()
			time.Sleep(10 * time.Second)
			continue
		}

		s.logger.Info("sweeper: won election")
		s.Run(ctx)
		conn.Release()
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	moved, err := s.store.ReapStale(ctx, s.maxAge)
	if err != nil {
		s.logger.Error("sweep failed", "err", err)
		return
	}
	if moved > 0 {
		s.logger.Info("requeued stale running jobs",
			"count", moved, "max_age", s.maxAge)
		s.notifier.NotifyNewWork(ctx)
	}
}
