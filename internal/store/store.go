// Package store defines the durable job store contract and its two
// implementations: Postgres for production and an in-memory store for tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/yourorg/conveyor/internal/domain"
)

// ErrJobNotFound is returned by Get when no row matches the id.
var ErrJobNotFound = errors.New("job not found")

// Store is the durable store the claim coordinator and enqueue path run
// against. All mutation of job rows goes through these operations; nothing
// else in the system touches job state directly.
type Store interface {
	// Insert persists one job in waiting state and returns it with its
	// assigned id.
	Insert(ctx context.Context, payload []byte) (domain.Job, error)

	// InsertMany persists a batch of waiting jobs in order and returns
	// them with assigned ids.
	InsertMany(ctx context.Context, payloads [][]byte) ([]domain.Job, error)

	// Claim atomically selects up to limit waiting jobs in insertion
	// order, transitions them to running, and returns them. Concurrent
	// calls partition the waiting set: a job returned to one caller is
	// never returned to another. limit <= 0 returns an empty slice with
	// no side effects.
	Claim(ctx context.Context, limit int) ([]domain.Job, error)

	// UpdateStatus transitions a single running job to the given terminal
	// status. Returns false when the row was not in running state (already
	// terminal, or reaped back to waiting) — the update is skipped, never
	// forced.
	UpdateStatus(ctx context.Context, id int64, status domain.Status) (bool, error)

	// Get returns the job with the given id, or ErrJobNotFound.
	Get(ctx context.Context, id int64) (domain.Job, error)

	// ReapStale returns running jobs whose last update is older than
	// maxAge to waiting state, making them claimable again. Returns the
	// number of rows moved.
	ReapStale(ctx context.Context, maxAge time.Duration) (int64, error)
}
