// Package claim owns every job state mutation: the atomic waiting→running
// claim and the terminal status report. The producer and consumers never
// touch the store except through a Coordinator.
package claim

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yourorg/conveyor/internal/domain"
	"github.com/yourorg/conveyor/internal/store"
)

// StoreUnavailableError wraps a store failure during claim or report. The
// caller treats it as "no progress this round": the producer waits for the
// next demand or enqueue signal, a consumer leaves the row to the sweeper.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// Coordinator arbitrates job ownership through the store's atomic
// operations.
type Coordinator struct {
	store  store.Store
	logger *slog.Logger
}

func NewCoordinator(s store.Store, logger *slog.Logger) *Coordinator {
	return &Coordinator{store: s, logger: logger}
}

// Claim transitions up to limit waiting jobs to running and returns them
// in insertion order. Concurrent calls — including from other processes —
// receive disjoint job sets; that exclusivity is enforced entirely by the
// store's claim operation. An empty result is normal when the backlog is
// exhausted.
func (c *Coordinator) Claim(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	jobs, err := c.store.Claim(ctx, limit)
	if err != nil {
		return nil, &StoreUnavailableError{Op: "claim", Err: err}
	}
	return jobs, nil
}

// Report records a terminal outcome for a running job. The update is keyed
// on the persisted id only; it does not consult any in-memory job state.
// A false return means the row was no longer running (late report after a
// sweep, or a duplicate under broadcast dispatch) and the outcome was
// discarded.
func (c *Coordinator) Report(ctx context.Context, id int64, outcome domain.Status) (bool, error) {
	applied, err := c.store.UpdateStatus(ctx, id, outcome)
	if err != nil {
		return false, &StoreUnavailableError{Op: "report", Err: err}
	}
	if !applied {
		c.logger.Warn("stale outcome report ignored",
			"job_id", id, "outcome", string(outcome))
	}
	return applied, nil
}
