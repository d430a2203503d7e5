// Package queue is the external job submission entry point: insert
// waiting rows, then signal the producer that new supply exists.
package queue

import (
	"context"
	"fmt"

	"github.com/yourorg/conveyor/internal/domain"
	"github.com/yourorg/conveyor/internal/notify"
	"github.com/yourorg/conveyor/internal/store"
)

// Ack acknowledges a successful submission.
type Ack struct {
	JobID  int64
	Status domain.Status
}

// Enqueue inserts one waiting job and fires the new-work signal. The
// signal is fire-and-forget; a lost signal only delays pickup until the
// next one.
func Enqueue(ctx context.Context, s store.Store, n notify.Notifier, payload []byte) (Ack, error) {
	if len(payload) == 0 {
		return Ack{}, fmt.Errorf("enqueue: payload is required")
	}

	job, err := s.Insert(ctx, payload)
	if err != nil {
		return Ack{}, fmt.Errorf("enqueue: %w", err)
	}

	n.NotifyNewWork(ctx)
	return Ack{JobID: job.ID, Status: job.Status}, nil
}

// EnqueueMany inserts a batch of waiting jobs and fires a single signal
// for the whole batch.
func EnqueueMany(ctx context.Context, s store.Store, n notify.Notifier, payloads [][]byte) ([]Ack, error) {
	if len(payloads) == 0 {
		return nil, fmt.Errorf("enqueue: at least one payload is required")
	}
	for i, p := range payloads {
		if len(p) == 0 {
			return nil, fmt.Errorf("enqueue: payload %d is empty", i)
		}
	}

	jobs, err := s.InsertMany(ctx, payloads)
	if err != nil {
		return nil, fmt.Errorf("enqueue batch: %w", err)
	}

	n.NotifyNewWork(ctx)

	acks := make([]Ack, 0, len(jobs))
	for _, job := range jobs {
		acks = append(acks, Ack{JobID: job.ID, Status: job.Status})
	}
	return acks, nil
}
