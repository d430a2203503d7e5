// Package consume implements the terminal stage of the pipeline: receive
// job events, execute each under a time budget, and report the outcome
// back through the claim coordinator.
package consume

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yourorg/conveyor/internal/claim"
	"github.com/yourorg/conveyor/internal/dispatch"
	"github.com/yourorg/conveyor/internal/domain"
	"github.com/yourorg/conveyor/internal/inflight"
	"github.com/yourorg/conveyor/internal/task"
)

// DefaultTimeout is the per-job execution budget when none is configured.
const DefaultTimeout = 1000 * time.Millisecond

// reportTimeout bounds the status write after an outcome is known. It uses
// a fresh context so a shutdown in progress does not strand outcomes that
// are already determined.
const reportTimeout = 5 * time.Second

// Consumer executes dispatched jobs. Per job the state machine is
// dispatched → executing → {succeeded, failed, timed out} → reported;
// nothing a single job does (error, panic, overrun) affects its siblings.
type Consumer struct {
	dispatcher dispatch.Dispatcher
	coord      *claim.Coordinator
	registry   *task.Registry
	tracker    inflight.Tracker
	logger     *slog.Logger
	timeout    time.Duration
	batchSize  int
}

func New(
	dispatcher dispatch.Dispatcher,
	coord *claim.Coordinator,
	registry *task.Registry,
	tracker inflight.Tracker,
	logger *slog.Logger,
	timeout time.Duration,
	batchSize int,
) *Consumer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	if tracker == nil {
		tracker = inflight.Noop{}
	}
	return &Consumer{
		dispatcher: dispatcher,
		coord:      coord,
		registry:   registry,
		tracker:    tracker,
		logger:     logger,
		timeout:    timeout,
		batchSize:  batchSize,
	}
}

// Run subscribes to the dispatcher and processes batches until ctx is
// canceled. On cancellation it stops advertising capacity and lets any
// in-flight execution finish its race against the timeout.
func (c *Consumer) Run(ctx context.Context) {
	sub := c.dispatcher.Subscribe(c.batchSize)
	defer sub.Close()

	log := c.logger.With("consumer_id", sub.ID())
	log.Info("consumer started", "batch_size", c.batchSize, "timeout", c.timeout)

	sub.Request(c.batchSize)

	for {
		batch, ok := c.receiveBatch(ctx, sub)
		if !ok {
			log.Info("consumer stopped")
			return
		}

		for _, job := range batch {
			c.process(ctx, log, job)
		}

		// The batch is fully processed; restore exactly that much
		// capacity.
		sub.Request(len(batch))
	}
}

// receiveBatch blocks for the first event, then drains whatever else is
// already buffered, up to the batch size. Returns ok=false on shutdown.
func (c *Consumer) receiveBatch(ctx context.Context, sub *dispatch.Subscription) ([]domain.Job, bool) {
	var batch []domain.Job

	select {
	case <-ctx.Done():
		return nil, false
	case job, ok := <-sub.Jobs():
		if !ok {
			return nil, false
		}
		batch = append(batch, job)
	}

	for len(batch) < c.batchSize {
		select {
		case job, ok := <-sub.Jobs():
			if !ok {
				return batch, len(batch) > 0
			}
			batch = append(batch, job)
		default:
			return batch, true
		}
	}
	return batch, true
}

func (c *Consumer) process(ctx context.Context, log *slog.Logger, job domain.Job) {
	if err := c.tracker.Add(context.WithoutCancel(ctx), job.ID); err != nil {
		log.Warn("inflight add failed", "job_id", job.ID, "err", err)
	}

	outcome := c.execute(ctx, log, job)

	reportCtx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	if _, err := c.coord.Report(reportCtx, job.ID, outcome); err != nil {
		// The row stays running; the sweeper will requeue it after the
		// stale window.
		log.Error("outcome report failed; job left running",
			"job_id", job.ID, "outcome", string(outcome), "err", err)
	} else {
		log.Info("job finished", "job_id", job.ID, "outcome", string(outcome))
	}

	if err := c.tracker.Remove(reportCtx, job.ID); err != nil {
		log.Warn("inflight remove failed", "job_id", job.ID, "err", err)
	}
}

// execute decodes the payload, runs the handler in its own goroutine, and
// races completion against the deadline timer. The loser of the race is
// canceled best-effort: the handler context is canceled and its eventual
// result discarded, but execute never waits past the budget for it.
//
// The handler context is detached from the run context. Shutdown stops
// batch intake but must not cancel an execution that is already under way;
// the job keeps its full time budget and its real outcome gets recorded.
func (c *Consumer) execute(ctx context.Context, log *slog.Logger, job domain.Job) domain.Status {
	ref, err := task.DecodePayload(job.Payload)
	if err != nil {
		log.Warn("undecodable payload", "job_id", job.ID, "err", err)
		return domain.StatusError
	}

	handler, err := c.registry.Lookup(ref.Handler)
	if err != nil {
		log.Warn("unknown handler", "job_id", job.ID, "handler", ref.Handler)
		return domain.StatusError
	}

	execCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- runHandler(execCtx, handler, ref.Args)
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			log.Warn("handler failed", "job_id", job.ID, "handler", ref.Handler, "err", err)
			return domain.StatusError
		}
		return domain.StatusSuccess
	case <-timer.C:
		cancel()
		log.Warn("handler exceeded budget", "job_id", job.ID,
			"handler", ref.Handler, "timeout", c.timeout)
		return domain.StatusTimeout
	}
}

// runHandler converts a handler panic into an error so one misbehaving job
// cannot take down the consumer.
func runHandler(ctx context.Context, h task.Handler, args []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, args)
}
