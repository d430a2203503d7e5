// Package produce implements the demand-driven side of the pipeline: a
// single event loop that turns consumer demand into claimed jobs.
package produce

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/yourorg/conveyor/internal/claim"
	"github.com/yourorg/conveyor/internal/domain"
)

// Emitter receives the jobs the producer claims. In practice this is a
// dispatcher; tests substitute a recording stub.
type Emitter interface {
	Emit(jobs []domain.Job)
}

// Producer owns the outstanding-demand counter. Demand arrives via
// AddDemand, supply hints via NotifyNewWork; both are serviced by the Run
// loop, which is the only goroutine that reads or writes the counter.
//
// Invariant: jobs emitted since start never exceed demand received since
// start. The loop claims at most the outstanding amount and decrements by
// exactly the number of jobs the claim returned.
type Producer struct {
	coord   *claim.Coordinator
	emitter Emitter
	logger  *slog.Logger

	demandCh chan int
	wakeCh   chan struct{}

	demandServed atomic.Uint64
}

func New(coord *claim.Coordinator, emitter Emitter, logger *slog.Logger) *Producer {
	return &Producer{
		coord:    coord,
		emitter:  emitter,
		logger:   logger,
		demandCh: make(chan int, 256),
		wakeCh:   make(chan struct{}, 1),
	}
}

// AddDemand registers n more job slots of consumer capacity. Safe to call
// from any goroutine. n <= 0 is ignored.
func (p *Producer) AddDemand(n int) {
	if n <= 0 {
		return
	}
	p.demandCh <- n
}

// NotifyNewWork hints that new waiting jobs may exist. Fire-and-forget and
// coalescing: any number of redundant signals collapse into one wakeup,
// and a spurious wakeup claims nothing because claims are bounded by the
// actual waiting-row count.
func (p *Producer) NotifyNewWork() {
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

// DemandServed returns the number of job events emitted since start.
func (p *Producer) DemandServed() uint64 {
	return p.demandServed.Load()
}

// Run services demand until ctx is canceled. It must be called exactly
// once.
func (p *Producer) Run(ctx context.Context) {
	outstanding := 0

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-p.demandCh:
			outstanding += n
		case <-p.wakeCh:
		}

		// Fold in any demand that queued up behind the event we just took
		// so a single claim covers it.
		for {
			select {
			case n := <-p.demandCh:
				outstanding += n
				continue
			default:
			}
			break
		}

		outstanding = p.fulfill(ctx, outstanding)
	}
}

// fulfill claims up to outstanding jobs and emits them, returning the
// demand still unmet. A store failure or an empty claim leaves the
// shortfall outstanding; the next demand or enqueue signal retries it.
func (p *Producer) fulfill(ctx context.Context, outstanding int) int {
	if outstanding <= 0 {
		return outstanding
	}

	jobs, err := p.coord.Claim(ctx, outstanding)
	if err != nil {
		p.logger.Warn("claim failed; demand carried to next round",
			"outstanding", outstanding, "err", err)
		return outstanding
	}
	if len(jobs) == 0 {
		return outstanding
	}

	p.emitter.Emit(jobs)
	p.demandServed.Add(uint64(len(jobs)))
	return outstanding - len(jobs)
}
