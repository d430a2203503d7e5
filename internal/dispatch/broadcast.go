package dispatch

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/yourorg/conveyor/internal/domain"
)

// Broadcast delivers every event to every live subscriber. Demand is
// forwarded to the producer only up to the slowest subscriber's total
// requests, so effective throughput is bounded by that subscriber. The
// same job id reaches multiple consumers; execution must be idempotent or
// the caller must accept duplicate side effects. Duplicate outcome reports
// are harmless — the store's fenced update applies only the first.
type Broadcast struct {
	logger *slog.Logger

	mu            sync.Mutex
	sink          DemandSink
	pendingDemand int
	subs          []*bcastSub

	// delivered is the total events emitted; forwarded is the total
	// demand passed to the producer. forwarded only grows when the
	// minimum of all subscribers' requested totals exceeds it.
	delivered int
	forwarded int
}

type bcastSub struct {
	sub       *Subscription
	requested int // monotonic total of Request(n) calls, baselined at join
}

func NewBroadcast(logger *slog.Logger) *Broadcast {
	return &Broadcast{logger: logger}
}

func (d *Broadcast) Bind(sink DemandSink) {
	d.mu.Lock()
	pending := d.pendingDemand
	d.pendingDemand = 0
	d.sink = sink
	d.mu.Unlock()

	if pending > 0 {
		sink.AddDemand(pending)
	}
}

// Subscribe joins the broadcast set. A late joiner is baselined at the
// high-water mark of delivery and forwarded demand, so it only gates
// events that postdate both its join and the demand already in flight.
// Without the forwarded term, demand forwarded against an unclaimed
// backlog would hand the joiner events it never requested.
func (d *Broadcast) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	s := &Subscription{
		id: uuid.New(),
		ch: make(chan domain.Job, buffer),
		d:  d,
	}

	d.mu.Lock()
	baseline := d.delivered
	if d.forwarded > baseline {
		baseline = d.forwarded
	}
	d.subs = append(d.subs, &bcastSub{sub: s, requested: baseline})
	d.mu.Unlock()
	return s
}

func (d *Broadcast) request(s *Subscription, n int) {
	d.mu.Lock()
	var found bool
	for _, bs := range d.subs {
		if bs.sub == s {
			bs.requested += n
			found = true
			break
		}
	}
	if !found {
		d.mu.Unlock()
		return
	}
	forward, sink := d.advanceLocked()
	d.mu.Unlock()

	if forward > 0 && sink != nil {
		sink.AddDemand(forward)
	}
}

func (d *Broadcast) unsubscribe(s *Subscription) {
	d.mu.Lock()
	for i, bs := range d.subs {
		if bs.sub == s {
			d.subs = append(d.subs[:i], d.subs[i+1:]...)
			close(s.ch)
			break
		}
	}
	// Removing the slowest subscriber can unblock demand.
	forward, sink := d.advanceLocked()
	d.mu.Unlock()

	if forward > 0 && sink != nil {
		sink.AddDemand(forward)
	}
}

// advanceLocked recomputes how much demand can be forwarded: the minimum
// requested total across live subscribers, minus what was already
// forwarded. With no subscribers no demand moves.
func (d *Broadcast) advanceLocked() (int, DemandSink) {
	if len(d.subs) == 0 {
		return 0, nil
	}
	min := d.subs[0].requested
	for _, bs := range d.subs[1:] {
		if bs.requested < min {
			min = bs.requested
		}
	}
	if min <= d.forwarded {
		return 0, d.sink
	}
	delta := min - d.forwarded
	if d.sink == nil {
		d.pendingDemand += delta
		d.forwarded = min
		return 0, nil
	}
	d.forwarded = min
	return delta, d.sink
}

func (d *Broadcast) Emit(jobs []domain.Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.delivered += len(jobs)
	for _, job := range jobs {
		for _, bs := range d.subs {
			select {
			case bs.sub.ch <- job:
			default:
				d.logger.Warn("broadcast subscriber buffer full; event dropped for it",
					"job_id", job.ID, "consumer_id", bs.sub.id)
			}
		}
	}
}
