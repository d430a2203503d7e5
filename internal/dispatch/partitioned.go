package dispatch

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/yourorg/conveyor/internal/domain"
)

// Partitioned delivers each event to exactly one subscriber, round-robin
// among those with unspent credit. The demand it forwards to the producer
// is the sum of all subscribers' requests, so every emitted event has a
// credited destination unless a subscriber left in between.
type Partitioned struct {
	logger *slog.Logger

	mu            sync.Mutex
	sink          DemandSink
	pendingDemand int
	subs          []*partSub
	next          int
	overflow      []domain.Job
}

type partSub struct {
	sub    *Subscription
	credit int
}

func NewPartitioned(logger *slog.Logger) *Partitioned {
	return &Partitioned{logger: logger}
}

func (d *Partitioned) Bind(sink DemandSink) {
	d.mu.Lock()
	pending := d.pendingDemand
	d.pendingDemand = 0
	d.sink = sink
	d.mu.Unlock()

	if pending > 0 {
		sink.AddDemand(pending)
	}
}

func (d *Partitioned) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	s := &Subscription{
		id: uuid.New(),
		ch: make(chan domain.Job, buffer),
		d:  d,
	}

	d.mu.Lock()
	d.subs = append(d.subs, &partSub{sub: s})
	d.mu.Unlock()
	return s
}

// request credits the subscriber and forwards new demand to the producer.
// Events parked in overflow (their original subscriber left before
// delivery) are handed out first; demand already forwarded for those is
// not forwarded again.
func (d *Partitioned) request(s *Subscription, n int) {
	d.mu.Lock()
	ps := d.find(s)
	if ps == nil {
		d.mu.Unlock()
		return
	}

	fromOverflow := 0
drain:
	for fromOverflow < n && len(d.overflow) > 0 {
		select {
		case s.ch <- d.overflow[0]:
			d.overflow = d.overflow[1:]
			fromOverflow++
		default:
			// Buffer full; leave the rest parked.
			break drain
		}
	}

	forward := n - fromOverflow
	ps.credit += forward

	sink := d.sink
	if sink == nil {
		d.pendingDemand += forward
		forward = 0
	}
	d.mu.Unlock()

	if forward > 0 {
		sink.AddDemand(forward)
	}
}

func (d *Partitioned) unsubscribe(s *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, ps := range d.subs {
		if ps.sub == s {
			d.subs = append(d.subs[:i], d.subs[i+1:]...)
			if d.next > i {
				d.next--
			}
			close(s.ch)
			return
		}
	}
}

func (d *Partitioned) Emit(jobs []domain.Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, job := range jobs {
		ps := d.pickLocked()
		if ps == nil {
			// The subscriber whose credit covered this event is gone.
			// Park the event for the next Request.
			d.logger.Warn("no credited subscriber; event parked", "job_id", job.ID)
			d.overflow = append(d.overflow, job)
			continue
		}
		ps.credit--
		select {
		case ps.sub.ch <- job:
		default:
			// Channel full means the subscriber requested beyond its
			// buffer. Park rather than block the producer.
			d.logger.Warn("subscriber buffer full; event parked",
				"job_id", job.ID, "consumer_id", ps.sub.id)
			d.overflow = append(d.overflow, job)
		}
	}
}

// pickLocked returns the next credited subscriber in round-robin order.
func (d *Partitioned) pickLocked() *partSub {
	if len(d.subs) == 0 {
		return nil
	}
	for i := 0; i < len(d.subs); i++ {
		idx := (d.next + i) % len(d.subs)
		if d.subs[idx].credit > 0 {
			d.next = (idx + 1) % len(d.subs)
			return d.subs[idx]
		}
	}
	return nil
}

func (d *Partitioned) find(s *Subscription) *partSub {
	for _, ps := range d.subs {
		if ps.sub == s {
			return ps
		}
	}
	return nil
}
