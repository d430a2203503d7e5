// Package dispatch routes produced job events across the live consumer
// set. Two strategies exist: Partitioned delivers each event to exactly
// one subscriber, Broadcast delivers every event to every subscriber.
// Consumers advertise capacity through their Subscription; the dispatcher
// aggregates that capacity and forwards it to the producer as demand.
package dispatch

import (
	"github.com/google/uuid"

	"github.com/yourorg/conveyor/internal/domain"
)

// DemandSink receives aggregated consumer demand. The producer implements
// it.
type DemandSink interface {
	AddDemand(n int)
}

// Dispatcher is the routing layer between producer and consumers.
type Dispatcher interface {
	// Bind connects the dispatcher to the producer's demand counter.
	// Capacity advertised before Bind is buffered and flushed on Bind.
	Bind(sink DemandSink)

	// Subscribe registers a consumer and returns its subscription. buffer
	// is the channel capacity; a subscriber must never have more than
	// buffer unconsumed requested slots.
	Subscribe(buffer int) *Subscription

	// Emit routes produced job events. Called only by the producer, which
	// never emits more events than the demand this dispatcher forwarded.
	Emit(jobs []domain.Job)
}

type owner interface {
	request(s *Subscription, n int)
	unsubscribe(s *Subscription)
}

// Subscription is a consumer's handle on the dispatcher: a receive channel
// plus capacity advertisement.
type Subscription struct {
	id uuid.UUID
	ch chan domain.Job
	d  owner
}

// ID identifies the subscriber across resubscriptions.
func (s *Subscription) ID() uuid.UUID { return s.id }

// Jobs is the subscriber's event channel. It is closed by Close.
func (s *Subscription) Jobs() <-chan domain.Job { return s.ch }

// Request advertises capacity for n more job events.
func (s *Subscription) Request(n int) {
	if n <= 0 {
		return
	}
	s.d.request(s, n)
}

// Close removes the subscriber from the live set and revokes any unspent
// capacity. Events already delivered to the channel are not redistributed;
// their job rows stay running until the sweeper requeues them.
func (s *Subscription) Close() {
	s.d.unsubscribe(s)
}
