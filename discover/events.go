package discover

import (
	"sync"

	"github.com/JekaMas/workerpool"
)

// PeerBondedEvent is emitted once a peer's handshake completes.
type PeerBondedEvent struct {
	Peer        *Peer
	TimestampMS int64
}

// Subscriber receives PeerBondedEvent notifications. A subscriber may
// block; it never runs on the discovery event loop.
type Subscriber func(PeerBondedEvent)

// EventBus fans PeerBondedEvent out to subscribers on a worker pool so a
// slow observer can't stall packet dispatch.
type EventBus struct {
	mu   sync.Mutex
	subs []Subscriber
	pool *workerpool.WorkerPool
}

// NewEventBus starts a worker pool with the given concurrency for
// subscriber dispatch.
func NewEventBus(workers int) *EventBus {
	return &EventBus{pool: workerpool.New(workers)}
}

// Subscribe registers fn to receive future events.
func (b *EventBus) Subscribe(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

// Publish enqueues ev for delivery to every current subscriber. Enqueueing
// happens in the order Publish is called (i.e. the order peers transition
// to BONDED), but subscriber execution is concurrent and unordered across
// subscribers.
func (b *EventBus) Publish(ev PeerBondedEvent) {
	b.mu.Lock()
	subs := make([]Subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		sub := sub
		b.pool.Submit(func() { sub(ev) })
	}
}

// Close drains pending deliveries and stops the worker pool.
func (b *EventBus) Close() {
	b.pool.StopWait()
}
