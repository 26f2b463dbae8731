package discover

import (
	"sync"
	"time"

	"github.com/kadnet/discv4/enode"
)

// Retry delay parameters: linear(factor=1.5,
// initial_ms=2000, cap_ms=60000).
const (
	retryInitial = 2000 * time.Millisecond
	retryFactor  = 1.5
	retryCap     = 60000 * time.Millisecond
)

// retryDelay computes the next retry interval given the delay that was
// just used (0 for the very first attempt).
func retryDelay(prev time.Duration) time.Duration {
	if prev <= 0 {
		return retryInitial
	}
	next := time.Duration(float64(prev) * retryFactor)
	if next > retryCap {
		return retryCap
	}
	return next
}

// InteractionState describes one outstanding request to a peer.
type InteractionState struct {
	PeerID enode.NodeID

	// Action sends the outbound packet. It is invoked once on dispatch
	// and again on every retry; it rebuilds the packet from scratch so
	// retries carry fresh timestamps. lastTimeout is the delay that was
	// used to schedule this invocation (0 for the first).
	Action func(lastTimeout time.Duration)

	// ExpectedType is the packet type that can satisfy this interaction.
	ExpectedType byte

	// Filter further constrains which packets of ExpectedType match,
	// e.g. a PONG must carry the ping hash recorded when the PING was
	// sent.
	Filter func(data interface{}) bool

	Retryable bool
	Bootstrap bool
}

// Test reports whether an inbound packet of the given type/data satisfies
// this interaction.
func (s *InteractionState) Test(ptype byte, data interface{}) bool {
	if ptype != s.ExpectedType {
		return false
	}
	if s.Filter == nil {
		return true
	}
	return s.Filter(data)
}

type registryEntry struct {
	state *InteractionState
	timer *time.Timer
}

// Registry tracks at most one InteractionState per peer id
//. Timer callbacks never touch the map directly —
// they report back through onRetry so all mutation happens on the
// controller's single event loop.
type Registry struct {
	mu      sync.Mutex
	entries map[enode.NodeID]*registryEntry
	onRetry func(peer enode.NodeID, timeout time.Duration)
}

// NewRegistry builds an empty registry. onRetry is called (from a timer
// goroutine) whenever a retryable interaction's timer fires; the caller is
// expected to forward it to the single event loop and then call
// HandleRetryFire.
func NewRegistry(onRetry func(peer enode.NodeID, timeout time.Duration)) *Registry {
	return &Registry{
		entries: make(map[enode.NodeID]*registryEntry),
		onRetry: onRetry,
	}
}

// Dispatch inserts state for peer, cancelling any prior interaction for
// that peer, and performs the first invocation immediately.
func (r *Registry) Dispatch(peer enode.NodeID, state *InteractionState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.entries[peer]; ok {
		prev.timer.Stop()
		delete(r.entries, peer)
	}
	e := &registryEntry{state: state}
	r.entries[peer] = e
	r.executeLocked(peer, e, 0)
}

// executeLocked runs the action and, if retryable, arms the next timer.
// Caller must hold r.mu.
func (r *Registry) executeLocked(peer enode.NodeID, e *registryEntry, lastTimeout time.Duration) {
	e.state.Action(lastTimeout)
	if !e.state.Retryable {
		return
	}
	delay := retryDelay(lastTimeout)
	e.timer = time.AfterFunc(delay, func() {
		r.onRetry(peer, delay)
	})
}

// HandleRetryFire re-invokes the action for peer if its interaction is
// still outstanding (it may have already been matched or replaced by the
// time the timer fired). Must be called from the single event loop.
func (r *Registry) HandleRetryFire(peer enode.NodeID, timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[peer]
	if !ok {
		return
	}
	r.executeLocked(peer, e, timeout)
}

// Match looks up the interaction for peer and, if its Test passes for the
// given packet, cancels its timer, removes it, and returns it.
func (r *Registry) Match(peer enode.NodeID, ptype byte, data interface{}) (*InteractionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[peer]
	if !ok || !e.state.Test(ptype, data) {
		return nil, false
	}
	e.timer.Stop()
	delete(r.entries, peer)
	return e.state, true
}

// Cancel removes any outstanding interaction for peer without matching it.
func (r *Registry) Cancel(peer enode.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[peer]; ok {
		e.timer.Stop()
		delete(r.entries, peer)
	}
}

// Len reports how many interactions are currently outstanding.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Clear cancels every outstanding timer and empties the registry, used by
// the controller on Stop.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.timer.Stop()
	}
	r.entries = make(map[enode.NodeID]*registryEntry)
}
