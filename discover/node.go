package discover

import (
	"time"

	"github.com/kadnet/discv4/enode"
)

// Status is the discovery lifecycle state of a Peer.
type Status int

const (
	// StatusKnown means the peer has been sighted (via PING, NEIGHBORS, or
	// configuration) but no bond has completed yet.
	StatusKnown Status = iota
	// StatusBonding means a PING has been sent and a PONG is awaited.
	StatusBonding
	// StatusBonded means the PING/PONG handshake completed.
	StatusBonded
)

func (s Status) String() string {
	switch s {
	case StatusKnown:
		return "KNOWN"
	case StatusBonding:
		return "BONDING"
	case StatusBonded:
		return "BONDED"
	default:
		return "UNKNOWN"
	}
}

// Peer is a routing-table entry: an identity, where it's reachable, and its
// discovery bookkeeping.
type Peer struct {
	ID       enode.NodeID
	Endpoint enode.Endpoint

	Status Status

	FirstDiscovered time.Time
	LastSeen        time.Time
	LastContacted   time.Time
}

// Clone returns a copy safe for handing to external observers, since the
// table's internal records must never be mutated by callers.
func (p *Peer) Clone() *Peer {
	cp := *p
	return &cp
}
