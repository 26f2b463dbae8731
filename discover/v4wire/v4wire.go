// Package v4wire implements the wire format of the four-message discovery
// protocol: PING, PONG, FIND_NEIGHBORS and NEIGHBORS.
package v4wire

import (
	"errors"
	"time"

	"github.com/kadnet/discv4/enode"
)

// MaxPacketSize is the largest datagram the controller will accept. Larger
// inbound datagrams are discarded as DecodeError.
const MaxPacketSize = 1600

// MaxNeighbors bounds the number of nodes a single NEIGHBORS packet may
// carry.
const MaxNeighbors = 16

// Packet type tags. Zero is reserved.
const (
	_ byte = iota
	PacketPing
	PacketPong
	PacketFindNeighbors
	PacketNeighbors
)

// Hash is a fixed-width digest over a packet's signed bytes.
type Hash [32]byte

// Ping requests a PONG to prove the sender is live and to tell the
// recipient the sender's advertised endpoints.
type Ping struct {
	From       enode.Endpoint
	To         enode.Endpoint
	Expiration *time.Time // optional; never enforced on decode
}

// Pong answers a Ping, echoing the hash of the packet it acknowledges.
type Pong struct {
	To         enode.Endpoint
	PingHash   Hash
	Expiration *time.Time
}

// FindNeighbors asks the recipient for the nodes it knows closest to Target.
type FindNeighbors struct {
	Target     enode.NodeID
	Expiration *time.Time
}

// NeighborRecord is one entry of a Neighbors reply.
type NeighborRecord struct {
	ID       enode.NodeID
	Endpoint enode.Endpoint
}

// Neighbors answers FindNeighbors with up to MaxNeighbors candidate peers.
type Neighbors struct {
	Nodes []NeighborRecord
}

// ErrDecode is the sentinel wrapped by every packet-decoding failure, so
// callers can match on it regardless of the precise cause.
var ErrDecode = errors.New("discover: malformed packet")
