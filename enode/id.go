// Package enode describes the identity and network address of a discovery
// peer.
package enode

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// IDBits is the bit length of a NodeID: a compressed SECP256K1 public key
// is 33 bytes wide.
const IDBits = IDBytes * 8

// IDBytes is the byte length of a NodeID.
const IDBytes = 33

// NodeID is the compressed public-key derived identifier of a peer.
type NodeID [IDBytes]byte

// String renders the id as hex, for logging.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the zero value.
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

// NodeIDFromPubkey derives a NodeID from a SECP256K1 public key by taking
// its compressed serialization.
func NodeIDFromPubkey(pub *btcec.PublicKey) NodeID {
	var id NodeID
	copy(id[:], pub.SerializeCompressed())
	return id
}

// Distance is the XOR distance between two node ids.
type Distance [IDBytes]byte

// Xor computes the bitwise XOR distance between a and b.
func Xor(a, b NodeID) Distance {
	var d Distance
	for i := range a {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// LogDistance returns the index of the highest set bit of a XOR b, i.e.
// floor(log2(a XOR b)) + 1, with 0 meaning a == b. Buckets are indexed
// 0..IDBits-1 by this value minus one, as in the canonical Kademlia layout.
func LogDistance(a, b NodeID) int {
	d := Xor(a, b)
	for i := 0; i < IDBytes; i++ {
		if d[i] == 0 {
			continue
		}
		// highest set bit within this byte
		bit := 0
		for v := d[i]; v != 0; v >>= 1 {
			bit++
		}
		return (IDBytes-i-1)*8 + bit
	}
	return 0
}

// Less reports whether distance d1 (of id1 to target) is strictly smaller
// than distance d2 (of id2 to target), used to sort nearest_peers results.
func Less(target, id1, id2 NodeID) bool {
	d1 := Xor(target, id1)
	d2 := Xor(target, id2)
	for i := range d1 {
		if d1[i] != d2[i] {
			return d1[i] < d2[i]
		}
	}
	return false
}

// GenerateIdentity creates a fresh SECP256K1 key pair for a non-bootstrap
// node.
func GenerateIdentity() (*btcec.PrivateKey, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	return key, nil
}

// LoadIdentity parses a hex-encoded SECP256K1 private key, as used by
// bootstrap nodes configured with an explicit privkey.
func LoadIdentity(hexkey string) (*btcec.PrivateKey, error) {
	b, err := hex.DecodeString(hexkey)
	if err != nil {
		return nil, fmt.Errorf("decode privkey: %w", err)
	}
	key, _ := btcec.PrivKeyFromBytes(b)
	return key, nil
}
