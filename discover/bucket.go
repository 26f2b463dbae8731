package discover

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kadnet/discv4/enode"
	"github.com/kadnet/discv4/internal/netutil"
)

// bucketIPLimit bounds how many peers whose addresses share a 24-bit prefix
// (a /24 for IPv4; IPv6 addresses are grouped by the same 24-bit prefix) may
// occupy a single bucket; tableIPLimit bounds the whole table.
const (
	bucketIPLimit, bucketSubnetBits = 2, 24
	tableIPLimit, tableSubnetBits   = 10, 24

	maxReplacements = 10 // size of the per-bucket overflow list
)

// bucket holds at most K peers, ordered most-recently-seen first, plus a
// small LRU-bounded replacement list of overflow candidates.
type bucket struct {
	entries      []*Peer
	replacements *lru.Cache[enode.NodeID, *Peer]
	ips          netutil.DistinctNetSet
}

func newBucket() *bucket {
	cache, _ := lru.New[enode.NodeID, *Peer](maxReplacements)
	return &bucket{
		replacements: cache,
		ips:          netutil.DistinctNetSet{Subnet: bucketSubnetBits, Limit: bucketIPLimit},
	}
}

func (b *bucket) indexOf(id enode.NodeID) int {
	for i, p := range b.entries {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (b *bucket) get(id enode.NodeID) *Peer {
	if i := b.indexOf(id); i >= 0 {
		return b.entries[i]
	}
	return nil
}

// bump moves an existing entry to the front (most-recently-seen) position.
func (b *bucket) bump(id enode.NodeID) bool {
	i := b.indexOf(id)
	if i < 0 {
		return false
	}
	p := b.entries[i]
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	b.entries = append([]*Peer{p}, b.entries...)
	return true
}

// add inserts p at the front. The caller must have already checked
// capacity (len(entries) < k).
func (b *bucket) add(p *Peer) {
	b.entries = append([]*Peer{p}, b.entries...)
	b.replacements.Remove(p.ID)
}

// removeByID deletes an entry unconditionally.
func (b *bucket) removeByID(id enode.NodeID) {
	if i := b.indexOf(id); i >= 0 {
		b.entries = append(b.entries[:i], b.entries[i+1:]...)
	}
}

// lruCandidate returns the least-recently-seen entry, i.e. the eviction
// candidate when the bucket is full.
func (b *bucket) lruCandidate() *Peer {
	if len(b.entries) == 0 {
		return nil
	}
	return b.entries[len(b.entries)-1]
}
