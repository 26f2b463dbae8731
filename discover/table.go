package discover

import (
	"sort"
	"sync"

	"github.com/kadnet/discv4/enode"
	"github.com/kadnet/discv4/internal/netutil"
)

// bucketSize is K, the maximum number of live peers in one bucket.
const bucketSize = 16

// numBuckets is D, the number of distance buckets: one per possible
// log-distance value, 1..IDBits.
const numBuckets = enode.IDBits

// Outcome classifies the result of a TryAdd call.
type Outcome int

const (
	Added Outcome = iota
	AlreadyExisted
	BucketFull
	IPLimit
	SelfReference
)

func (o Outcome) String() string {
	switch o {
	case Added:
		return "ADDED"
	case AlreadyExisted:
		return "ALREADY_EXISTED"
	case BucketFull:
		return "BUCKET_FULL"
	case IPLimit:
		return "IP_LIMIT"
	case SelfReference:
		return "SELF"
	default:
		return "UNKNOWN"
	}
}

// AddResult is the outcome of TryAdd plus, when the target bucket was full,
// the least-recently-seen peer the caller may choose to evict.
type AddResult struct {
	Outcome           Outcome
	EvictionCandidate *Peer
}

// Table is the XOR-distance-bucketed routing table. It
// is owned exclusively by the discovery controller; all methods assume the
// controller's single-event-loop discipline, but take a mutex anyway so the
// table can also be read from outside the loop (e.g. cmd-line introspection
// or tests) without racing a live controller.
type Table struct {
	mu      sync.Mutex
	localID enode.NodeID
	buckets [numBuckets]*bucket
	ips     netutil.DistinctNetSet
}

// NewTable builds an empty table for the given local node id.
func NewTable(localID enode.NodeID) *Table {
	t := &Table{
		localID: localID,
		ips:     netutil.DistinctNetSet{Subnet: tableSubnetBits, Limit: tableIPLimit},
	}
	for i := range t.buckets {
		t.buckets[i] = newBucket()
	}
	return t
}

// bucketIndex returns the bucket index for id, given it already isn't the
// local id (log-distance would be zero for that, which has no bucket).
func (t *Table) bucketIndex(id enode.NodeID) int {
	return enode.LogDistance(t.localID, id) - 1
}

// TryAdd attempts to place p in its bucket. See Outcome for the possible
// results. The caller decides how to act on BucketFull.
func (t *Table) TryAdd(p *Peer) AddResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p.ID == t.localID {
		return AddResult{Outcome: SelfReference}
	}
	b := t.buckets[t.bucketIndex(p.ID)]
	if b.get(p.ID) != nil {
		return AddResult{Outcome: AlreadyExisted}
	}
	if len(b.entries) >= bucketSize {
		b.replacements.Add(p.ID, p)
		return AddResult{Outcome: BucketFull, EvictionCandidate: b.lruCandidate()}
	}
	if !t.admitIP(b, p.Endpoint.Host) {
		return AddResult{Outcome: IPLimit}
	}
	b.add(p)
	return AddResult{Outcome: Added}
}

// Get fetches a peer by id, or nil if unknown.
func (t *Table) Get(id enode.NodeID) *Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id == t.localID {
		return nil
	}
	return t.buckets[t.bucketIndex(id)].get(id)
}

// Evict removes a peer unconditionally.
func (t *Table) Evict(id enode.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id == t.localID {
		return
	}
	b := t.buckets[t.bucketIndex(id)]
	if p := b.get(id); p != nil {
		b.removeByID(id)
		t.releaseIP(b, p.Endpoint.Host)
	}
}

// NearestPeers returns up to k peers sorted ascending by XOR distance to
// target, across all buckets.
func (t *Table) NearestPeers(target enode.NodeID, k int) []*Peer {
	t.mu.Lock()
	all := make([]*Peer, 0, bucketSize)
	for _, b := range t.buckets {
		all = append(all, b.entries...)
	}
	t.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		return enode.Less(target, all[i].ID, all[j].ID)
	})
	if len(all) > k {
		all = all[:k]
	}
	return all
}

// admitIP enforces the per-bucket and per-table distinct-subnet budgets
// before a new entry is allowed into a bucket. Must be called with t.mu held.
func (t *Table) admitIP(b *bucket, host string) bool {
	if !t.ips.Add(host) {
		return false
	}
	if !b.ips.Add(host) {
		t.ips.Remove(host)
		return false
	}
	return true
}

// releaseIP undoes admitIP's bookkeeping for an evicted entry. Must be
// called with t.mu held.
func (t *Table) releaseIP(b *bucket, host string) {
	t.ips.Remove(host)
	b.ips.Remove(host)
}
