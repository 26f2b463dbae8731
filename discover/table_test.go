package discover

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kadnet/discv4/enode"
)

func idWithTopBit(n byte) enode.NodeID {
	var id enode.NodeID
	id[0] = 0x80
	id[enode.IDBytes-1] = n
	return id
}

// peerAt builds a peer whose id falls in the same bucket as every other
// idWithTopBit(n) value (same highest set bit) but whose endpoint sits in
// its own /24, so bucket-fill tests aren't confounded by IP-limiting.
func peerAt(n byte) *Peer {
	return &Peer{
		ID:       idWithTopBit(n),
		Endpoint: enode.Endpoint{Host: fmt.Sprintf("10.0.%d.1", n), UDPPort: 30303},
	}
}

func TestTryAddSelfRejected(t *testing.T) {
	var local enode.NodeID
	local[0] = 1
	tab := NewTable(local)
	res := tab.TryAdd(&Peer{ID: local})
	require.Equal(t, SelfReference, res.Outcome)
	require.Nil(t, tab.Get(local))
}

func TestTryAddAlreadyExisted(t *testing.T) {
	var local enode.NodeID
	tab := NewTable(local)
	p := peerAt(1)
	require.Equal(t, Added, tab.TryAdd(p).Outcome)
	require.Equal(t, AlreadyExisted, tab.TryAdd(p).Outcome)
}

func TestTryAddBucketFullReturnsLRUCandidate(t *testing.T) {
	var local enode.NodeID
	tab := NewTable(local)

	var first *Peer
	for i := 1; i <= bucketSize; i++ {
		p := peerAt(byte(i))
		if i == 1 {
			first = p
		}
		res := tab.TryAdd(p)
		require.Equalf(t, Added, res.Outcome, "peer %d", i)
	}

	overflow := peerAt(byte(bucketSize + 1))
	res := tab.TryAdd(overflow)
	require.Equal(t, BucketFull, res.Outcome)
	require.NotNil(t, res.EvictionCandidate)
	require.Equal(t, first.ID, res.EvictionCandidate.ID, "LRU candidate must be the least-recently-seen (first inserted) entry")
}

func TestEvictThenAddEquivalentToSingleAdd(t *testing.T) {
	var local enode.NodeID
	tab := NewTable(local)
	p := peerAt(5)

	require.Equal(t, Added, tab.TryAdd(p).Outcome)
	tab.Evict(p.ID)
	require.Nil(t, tab.Get(p.ID))
	require.Equal(t, Added, tab.TryAdd(p).Outcome)
	require.NotNil(t, tab.Get(p.ID))

	b := tab.buckets[tab.bucketIndex(p.ID)]
	require.Len(t, b.entries, 1)
}

func TestNearestPeersSortedAscending(t *testing.T) {
	var local enode.NodeID
	tab := NewTable(local)
	for i := 1; i <= 5; i++ {
		tab.TryAdd(peerAt(byte(i)))
	}
	var target enode.NodeID
	nearest := tab.NearestPeers(target, 3)
	require.Len(t, nearest, 3)
	for i := 1; i < len(nearest); i++ {
		require.True(t, enode.Less(target, nearest[i-1].ID, nearest[i].ID) || nearest[i-1].ID == nearest[i].ID)
	}
}

func TestNearestPeersReturnsAllWhenFewerThanK(t *testing.T) {
	var local enode.NodeID
	tab := NewTable(local)
	for i := 1; i <= bucketSize; i++ {
		tab.TryAdd(peerAt(byte(i)))
	}
	require.Len(t, tab.NearestPeers(local, 1000), bucketSize)
}

func TestBucketCapacityInvariant(t *testing.T) {
	var local enode.NodeID
	tab := NewTable(local)
	for i := 1; i <= bucketSize+5; i++ {
		p := peerAt(byte(i))
		res := tab.TryAdd(p)
		if res.Outcome == BucketFull {
			tab.Evict(res.EvictionCandidate.ID)
			require.Equal(t, Added, tab.TryAdd(p).Outcome)
		}
	}
	b := tab.buckets[tab.bucketIndex(idWithTopBit(1))]
	require.LessOrEqual(t, len(b.entries), bucketSize)
}

func TestIPLimitRejectsTooManyFromSameSubnet(t *testing.T) {
	var local enode.NodeID
	tab := NewTable(local)
	mk := func(n byte, host string) *Peer {
		return &Peer{ID: idWithTopBit(n), Endpoint: enode.Endpoint{Host: host}}
	}
	require.Equal(t, Added, tab.TryAdd(mk(1, "10.1.2.1")).Outcome)
	require.Equal(t, Added, tab.TryAdd(mk(2, "10.1.2.2")).Outcome)
	// bucketIPLimit is 2 per /24; a third distinct host in 10.1.2.0/24 is rejected.
	require.Equal(t, IPLimit, tab.TryAdd(mk(3, "10.1.2.3")).Outcome)
}
