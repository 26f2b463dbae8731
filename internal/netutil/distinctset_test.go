package netutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDistinctNetSetEnforcesPerSubnetLimit(t *testing.T) {
	s := DistinctNetSet{Subnet: 24, Limit: 2}
	require.True(t, s.Add("10.0.0.1"))
	require.True(t, s.Add("10.0.0.2"))
	require.False(t, s.Add("10.0.0.3"))
}

func TestDistinctNetSetDistinctSubnetsIndependent(t *testing.T) {
	s := DistinctNetSet{Subnet: 24, Limit: 1}
	require.True(t, s.Add("10.0.0.1"))
	require.True(t, s.Add("10.0.1.1"))
}

func TestDistinctNetSetRemoveFreesSlot(t *testing.T) {
	s := DistinctNetSet{Subnet: 24, Limit: 1}
	require.True(t, s.Add("10.0.0.1"))
	require.False(t, s.Add("10.0.0.2"))
	s.Remove("10.0.0.1")
	require.True(t, s.Add("10.0.0.2"))
}

func TestDistinctNetSetZeroLimitUnbounded(t *testing.T) {
	s := DistinctNetSet{Subnet: 24}
	for i := 0; i < 20; i++ {
		require.True(t, s.Add("10.0.0.1"))
	}
}

func TestDistinctNetSetUnparseableHostIsSingleton(t *testing.T) {
	s := DistinctNetSet{Subnet: 24, Limit: 1}
	require.True(t, s.Add("bootnode-a"))
	require.True(t, s.Add("bootnode-b"))
}
