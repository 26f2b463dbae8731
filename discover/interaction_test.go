package discover

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kadnet/discv4/enode"
)

func TestDispatchInvokesActionImmediately(t *testing.T) {
	var calls int32
	reg := NewRegistry(func(enode.NodeID, time.Duration) {})
	var peer enode.NodeID
	peer[0] = 1
	reg.Dispatch(peer, &InteractionState{
		PeerID:       peer,
		ExpectedType: 2,
		Action:       func(time.Duration) { atomic.AddInt32(&calls, 1) },
		Retryable:    false,
	})
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
	require.Equal(t, 1, reg.Len())
}

func TestDispatchReplacesPriorInteraction(t *testing.T) {
	fired := make(chan time.Duration, 4)
	reg := NewRegistry(func(p enode.NodeID, d time.Duration) { fired <- d })
	var peer enode.NodeID
	peer[0] = 2

	reg.Dispatch(peer, &InteractionState{ExpectedType: 2, Action: func(time.Duration) {}, Retryable: true})
	require.Equal(t, 1, reg.Len())
	// Dispatching again for the same peer must cancel the old timer so it
	// never fires, leaving exactly one interaction outstanding.
	reg.Dispatch(peer, &InteractionState{ExpectedType: 3, Action: func(time.Duration) {}, Retryable: false})
	require.Equal(t, 1, reg.Len())
}

func TestMatchRemovesOnSuccess(t *testing.T) {
	reg := NewRegistry(func(enode.NodeID, time.Duration) {})
	var peer enode.NodeID
	peer[0] = 3
	reg.Dispatch(peer, &InteractionState{
		ExpectedType: 2,
		Action:       func(time.Duration) {},
		Filter:       func(data interface{}) bool { return data == "ok" },
		Retryable:    true,
	})
	_, ok := reg.Match(peer, 2, "wrong")
	require.False(t, ok, "filter mismatch must not match")
	require.Equal(t, 1, reg.Len())

	state, ok := reg.Match(peer, 2, "ok")
	require.True(t, ok)
	require.NotNil(t, state)
	require.Equal(t, 0, reg.Len())
}

func TestMatchWrongTypeIgnored(t *testing.T) {
	reg := NewRegistry(func(enode.NodeID, time.Duration) {})
	var peer enode.NodeID
	peer[0] = 4
	reg.Dispatch(peer, &InteractionState{ExpectedType: 2, Action: func(time.Duration) {}, Retryable: false})
	_, ok := reg.Match(peer, 3, nil)
	require.False(t, ok)
	require.Equal(t, 1, reg.Len())
}

func TestRetryFiresAfterInitialDelay(t *testing.T) {
	fired := make(chan time.Duration, 1)
	reg := NewRegistry(func(p enode.NodeID, d time.Duration) { fired <- d })
	var peer enode.NodeID
	peer[0] = 5
	reg.Dispatch(peer, &InteractionState{ExpectedType: 2, Action: func(time.Duration) {}, Retryable: true})

	select {
	case d := <-fired:
		require.Equal(t, retryInitial, d)
	case <-time.After(3 * time.Second):
		t.Fatal("retry did not fire within the initial delay window")
	}
}

func TestHandleRetryFireSkipsMatchedInteraction(t *testing.T) {
	var actionCalls int32
	reg := NewRegistry(func(enode.NodeID, time.Duration) {})
	var peer enode.NodeID
	peer[0] = 6
	reg.Dispatch(peer, &InteractionState{
		ExpectedType: 2,
		Action:       func(time.Duration) { atomic.AddInt32(&actionCalls, 1) },
		Retryable:    true,
	})
	_, ok := reg.Match(peer, 2, nil)
	require.True(t, ok)

	// A stale retry event for an already-matched peer must be a no-op.
	reg.HandleRetryFire(peer, retryInitial)
	require.EqualValues(t, 1, atomic.LoadInt32(&actionCalls))
}

func TestRetryDelayLinearWithCap(t *testing.T) {
	require.Equal(t, 2000*time.Millisecond, retryDelay(0))
	require.Equal(t, 3000*time.Millisecond, retryDelay(2000*time.Millisecond))
	require.Equal(t, 4500*time.Millisecond, retryDelay(3000*time.Millisecond))
	require.Equal(t, retryCap, retryDelay(retryCap))
}
