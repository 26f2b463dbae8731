package v4wire

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/kadnet/discv4/enode"
)

func testKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return key
}

func TestRoundTripPing(t *testing.T) {
	priv := testKey(t)
	exp := time.Unix(1700000000, 0)
	ping := &Ping{
		From:       enode.Endpoint{Host: "127.0.0.1", UDPPort: 30303, TCPPort: 30303},
		To:         enode.Endpoint{Host: "10.0.0.2", UDPPort: 30303},
		Expiration: &exp,
	}
	packet, hash, err := Encode(priv, PacketPing, ping)
	require.NoError(t, err)

	ptype, data, sender, decodedHash, err := Decode(packet)
	require.NoError(t, err)
	require.Equal(t, PacketPing, ptype)
	require.Equal(t, hash, decodedHash)
	require.Equal(t, enode.NodeIDFromPubkey(priv.PubKey()), sender)

	got, ok := data.(*Ping)
	require.True(t, ok)
	require.Equal(t, ping.From, got.From)
	require.Equal(t, ping.To, got.To)
	require.Equal(t, ping.Expiration.Unix(), got.Expiration.Unix())
}

func TestRoundTripPong(t *testing.T) {
	priv := testKey(t)
	pong := &Pong{
		To:       enode.Endpoint{Host: "127.0.0.1", UDPPort: 30303},
		PingHash: Hash{1, 2, 3},
	}
	packet, _, err := Encode(priv, PacketPong, pong)
	require.NoError(t, err)

	ptype, data, _, _, err := Decode(packet)
	require.NoError(t, err)
	require.Equal(t, PacketPong, ptype)
	got := data.(*Pong)
	require.Equal(t, pong.PingHash, got.PingHash)
	require.Nil(t, got.Expiration)
}

func TestRoundTripFindNeighbors(t *testing.T) {
	priv := testKey(t)
	var target enode.NodeID
	target[0] = 0xAB
	req := &FindNeighbors{Target: target}
	packet, _, err := Encode(priv, PacketFindNeighbors, req)
	require.NoError(t, err)

	_, data, _, _, err := Decode(packet)
	require.NoError(t, err)
	got := data.(*FindNeighbors)
	require.Equal(t, target, got.Target)
}

func TestRoundTripNeighbors(t *testing.T) {
	priv := testKey(t)
	var id1, id2 enode.NodeID
	id1[0], id2[0] = 1, 2
	reply := &Neighbors{Nodes: []NeighborRecord{
		{ID: id1, Endpoint: enode.Endpoint{Host: "1.2.3.4", UDPPort: 1}},
		{ID: id2, Endpoint: enode.Endpoint{Host: "5.6.7.8", UDPPort: 2, TCPPort: 3}},
	}}
	packet, _, err := Encode(priv, PacketNeighbors, reply)
	require.NoError(t, err)

	_, data, _, _, err := Decode(packet)
	require.NoError(t, err)
	got := data.(*Neighbors)
	require.Equal(t, reply.Nodes, got.Nodes)
}

func TestDecodeRejectsOversizeDatagram(t *testing.T) {
	buf := make([]byte, MaxPacketSize+1)
	_, _, _, _, err := Decode(buf)
	require.ErrorIs(t, err, ErrDecode)
}

func TestDecodeRejectsTruncated(t *testing.T) {
	_, _, _, _, err := Decode([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrDecode)
}

func TestDecodeRejectsBadSignature(t *testing.T) {
	priv := testKey(t)
	packet, _, err := Encode(priv, PacketPing, &Ping{})
	require.NoError(t, err)
	packet[0] ^= 0xFF // corrupt signature recovery byte
	_, _, _, _, err = Decode(packet)
	require.Error(t, err)
}

func TestNeighborsRejectsTooManyNodes(t *testing.T) {
	priv := testKey(t)
	nodes := make([]NeighborRecord, MaxNeighbors+1)
	_, _, err := Encode(priv, PacketNeighbors, &Neighbors{Nodes: nodes})
	require.Error(t, err)
}
