package v4wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/sha3"

	"github.com/kadnet/discv4/enode"
)

// sigSize is the length of a recoverable SECP256K1 signature: one recovery
// byte followed by the 32-byte r and s values.
const sigSize = 65

// keccak256 hashes b via golang.org/x/crypto/sha3's legacy Keccak variant
// (the pre-standardization padding Ethereum-style signatures use).
func keccak256(b ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, x := range b {
		h.Write(x)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Encode builds the wire bytes for a packet: signature || type_tag || body,
// and returns the hash used for PING/PONG correlation (digest of the whole
// packet, per).
func Encode(priv *btcec.PrivateKey, ptype byte, data interface{}) (packet []byte, hash Hash, err error) {
	body, err := encodeBody(ptype, data)
	if err != nil {
		return nil, Hash{}, err
	}
	payload := append([]byte{ptype}, body...)
	digest := keccak256(payload)
	sig, err := ecdsa.SignCompact(priv, digest[:], true)
	if err != nil {
		return nil, Hash{}, fmt.Errorf("sign packet: %w", err)
	}
	packet = make([]byte, 0, sigSize+len(payload))
	packet = append(packet, sig...)
	packet = append(packet, payload...)
	if len(packet) > MaxPacketSize {
		return nil, Hash{}, fmt.Errorf("%w: encoded packet exceeds MTU (%d > %d)", ErrDecode, len(packet), MaxPacketSize)
	}
	hash = keccak256(packet)
	return packet, hash, nil
}

// Decode parses a received datagram, recovering the sender's node id from
// the signature and returning the typed packet data.
func Decode(buf []byte) (ptype byte, data interface{}, sender enode.NodeID, hash Hash, err error) {
	if len(buf) > MaxPacketSize {
		return 0, nil, enode.NodeID{}, Hash{}, fmt.Errorf("%w: datagram exceeds MTU (%d > %d)", ErrDecode, len(buf), MaxPacketSize)
	}
	if len(buf) < sigSize+1 {
		return 0, nil, enode.NodeID{}, Hash{}, fmt.Errorf("%w: too small", ErrDecode)
	}
	sig, payload := buf[:sigSize], buf[sigSize:]
	digest := keccak256(payload)
	pub, _, err := ecdsa.RecoverCompact(sig, digest[:])
	if err != nil {
		return 0, nil, enode.NodeID{}, Hash{}, fmt.Errorf("%w: bad signature: %v", ErrDecode, err)
	}
	ptype = payload[0]
	body := payload[1:]
	switch ptype {
	case PacketPing:
		data, err = decodePing(body)
	case PacketPong:
		data, err = decodePong(body)
	case PacketFindNeighbors:
		data, err = decodeFindNeighbors(body)
	case PacketNeighbors:
		data, err = decodeNeighbors(body)
	default:
		err = fmt.Errorf("%w: unknown packet type %d", ErrDecode, ptype)
	}
	if err != nil {
		return 0, nil, enode.NodeID{}, Hash{}, err
	}
	sender = enode.NodeIDFromPubkey(pub)
	hash = keccak256(buf)
	return ptype, data, sender, hash, nil
}

func encodeBody(ptype byte, data interface{}) ([]byte, error) {
	var buf bytes.Buffer
	switch ptype {
	case PacketPing:
		p, ok := data.(*Ping)
		if !ok {
			return nil, fmt.Errorf("ping: wrong data type %T", data)
		}
		writeEndpoint(&buf, p.From)
		writeEndpoint(&buf, p.To)
		writeExpiration(&buf, p.Expiration)
	case PacketPong:
		p, ok := data.(*Pong)
		if !ok {
			return nil, fmt.Errorf("pong: wrong data type %T", data)
		}
		writeEndpoint(&buf, p.To)
		buf.Write(p.PingHash[:])
		writeExpiration(&buf, p.Expiration)
	case PacketFindNeighbors:
		p, ok := data.(*FindNeighbors)
		if !ok {
			return nil, fmt.Errorf("findneighbors: wrong data type %T", data)
		}
		buf.Write(p.Target[:])
		writeExpiration(&buf, p.Expiration)
	case PacketNeighbors:
		p, ok := data.(*Neighbors)
		if !ok {
			return nil, fmt.Errorf("neighbors: wrong data type %T", data)
		}
		if len(p.Nodes) > MaxNeighbors {
			return nil, fmt.Errorf("neighbors: %d nodes exceeds max %d", len(p.Nodes), MaxNeighbors)
		}
		buf.WriteByte(byte(len(p.Nodes)))
		for _, n := range p.Nodes {
			buf.Write(n.ID[:])
			writeEndpoint(&buf, n.Endpoint)
		}
	default:
		return nil, fmt.Errorf("encode: unknown packet type %d", ptype)
	}
	return buf.Bytes(), nil
}

func writeEndpoint(buf *bytes.Buffer, e enode.Endpoint) {
	host := []byte(e.Host)
	buf.WriteByte(byte(len(host)))
	buf.Write(host)
	var port [4]byte
	binary.BigEndian.PutUint16(port[0:2], e.UDPPort)
	binary.BigEndian.PutUint16(port[2:4], e.TCPPort)
	buf.Write(port[:])
}

func writeExpiration(buf *bytes.Buffer, t *time.Time) {
	if t == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(t.Unix()))
	buf.Write(ts[:])
}

func readEndpoint(r *bytes.Reader) (enode.Endpoint, error) {
	l, err := r.ReadByte()
	if err != nil {
		return enode.Endpoint{}, fmt.Errorf("%w: truncated endpoint", ErrDecode)
	}
	host := make([]byte, l)
	if _, err := readFull(r, host); err != nil {
		return enode.Endpoint{}, err
	}
	var port [4]byte
	if _, err := readFull(r, port[:]); err != nil {
		return enode.Endpoint{}, err
	}
	return enode.Endpoint{
		Host:    string(host),
		UDPPort: binary.BigEndian.Uint16(port[0:2]),
		TCPPort: binary.BigEndian.Uint16(port[2:4]),
	}, nil
}

func readExpiration(r *bytes.Reader) (*time.Time, error) {
	flag, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated expiration flag", ErrDecode)
	}
	if flag == 0 {
		return nil, nil
	}
	var ts [8]byte
	if _, err := readFull(r, ts[:]); err != nil {
		return nil, err
	}
	t := time.Unix(int64(binary.BigEndian.Uint64(ts[:])), 0)
	return &t, nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n, err := r.Read(b)
	if err != nil || n != len(b) {
		return n, fmt.Errorf("%w: truncated field", ErrDecode)
	}
	return n, nil
}

func decodePing(body []byte) (*Ping, error) {
	r := bytes.NewReader(body)
	from, err := readEndpoint(r)
	if err != nil {
		return nil, err
	}
	to, err := readEndpoint(r)
	if err != nil {
		return nil, err
	}
	exp, err := readExpiration(r)
	if err != nil {
		return nil, err
	}
	return &Ping{From: from, To: to, Expiration: exp}, nil
}

func decodePong(body []byte) (*Pong, error) {
	r := bytes.NewReader(body)
	to, err := readEndpoint(r)
	if err != nil {
		return nil, err
	}
	var hash Hash
	if _, err := readFull(r, hash[:]); err != nil {
		return nil, err
	}
	exp, err := readExpiration(r)
	if err != nil {
		return nil, err
	}
	return &Pong{To: to, PingHash: hash, Expiration: exp}, nil
}

func decodeFindNeighbors(body []byte) (*FindNeighbors, error) {
	r := bytes.NewReader(body)
	var target enode.NodeID
	if _, err := readFull(r, target[:]); err != nil {
		return nil, err
	}
	exp, err := readExpiration(r)
	if err != nil {
		return nil, err
	}
	return &FindNeighbors{Target: target, Expiration: exp}, nil
}

func decodeNeighbors(body []byte) (*Neighbors, error) {
	r := bytes.NewReader(body)
	count, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated neighbors count", ErrDecode)
	}
	if int(count) > MaxNeighbors {
		return nil, fmt.Errorf("%w: neighbors count %d exceeds max %d", ErrDecode, count, MaxNeighbors)
	}
	nodes := make([]NeighborRecord, 0, count)
	for i := 0; i < int(count); i++ {
		var id enode.NodeID
		if _, err := readFull(r, id[:]); err != nil {
			return nil, err
		}
		ep, err := readEndpoint(r)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, NeighborRecord{ID: id, Endpoint: ep})
	}
	return &Neighbors{Nodes: nodes}, nil
}
