package discover

import (
	"crypto/rand"
	"fmt"
	"net"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"

	"github.com/kadnet/discv4/discover/v4wire"
	"github.com/kadnet/discv4/enode"
	"github.com/kadnet/discv4/internal/log"
)

// Timing parameters.
const (
	pingExpiration    = 20 * time.Second
	refreshCheck      = 30 * time.Second
	tableRefreshEvery = 30 * time.Second
)

// BootstrapPeer is a seed peer supplied at startup so a fresh node has
// somewhere to start bonding from.
type BootstrapPeer struct {
	ID       enode.NodeID
	Endpoint enode.Endpoint
}

// Config configures a Controller.
type Config struct {
	// IsBootnode selects a persistent identity loaded from PrivateKeyHex
	// rather than a freshly generated one.
	IsBootnode    bool
	PrivateKeyHex string

	Host          string
	DiscoveryPort uint16
	TCPPort       uint16

	Bootstrap []BootstrapPeer

	EventWorkers int
	Logger       *log.Logger
}

// Controller runs the discovery loop: one UDP socket, one reader goroutine
// and one single-owner dispatch loop that is the only code ever allowed to
// mutate the routing table, the interaction registry or a Peer record.
type Controller struct {
	priv          *btcec.PrivateKey
	localID       enode.NodeID
	localEndpoint enode.Endpoint

	table    *Table
	registry *Registry
	events   *EventBus
	log      *log.Logger

	conn *net.UDPConn

	packetCh chan inboundPacket
	retryCh  chan retryFire
	closing  chan struct{}
	group    *errgroup.Group

	lastRefresh time.Time
}

type inboundPacket struct {
	ptype  byte
	data   interface{}
	sender enode.NodeID
	hash   v4wire.Hash
	addr   *net.UDPAddr
}

type retryFire struct {
	peer    enode.NodeID
	timeout time.Duration
}

// Start resolves identity, binds the discovery socket, bonds configured
// bootstrap peers and brings the controller's goroutines up. It returns an
// error when the identity cannot be resolved (a private key that is not
// valid hex) or the socket cannot be bound; bootstrap bonding never makes
// Start fail.
func Start(cfg Config) (*Controller, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Root()
	}

	priv, err := resolveIdentity(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	localID := enode.NodeIDFromPubkey(priv.PubKey())

	addr := &net.UDPAddr{IP: net.ParseIP(cfg.Host), Port: int(cfg.DiscoveryPort)}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind discovery socket: %w", err)
	}

	workers := cfg.EventWorkers
	if workers <= 0 {
		workers = 4
	}

	c := &Controller{
		priv:    priv,
		localID: localID,
		localEndpoint: enode.Endpoint{
			Host:    cfg.Host,
			UDPPort: cfg.DiscoveryPort,
			TCPPort: cfg.TCPPort,
		},
		table:    NewTable(localID),
		events:   NewEventBus(workers),
		conn:     conn,
		packetCh: make(chan inboundPacket, 64),
		retryCh:  make(chan retryFire, 64),
		closing:  make(chan struct{}),
		log:      logger.With("id", localID.String()),
	}
	c.registry = NewRegistry(func(peer enode.NodeID, timeout time.Duration) {
		select {
		case c.retryCh <- retryFire{peer: peer, timeout: timeout}:
		case <-c.closing:
		}
	})

	c.log.Info("discovery starting", "addr", conn.LocalAddr())

	for _, bp := range cfg.Bootstrap {
		if bp.ID == c.localID {
			continue
		}
		peer := &Peer{ID: bp.ID, Endpoint: bp.Endpoint, Status: StatusKnown}
		res := c.table.TryAdd(peer)
		if res.Outcome == Added {
			c.bond(peer, true)
		}
	}

	g := new(errgroup.Group)
	g.Go(func() error { c.loop(); return nil })
	g.Go(func() error { c.readLoop(); return nil })
	c.group = g

	return c, nil
}

func resolveIdentity(cfg Config) (*btcec.PrivateKey, error) {
	if cfg.IsBootnode {
		return enode.LoadIdentity(cfg.PrivateKeyHex)
	}
	return enode.GenerateIdentity()
}

// Stop closes the socket, cancels every outstanding interaction and waits
// for the loop goroutines to exit.
func (c *Controller) Stop() error {
	close(c.closing)
	err := c.conn.Close()
	c.registry.Clear()
	c.events.Close()
	_ = c.group.Wait()
	if err != nil {
		return fmt.Errorf("close discovery socket: %w", err)
	}
	return nil
}

// Subscribe registers fn to be notified whenever a peer completes bonding.
func (c *Controller) Subscribe(fn Subscriber) {
	c.events.Subscribe(fn)
}

// LocalID returns the controller's own node id.
func (c *Controller) LocalID() enode.NodeID { return c.localID }

// LocalAddr returns the address the discovery socket is bound to, mainly
// so callers that started with DiscoveryPort 0 can learn the assigned
// ephemeral port.
func (c *Controller) LocalAddr() *net.UDPAddr { return c.conn.LocalAddr().(*net.UDPAddr) }

func (c *Controller) loop() {
	ticker := time.NewTicker(refreshCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.closing:
			return
		case pkt := <-c.packetCh:
			c.onMessage(pkt)
		case rf := <-c.retryCh:
			c.registry.HandleRetryFire(rf.peer, rf.timeout)
		case <-ticker.C:
			c.maybeRefresh()
		}
	}
}

// readLoop owns the socket read side exclusively; decoded packets cross
// into the single loop over packetCh so no table/registry state is ever
// touched from this goroutine.
func (c *Controller) readLoop() {
	buf := make([]byte, v4wire.MaxPacketSize+1)
	for {
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-c.closing:
				return
			default:
				c.log.Debug("discovery socket read error", "err", err)
				return
			}
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])

		ptype, data, sender, hash, err := v4wire.Decode(raw)
		if err != nil {
			c.log.Debug("dropping malformed packet", "addr", addr, "err", err)
			continue
		}
		select {
		case c.packetCh <- inboundPacket{ptype: ptype, data: data, sender: sender, hash: hash, addr: addr}:
		case <-c.closing:
			return
		}
	}
}

func (c *Controller) send(ep enode.Endpoint, packet []byte) {
	addr := &net.UDPAddr{IP: net.ParseIP(ep.Host), Port: int(ep.UDPPort)}
	if _, err := c.conn.WriteToUDP(packet, addr); err != nil {
		c.log.Warn("send failed", "peer", ep, "err", err)
	}
}

func expiresIn(d time.Duration) *time.Time {
	t := time.Now().Add(d)
	return &t
}

// bond drives a peer through the PING/PONG handshake. bootstrap marks
// whether this bond was initiated against a configured bootstrap peer,
// which on success triggers an immediate FIND_NEIGHBORS for our own id.
func (c *Controller) bond(peer *Peer, bootstrap bool) {
	if peer.FirstDiscovered.IsZero() {
		peer.FirstDiscovered = time.Now()
	}
	peer.Status = StatusBonding

	var firstHash v4wire.Hash
	var hashPinned bool

	action := func(lastTimeout time.Duration) {
		req := &v4wire.Ping{
			From:       c.localEndpoint,
			To:         peer.Endpoint,
			Expiration: expiresIn(pingExpiration),
		}
		packet, hash, err := v4wire.Encode(c.priv, v4wire.PacketPing, req)
		if err != nil {
			c.log.Error("encode ping", "peer", peer.ID, "err", err)
			return
		}
		// Retries resend with a fresh expiration but the filter stays
		// pinned to the hash of the first PING sent: a delayed PONG
		// answering that first PING correlates, a PONG echoing a later
		// retry's hash does not.
		if !hashPinned {
			firstHash = hash
			hashPinned = true
		}
		c.send(peer.Endpoint, packet)
	}

	state := &InteractionState{
		PeerID:       peer.ID,
		Action:       action,
		ExpectedType: v4wire.PacketPong,
		Filter: func(data interface{}) bool {
			pong, ok := data.(*v4wire.Pong)
			return ok && pong.PingHash == firstHash
		},
		Retryable: true,
		Bootstrap: bootstrap,
	}
	c.registry.Dispatch(peer.ID, state)
}

// findNodes sends FIND_NEIGHBORS to peer, asking for the nodes it knows
// closest to target.
func (c *Controller) findNodes(peer *Peer, target enode.NodeID) {
	action := func(lastTimeout time.Duration) {
		req := &v4wire.FindNeighbors{Target: target, Expiration: expiresIn(pingExpiration)}
		packet, _, err := v4wire.Encode(c.priv, v4wire.PacketFindNeighbors, req)
		if err != nil {
			c.log.Error("encode find_neighbors", "peer", peer.ID, "err", err)
			return
		}
		c.send(peer.Endpoint, packet)
	}
	state := &InteractionState{
		PeerID:       peer.ID,
		Action:       action,
		ExpectedType: v4wire.PacketNeighbors,
		Retryable:    true,
	}
	c.registry.Dispatch(peer.ID, state)
}

// maybeRefresh runs a lookup round for a random target once per
// tableRefreshEvery, asking the bucketSize nearest known peers for their
// neighbors.
func (c *Controller) maybeRefresh() {
	now := time.Now()
	if !c.lastRefresh.IsZero() && now.Sub(c.lastRefresh) < tableRefreshEvery {
		return
	}
	c.lastRefresh = now

	target := randomNodeID()
	nearest := c.table.NearestPeers(target, bucketSize)

	asked := mapset.NewSet[enode.NodeID]()
	for _, p := range nearest {
		if asked.Contains(p.ID) {
			continue
		}
		asked.Add(p.ID)
		c.findNodes(p, target)
	}
}

func randomNodeID() enode.NodeID {
	var id enode.NodeID
	_, _ = rand.Read(id[:])
	return id
}

// onMessage dispatches one decoded inbound packet. It is only ever called
// from the single event loop.
func (c *Controller) onMessage(pkt inboundPacket) {
	if pkt.sender == c.localID {
		c.log.Debug("dropping self packet")
		return
	}

	switch pkt.ptype {
	case v4wire.PacketPing:
		c.handlePing(pkt)
	case v4wire.PacketPong:
		c.handlePong(pkt)
	case v4wire.PacketFindNeighbors:
		c.handleFindNeighbors(pkt)
	case v4wire.PacketNeighbors:
		c.handleNeighbors(pkt)
	default:
		c.log.Debug("dropping unknown packet type", "type", pkt.ptype)
	}
}

func (c *Controller) handlePing(pkt inboundPacket) {
	req, ok := pkt.data.(*v4wire.Ping)
	if !ok {
		return
	}
	peer := c.table.Get(pkt.sender)
	if peer == nil {
		peer = &Peer{ID: pkt.sender, Status: StatusKnown}
	} else {
		peer = peer.Clone()
	}
	peer.Endpoint = enode.Endpoint{
		Host:    pkt.addr.IP.String(),
		UDPPort: uint16(pkt.addr.Port),
		TCPPort: req.From.TCPPort,
	}

	if !c.addToTable(peer) {
		return
	}

	pong := &v4wire.Pong{To: req.From, PingHash: pkt.hash, Expiration: expiresIn(pingExpiration)}
	packet, _, err := v4wire.Encode(c.priv, v4wire.PacketPong, pong)
	if err != nil {
		c.log.Error("encode pong", "peer", peer.ID, "err", err)
		return
	}
	c.send(peer.Endpoint, packet)
}

func (c *Controller) handlePong(pkt inboundPacket) {
	state, ok := c.registry.Match(pkt.sender, v4wire.PacketPong, pkt.data)
	if !ok {
		c.log.Debug("unsolicited pong", "peer", pkt.sender)
		return
	}
	peer := c.table.Get(pkt.sender)
	if peer == nil {
		peer = &Peer{
			ID: pkt.sender,
			Endpoint: enode.Endpoint{
				Host:    pkt.addr.IP.String(),
				UDPPort: uint16(pkt.addr.Port),
			},
		}
	} else {
		peer = peer.Clone()
	}
	if !c.addToTable(peer) {
		return
	}
	if state.Bootstrap {
		c.findNodes(peer, c.localID)
	}
}

func (c *Controller) handleFindNeighbors(pkt inboundPacket) {
	req, ok := pkt.data.(*v4wire.FindNeighbors)
	if !ok {
		return
	}
	nearest := c.table.NearestPeers(req.Target, bucketSize)
	records := make([]v4wire.NeighborRecord, 0, len(nearest))
	for _, p := range nearest {
		records = append(records, v4wire.NeighborRecord{ID: p.ID, Endpoint: p.Endpoint})
	}
	resp := &v4wire.Neighbors{Nodes: records}
	packet, _, err := v4wire.Encode(c.priv, v4wire.PacketNeighbors, resp)
	if err != nil {
		c.log.Error("encode neighbors", "peer", pkt.sender, "err", err)
		return
	}
	replyEndpoint := enode.Endpoint{Host: pkt.addr.IP.String(), UDPPort: uint16(pkt.addr.Port)}
	c.send(replyEndpoint, packet)
}

func (c *Controller) handleNeighbors(pkt inboundPacket) {
	_, ok := c.registry.Match(pkt.sender, v4wire.PacketNeighbors, pkt.data)
	if !ok {
		c.log.Debug("unsolicited neighbors", "peer", pkt.sender)
		return
	}
	neighbors := pkt.data.(*v4wire.Neighbors)
	for _, n := range neighbors.Nodes {
		if n.ID == c.localID {
			continue
		}
		if c.table.Get(n.ID) != nil {
			continue
		}
		c.bond(&Peer{ID: n.ID, Endpoint: n.Endpoint, Status: StatusKnown}, false)
	}
}

// addToTable runs TryAdd, resolving BucketFull/AlreadyExisted by evicting
// and retrying exactly once, and marks the peer BONDED,
// publishing a PeerBondedEvent the first time it reaches that state. It
// returns false if the peer was rejected outright (self or IP-limited).
func (c *Controller) addToTable(peer *Peer) bool {
	res := c.table.TryAdd(peer)
	switch res.Outcome {
	case SelfReference, IPLimit:
		return false
	case AlreadyExisted:
		if existing := c.table.Get(peer.ID); existing != nil && peer.FirstDiscovered.IsZero() {
			peer.FirstDiscovered = existing.FirstDiscovered
		}
		c.table.Evict(peer.ID)
		if c.table.TryAdd(peer).Outcome != Added {
			return false
		}
	case BucketFull:
		c.table.Evict(res.EvictionCandidate.ID)
		if c.table.TryAdd(peer).Outcome != Added {
			return false
		}
	case Added:
		// nothing further to reconcile
	}

	now := time.Now()
	if peer.FirstDiscovered.IsZero() {
		peer.FirstDiscovered = now
	}
	peer.LastSeen = now
	if peer.Status != StatusBonded {
		peer.Status = StatusBonded
		c.events.Publish(PeerBondedEvent{Peer: peer.Clone(), TimestampMS: now.UnixMilli()})
	}
	return true
}
