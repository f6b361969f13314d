package rudp

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/w3itch-crafter/minetest/binheap"
)

var (
	ErrClosed     = errors.New("rudp: use of closed connection")
	ErrNoPeer     = errors.New("rudp: no such peer")
	ErrChNoTooBig = errors.New("rudp: channel number >= ChannelCount")
	ErrPktTooBig  = errors.New("rudp: packet too big")
	ErrOutOfPeers = errors.New("rudp: out of peer ids")
	ErrNotRunning = errors.New("rudp: connection not serving or connected")
	ErrEmptyPkt   = errors.New("rudp: empty packet")
)

// A PeerHandler gets notified about peer lifecycle. Callbacks run on the
// worker that observed the change; they must not block.
type PeerHandler interface {
	PeerConnected(id PeerID)
	PeerDisconnected(id PeerID, timedOut bool)
}

// A Conn is one endpoint of the transport: a UDP socket, a peer registry,
// and the send/receive workers. All exported methods are safe for
// concurrent use.
type Conn struct {
	cfg     Config
	log     zerolog.Logger
	clock   clock.Clock
	sock    udpSocket
	handler PeerHandler

	// Command queue: user -> send worker.
	cmds chan *command
	// Event queue: workers -> user.
	events chan Event

	peersMu      sync.Mutex
	peers        map[PeerID]*peer
	peersByAddr  map[string]PeerID
	nextRemoteID PeerID

	// Our own session id: PeerIDSrv when serving, assigned by the
	// server when connecting.
	selfID atomic.Uint32

	// Owned by the receive worker; drives split reassembly timeouts.
	tq *binheap.TimeoutQueue

	running      atomic.Bool
	shuttingDown atomic.Bool
	wg           sync.WaitGroup
}

// An Option adjusts a Conn at construction.
type Option func(*Conn)

// WithLogger installs a logger; without it the Conn is silent.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Conn) { c.log = log }
}

// WithClock substitutes the time source; tests use a mock.
func WithClock(clk clock.Clock) Option {
	return func(c *Conn) { c.clock = clk }
}

func withSocket(s udpSocket) Option {
	return func(c *Conn) { c.sock = s }
}

// New makes a Conn that is not yet bound; follow with Serve or Connect.
// handler may be nil.
func New(cfg Config, handler PeerHandler, opts ...Option) *Conn {
	c := &Conn{
		cfg:     cfg,
		log:     zerolog.Nop(),
		clock:   clock.New(),
		sock:    &netSocket{},
		handler: handler,

		cmds:   make(chan *command, 1024),
		events: make(chan Event, 4096),

		peers:        make(map[PeerID]*peer),
		peersByAddr:  make(map[string]PeerID),
		nextRemoteID: PeerIDCltMin,
	}
	for _, o := range opts {
		o(c)
	}
	c.tq = binheap.NewTimeoutQueue(c.clock)
	return c
}

// ID returns our own session id: PeerIDSrv when serving, PeerIDNil on a
// client until the server assigns one.
func (c *Conn) ID() PeerID { return PeerID(c.selfID.Load()) }

func (c *Conn) setID(id PeerID) { c.selfID.Store(uint32(id)) }

// Serve binds addr and starts the workers. On bind failure an
// EventBindFailed is emitted and the error returned.
func (c *Conn) Serve(addr *net.UDPAddr) error {
	if err := c.sock.bind(addr); err != nil {
		c.putEvent(bindFailedEvent())
		return err
	}
	c.setID(PeerIDSrv)
	c.startWorkers()
	return nil
}

// Connect binds an ephemeral socket and starts connecting to the server at
// addr. Completion is signalled by an EventPeerAdded for PeerIDSrv.
func (c *Conn) Connect(addr *net.UDPAddr) error {
	if err := c.sock.bind(nil); err != nil {
		c.putEvent(bindFailedEvent())
		return err
	}
	c.setID(PeerIDNil)
	c.startWorkers()
	c.putCommand(connectCmd(addr))
	return nil
}

func (c *Conn) startWorkers() {
	c.running.Store(true)
	c.wg.Add(2)
	go c.sendWorker()
	go c.recvWorker()
}

// Disconnect sends a disco to every peer, stops the workers and closes the
// socket.
func (c *Conn) Disconnect() {
	if !c.running.Load() || c.shuttingDown.Load() {
		return
	}
	c.putCommand(disconnectCmd())
	c.wg.Wait()
	c.sock.close()
	c.running.Store(false)
}

// DisconnectPeer starts an orderly teardown of one peer: its queues drain,
// a disco goes out, then the peer is removed.
func (c *Conn) DisconnectPeer(id PeerID) {
	c.putCommand(disconnectPeerCmd(id))
}

// Send transmits payload to a peer on a channel. With reliable set,
// delivery and ordering are guaranteed.
func (c *Conn) Send(id PeerID, ch uint8, payload []byte, reliable bool) error {
	if ch >= ChannelCount {
		return ErrChNoTooBig
	}
	if len(payload) == 0 {
		return ErrEmptyPkt
	}
	if !c.running.Load() {
		return ErrNotRunning
	}
	if tooBig(len(payload), c.cfg.MaxPacketSize, reliable) {
		return ErrPktTooBig
	}
	c.putCommand(sendCmd(id, ch, payload, reliable))
	return nil
}

// SendToAll transmits payload to every registered peer.
func (c *Conn) SendToAll(ch uint8, payload []byte, reliable bool) error {
	if ch >= ChannelCount {
		return ErrChNoTooBig
	}
	if len(payload) == 0 {
		return ErrEmptyPkt
	}
	if !c.running.Load() {
		return ErrNotRunning
	}
	if tooBig(len(payload), c.cfg.MaxPacketSize, reliable) {
		return ErrPktTooBig
	}
	c.putCommand(sendToAllCmd(ch, payload, reliable))
	return nil
}

// tooBig reports whether a payload exceeds what 65535 split chunks carry.
func tooBig(payloadLen, maxPktSize int, reliable bool) bool {
	chunk := maxPktSize - BaseHdrSize - SplitHdrSize
	if reliable {
		chunk -= RelHdrSize
	}
	return payloadLen > chunk*0xffff
}

// WaitEvent returns the next event, waiting up to timeout. ok is false if
// none arrived.
func (c *Conn) WaitEvent(timeout time.Duration) (ev Event, ok bool) {
	t := c.clock.Timer(timeout)
	defer t.Stop()
	select {
	case ev = <-c.events:
		return ev, true
	case <-t.C:
		return Event{}, false
	}
}

// TryReceive returns the next complete message without blocking. Non-data
// events are consumed silently (the PeerHandler already saw them).
func (c *Conn) TryReceive() (from PeerID, data []byte, ok bool) {
	for {
		select {
		case ev := <-c.events:
			if ev.Kind == EventDataReceived {
				return ev.Peer, ev.Data, true
			}
		default:
			return 0, nil, false
		}
	}
}

// Receive waits up to timeout for the next complete message.
func (c *Conn) Receive(timeout time.Duration) (from PeerID, data []byte, ok bool) {
	deadline := c.clock.Now().Add(timeout)
	for {
		remain := deadline.Sub(c.clock.Now())
		if remain <= 0 {
			return 0, nil, false
		}
		ev, ok := c.WaitEvent(remain)
		if !ok {
			return 0, nil, false
		}
		if ev.Kind == EventDataReceived {
			return ev.Peer, ev.Data, true
		}
	}
}

// LocalAddr returns the bound socket address, or nil before Serve or
// Connect.
func (c *Conn) LocalAddr() net.Addr { return c.sock.localAddr() }

// PeerAddress returns the remote address of a registered peer.
func (c *Conn) PeerAddress(id PeerID) (net.Addr, error) {
	p := c.grabPeer(id)
	if p == nil {
		return nil, ErrNoPeer
	}
	defer p.drop()
	return p.addr, nil
}

// PeerIDs returns a snapshot of the registered peer ids.
func (c *Conn) PeerIDs() []PeerID {
	c.peersMu.Lock()
	defer c.peersMu.Unlock()

	ids := make([]PeerID, 0, len(c.peers))
	for id := range c.peers {
		ids = append(ids, id)
	}
	return ids
}

// PeerStat returns an RTT statistic of a peer, in seconds.
func (c *Conn) PeerStat(id PeerID, kind RTTStatKind) (float32, error) {
	p := c.grabPeer(id)
	if p == nil {
		return 0, ErrNoPeer
	}
	defer p.drop()
	return p.rttStat(kind), nil
}

// PeerRateStat returns a rate statistic of one channel of a peer, in KB/s.
func (c *Conn) PeerRateStat(id PeerID, ch uint8, kind RateStatKind) (float32, error) {
	if ch >= ChannelCount {
		return 0, ErrChNoTooBig
	}
	p := c.grabPeer(id)
	if p == nil {
		return 0, ErrNoPeer
	}
	defer p.drop()
	return p.chans[ch].rateStat(kind), nil
}

// LocalStat sums a rate statistic over all peers and channels, in KB/s.
func (c *Conn) LocalStat(kind RateStatKind) float32 {
	var sum float32
	for _, id := range c.PeerIDs() {
		p := c.grabPeer(id)
		if p == nil {
			continue
		}
		for i := range p.chans {
			sum += p.chans[i].rateStat(kind)
		}
		p.drop()
	}
	return sum
}

func (c *Conn) putCommand(cmd *command) {
	c.cmds <- cmd
}

func (c *Conn) putEvent(ev Event) {
	c.events <- ev
}

// grabPeer hands out a refcounted peer, or nil if unknown or pending
// deletion. Callers must drop() it.
func (c *Conn) grabPeer(id PeerID) *peer {
	c.peersMu.Lock()
	p := c.peers[id]
	c.peersMu.Unlock()

	if p == nil || !p.grab() {
		return nil
	}
	return p
}

func (c *Conn) lookupPeerByAddr(addr net.Addr) *peer {
	c.peersMu.Lock()
	id, ok := c.peersByAddr[addr.String()]
	c.peersMu.Unlock()

	if !ok {
		return nil
	}
	return c.grabPeer(id)
}

// registerPeer adds a fully formed peer to the registry.
func (c *Conn) registerPeer(p *peer) {
	c.peersMu.Lock()
	c.peers[p.id] = p
	c.peersByAddr[p.addr.String()] = p.id
	c.peersMu.Unlock()
}

// allocPeerID picks the next free remote session id, counting upward from
// PeerIDCltMin; 0 and 1 are reserved. Past the top of the id range it wraps
// back to PeerIDCltMin and reuses ids whose peers are no longer registered.
func (c *Conn) allocPeerID() (PeerID, error) {
	c.peersMu.Lock()
	defer c.peersMu.Unlock()

	start := c.nextRemoteID
	for {
		id := c.nextRemoteID
		c.nextRemoteID++
		if c.nextRemoteID < PeerIDCltMin {
			c.nextRemoteID = PeerIDCltMin
		}
		if _, used := c.peers[id]; !used && id >= PeerIDCltMin {
			return id, nil
		}
		if c.nextRemoteID == start {
			return 0, ErrOutOfPeers
		}
	}
}

// deletePeer marks a peer for deletion and announces the removal. Storage
// is freed when the last holder drops it.
func (c *Conn) deletePeer(id PeerID, timedOut bool) bool {
	c.peersMu.Lock()
	p := c.peers[id]
	c.peersMu.Unlock()

	if p == nil || p.pendingDeletion.Swap(true) {
		return false
	}

	c.log.Info().Uint16("peer", uint16(id)).Bool("timeout", timedOut).Msg("peer removed")
	c.putEvent(peerRemovedEvent(id, timedOut, p.addr))
	if c.handler != nil {
		c.handler.PeerDisconnected(id, timedOut)
	}

	if p.unused() {
		c.removePeer(id)
	}
	return true
}

// removePeer erases the registry entry. Only called for peers that are
// pending deletion with no remaining users.
func (c *Conn) removePeer(id PeerID) {
	c.peersMu.Lock()
	if p, ok := c.peers[id]; ok {
		delete(c.peersByAddr, p.addr.String())
		delete(c.peers, id)
	}
	c.peersMu.Unlock()
}
