package rudp

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// A peer is the per-session state for one remote endpoint. Peers live in
// the Conn's registry and are handed out refcounted: grab marks a use,
// drop releases it, and the storage goes away only once the peer is both
// pending deletion and unused.
type peer struct {
	id   PeerID
	addr net.Addr
	conn *Conn

	chans [ChannelCount]channel

	// One-way flag; a peer marked for deletion is never handed out
	// again.
	pendingDeletion atomic.Bool
	// Set when a disco was requested; the peer goes away once the
	// outgoing queues drain.
	pendingDisconnect bool

	resendTimeout atomic.Int64 // nanoseconds

	mu             sync.Mutex
	usage          uint
	timeoutCounter time.Duration
	pingTimer      time.Duration
	rtt            rttStats
}

func newPeer(c *Conn, id PeerID, addr net.Addr) *peer {
	p := &peer{
		id:   id,
		addr: addr,
		conn: c,
	}
	p.resendTimeout.Store(int64(resendTimeoutInit))
	p.mu.Lock()
	p.rtt = newRTTStats()
	p.mu.Unlock()

	for i := range p.chans {
		ch := &p.chans[i]
		ch.windowSize = startWindowSize
		ch.nextOutgoingSeqnum = seqnumInit
		ch.nextOutgoingSplitSeqnum = seqnumInit
		chNum := uint8(i)
		ch.inRel = newReliableRecvBuf(
			func(rp *ReceivedPacket) { c.sendAck(p, chNum, rp) },
			func(rp *ReceivedPacket) bool { return c.processReliable(p, rp) },
		)
		ch.inSplits = newSplitBuf(c.tq, c.log.With().Uint16("peer", uint16(id)).Uint8("ch", chNum).Logger(),
			func(data []byte) { c.deliverData(p, chNum, data) })
	}
	return p
}

// grab registers a use of the peer. It fails once the peer is pending
// deletion.
func (p *peer) grab() bool {
	if p.pendingDeletion.Load() {
		return false
	}
	p.mu.Lock()
	p.usage++
	p.mu.Unlock()
	return true
}

// drop releases a use. When the last user of a deleted peer lets go, the
// peer leaves the registry.
func (p *peer) drop() {
	p.mu.Lock()
	if p.usage == 0 {
		p.mu.Unlock()
		panic("rudp: peer refcount underflow")
	}
	p.usage--
	unused := p.usage == 0
	p.mu.Unlock()

	if unused && p.pendingDeletion.Load() {
		p.conn.removePeer(p.id)
	}
}

func (p *peer) unused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usage == 0
}

// resetTimeout notes that a datagram arrived.
func (p *peer) resetTimeout() {
	p.mu.Lock()
	p.timeoutCounter = 0
	p.mu.Unlock()
}

// isTimedOut advances the liveness clock by dt and reports whether the
// peer exceeded timeout without any received datagram.
func (p *peer) isTimedOut(dt, timeout time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeoutCounter += dt
	return p.timeoutCounter > timeout
}

// needsPing advances the ping timer and reports whether a ping is due,
// resetting the timer if so.
func (p *peer) needsPing(dt, interval time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pingTimer += dt
	if p.pingTimer < interval {
		return false
	}
	p.pingTimer = 0
	return true
}

// reportRTT feeds one round-trip observation (from an ack of a packet that
// was never resent) into the estimator and derives the resend timeout.
func (p *peer) reportRTT(rtt time.Duration) {
	if rtt < 0 {
		return
	}

	p.mu.Lock()
	p.rtt.sample(float32(rtt.Seconds()), 100)
	avg := p.rtt.avgRTT
	p.mu.Unlock()

	p.resendTimeout.Store(int64(resendTimeoutFor(avg)))
}

func (p *peer) getResendTimeout() time.Duration {
	return time.Duration(p.resendTimeout.Load())
}

func (p *peer) rttStat(kind RTTStatKind) float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rtt.get(kind)
}

// outgoingQueuesEmpty reports whether every channel drained its queued
// commands, queued reliables and unacked reliables.
func (p *peer) outgoingQueuesEmpty() bool {
	for i := range p.chans {
		ch := &p.chans[i]
		if len(ch.queuedCmds) != 0 || len(ch.queuedRels) != 0 || !ch.outRel.empty() {
			return false
		}
	}
	return true
}
