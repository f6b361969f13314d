package rudp

import (
	"errors"
	"time"
)

// How long one bounded socket read may block. Split-reassembly timeouts
// are pumped between reads, so this also caps their latency.
const recvWorkerTick = 50 * time.Millisecond

func (c *Conn) recvWorker() {
	defer c.wg.Done()

	log := c.log.With().Str("worker", "recv").Logger()
	log.Debug().Msg("started")

	buf := make([]byte, MaxPktSize)
	for !c.shuttingDown.Load() {
		c.tq.Process()

		timeout := recvWorkerTick
		if !c.tq.Empty() {
			if next := c.tq.NextTimeout(); next < timeout {
				timeout = next + time.Millisecond
			}
		}

		n, addr, err := c.sock.recvFrom(buf, timeout)
		if err != nil {
			if !errors.Is(err, errRecvTimeout) && !c.shuttingDown.Load() {
				log.Warn().Err(err).Msg("socket read")
			}
			continue
		}

		rp := &ReceivedPacket{
			ReceivedAt: c.clock.Now(),
			SrcAddr:    addr,
			Data:       append([]byte(nil), buf[:n]...),
		}
		if err := rp.parse(); err != nil {
			if err != ErrWrongProtoID {
				log.Debug().Str("uuid", rp.UUID).Err(err).
					Hex("data", rp.Data).Msg("dropping malformed datagram")
			}
			continue
		}

		c.dispatch(rp)
	}

	log.Debug().Msg("stopped")
}

// dispatch resolves the sending peer and runs one parsed datagram through
// the protocol.
func (c *Conn) dispatch(rp *ReceivedPacket) {
	p := c.resolvePeer(rp)
	if p == nil {
		return
	}
	defer p.drop()

	p.resetTimeout()
	p.chans[rp.Channel].countBytesReceived(uint(len(rp.Data)))

	if rp.IsReliable {
		p.chans[rp.Channel].inRel.insert(rp)
		return
	}
	c.processPacket(p, rp)
}

// resolvePeer finds the peer a datagram belongs to. A server accepts
// datagrams from unknown addresses iff they claim PeerIDNil, allocating a
// fresh session; everything else from strangers is dropped.
func (c *Conn) resolvePeer(rp *ReceivedPacket) *peer {
	p := c.lookupPeerByAddr(rp.SrcAddr)
	if p != nil {
		return p
	}

	if c.ID() != PeerIDSrv || rp.Src != PeerIDNil {
		c.log.Debug().Str("uuid", rp.UUID).Stringer("addr", rp.SrcAddr).
			Uint16("claimed", uint16(rp.Src)).Msg("datagram from unknown peer")
		return nil
	}

	return c.createServerPeer(rp)
}

// createServerPeer admits a new client: allocate a session id, register,
// announce, and tell the client its id with a reliable SET_PEER_ID.
func (c *Conn) createServerPeer(rp *ReceivedPacket) *peer {
	id, err := c.allocPeerID()
	if err != nil {
		c.log.Warn().Err(err).Stringer("addr", rp.SrcAddr).Msg("cannot admit peer")
		return nil
	}

	p := newPeer(c, id, rp.SrcAddr)
	c.registerPeer(p)

	c.log.Info().Uint16("peer", uint16(id)).Stringer("addr", rp.SrcAddr).Msg("peer added")
	c.putEvent(peerAddedEvent(id, rp.SrcAddr))
	if c.handler != nil {
		c.handler.PeerConnected(id)
	}

	setID := &command{
		kind:     cmdSend,
		peerID:   id,
		data:     makeCtl(ctlSetPeerID, uint16(id)),
		reliable: true,
		raw:      true,
	}
	c.putCommand(setID)

	if !p.grab() {
		return nil
	}
	return p
}

// processPacket handles one packet whose reliable envelope (if any) has
// been satisfied. Returns false once the peer is gone and the caller must
// stop feeding it.
func (c *Conn) processPacket(p *peer, rp *ReceivedPacket) bool {
	ch := &p.chans[rp.Channel]

	switch rp.Type {
	case PktAck:
		pkt, ok := ch.outRel.popSeqnum(rp.AckSeqnum)
		if !ok {
			// Ack for something not buffered: either a duplicate
			// ack or one overtaken by a retransmit. Ignore.
			ch.countPacketTooLate()
			return true
		}
		if pkt.resends == 0 {
			// Retransmitted packets would bias the estimate.
			p.reportRTT(rp.ReceivedAt.Sub(pkt.sentAt))
		}

	case PktSetPeerID:
		if c.ID() == PeerIDNil {
			c.setID(rp.NewPeerID)
			c.log.Info().Uint16("id", uint16(rp.NewPeerID)).Msg("session id assigned")
		}

	case PktPing:
		// The reliable envelope already generated the ack; nothing
		// else to do.

	case PktDisco:
		c.log.Info().Uint16("peer", uint16(p.id)).Msg("peer disconnected")
		return !c.deletePeer(p.id, false)

	case PktOriginal:
		c.deliverData(p, rp.Channel, rp.Contents)

	case PktSplit:
		ch.inSplits.insert(rp)
	}

	return true
}

// processReliable is the reliable receive buffer's release callback: the
// envelope's payload is processed like a freshly arrived packet.
func (c *Conn) processReliable(p *peer, rp *ReceivedPacket) bool {
	return c.processPacket(p, rp)
}

// sendAck emits an ack for a reliable packet through the command queue so
// the send worker serializes it with everything else on the wire.
func (c *Conn) sendAck(p *peer, chNum uint8, rp *ReceivedPacket) {
	c.putCommand(ackCmd(p.id, chNum, makeCtl(ctlAck, uint16(rp.RelSeqnum))))
}

// deliverData publishes one complete message to the user.
func (c *Conn) deliverData(p *peer, ch uint8, data []byte) {
	c.putEvent(dataReceivedEvent(p.id, ch, data))
}
