package rudp

import (
	"net"
	"time"
)

// How long the send worker sleeps when idle. Retransmit and ping deadlines
// are polled at this granularity; commands wake it immediately.
const sendWorkerTick = 50 * time.Millisecond

// dtime clamps the elapsed time between two worker passes, so a stalled
// scheduler doesn't register as seconds of packet aging.
func dtime(last, now time.Time) time.Duration {
	dt := now.Sub(last)
	if dt < 0 {
		return 0
	}
	if dt > 100*time.Millisecond {
		return 100 * time.Millisecond
	}
	return dt
}

func (c *Conn) sendWorker() {
	defer c.wg.Done()

	log := c.log.With().Str("worker", "send").Logger()
	log.Debug().Msg("started")

	last := c.clock.Now()
	for !c.shuttingDown.Load() {
		// Block for the first command up to one tick, then take
		// whatever else is already queued.
		t := c.clock.Timer(sendWorkerTick)
		select {
		case cmd := <-c.cmds:
			t.Stop()
			c.processCommand(cmd)
			for n := 1; n < c.cfg.MaxCommandsPerIteration; n++ {
				select {
				case cmd := <-c.cmds:
					c.processCommand(cmd)
					continue
				default:
				}
				break
			}
		case <-t.C:
		}

		now := c.clock.Now()
		c.runTimeouts(dtime(last, now))
		last = now
	}

	log.Debug().Msg("stopped")
}

func (c *Conn) processCommand(cmd *command) {
	switch cmd.kind {
	case cmdConnect:
		c.connect(cmd.addr)
	case cmdDisconnect:
		c.disconnectAll()
	case cmdDisconnectPeer:
		c.disconnectPeer(cmd.peerID)
	case cmdSend:
		c.sendCommand(cmd)
	case cmdSendToAll:
		for _, id := range c.PeerIDs() {
			c.sendCommand(sendCmd(id, cmd.channel, cmd.data, cmd.reliable))
		}
	case cmdAck:
		// Acks bypass every queue; they must never wait behind data.
		c.sendAsPacket(cmd.peerID, cmd.channel, cmd.data)
	case cmdServe:
		// Binding happens before the workers start; nothing to do.
	}
}

// connect registers the server peer and knocks with a reliable ping so the
// server allocates us a session id.
func (c *Conn) connect(addr *net.UDPAddr) {
	p := newPeer(c, PeerIDSrv, addr)
	c.registerPeer(p)

	c.putEvent(peerAddedEvent(PeerIDSrv, addr))
	if c.handler != nil {
		c.handler.PeerConnected(PeerIDSrv)
	}

	ping := &command{kind: cmdSend, peerID: PeerIDSrv, data: makeCtl(ctlPing), reliable: true, raw: true}
	c.sendCommand(ping)
}

// disconnectAll emits a disco to every peer and stops both workers.
func (c *Conn) disconnectAll() {
	for _, id := range c.PeerIDs() {
		p := c.grabPeer(id)
		if p == nil {
			continue
		}
		c.sendAsPacket(id, 0, makeCtl(ctlDisco))
		p.drop()
	}
	c.shuttingDown.Store(true)
}

// disconnectPeer requests orderly teardown: mark the peer, let the queues
// drain, then runTimeouts finishes the job.
func (c *Conn) disconnectPeer(id PeerID) {
	p := c.grabPeer(id)
	if p == nil {
		return
	}
	p.pendingDisconnect = true
	p.drop()
}

// sendCommand routes one user send. Reliable sends go through the channel
// queues so window admission applies; unreliable ones hit the wire at
// once.
func (c *Conn) sendCommand(cmd *command) {
	p := c.grabPeer(cmd.peerID)
	if p == nil {
		c.log.Debug().Uint16("peer", uint16(cmd.peerID)).Msg("send to unknown peer")
		return
	}
	defer p.drop()

	if cmd.reliable {
		ch := &p.chans[cmd.channel]
		ch.queuedCmds = append(ch.queuedCmds, cmd)
		return
	}

	maxChunk := c.cfg.MaxPacketSize - BaseHdrSize
	ch := &p.chans[cmd.channel]
	var bodies [][]byte
	if cmd.raw {
		bodies = [][]byte{cmd.data}
	} else {
		bodies = makeAutoSplit(cmd.data, maxChunk, ch.nextSplitSeqnumRef())
	}
	for _, body := range bodies {
		c.sendAsPacket(cmd.peerID, cmd.channel, body)
	}
}

// sendAsPacket frames a packet body and writes it to the wire.
func (c *Conn) sendAsPacket(id PeerID, chNum uint8, body []byte) {
	p := c.grabPeer(id)
	if p == nil {
		return
	}
	defer p.drop()

	pkt := makePacket(p.addr, body, c.ID(), chNum)
	c.rawSend(p, chNum, pkt)
}

// rawSend writes one framed datagram.
func (c *Conn) rawSend(p *peer, chNum uint8, pkt *bufferedPacket) {
	if err := c.sock.sendTo(pkt.addr, pkt.data); err != nil {
		c.log.Warn().Err(err).Uint16("peer", uint16(p.id)).Msg("send failed")
		return
	}
	p.chans[chNum].countBytesSent(uint(len(pkt.data)))
}

// processReliableCommand turns one queued command into reliable packets on
// the channel's send queue. It fails, leaving everything untouched, when
// the window has no room for all chunks; the command stays queued.
func (c *Conn) processReliableCommand(p *peer, chNum uint8, cmd *command) bool {
	ch := &p.chans[chNum]

	maxChunk := c.cfg.MaxPacketSize - BaseHdrSize - RelHdrSize
	prevSplitSN := ch.nextOutgoingSplitSeqnum
	var bodies [][]byte
	if cmd.raw {
		bodies = [][]byte{cmd.data}
	} else {
		bodies = makeAutoSplit(cmd.data, maxChunk, ch.nextSplitSeqnumRef())
	}

	// All chunks of one message get their seqnums together, or the
	// whole message waits.
	sns := make([]seqnum, 0, len(bodies))
	for range bodies {
		sn, ok := ch.outgoingSeqnum()
		if !ok {
			for i := len(sns) - 1; i >= 0; i-- {
				if !ch.putBackSeqnum(sns[i]) {
					panic("rudp: seqnum put-back out of order")
				}
			}
			ch.nextOutgoingSplitSeqnum = prevSplitSN
			return false
		}
		sns = append(sns, sn)
	}

	for i, body := range bodies {
		rel := makeReliable(body, sns[i])
		pkt := makePacket(p.addr, rel, c.ID(), chNum)
		ch.queuedRels = append(ch.queuedRels, pkt)
	}
	return true
}

// runTimeouts is the periodic pass over all peers: liveness, retransmits,
// pings, statistics and queue draining.
func (c *Conn) runTimeouts(dt time.Duration) {
	for _, id := range c.PeerIDs() {
		p := c.grabPeer(id)
		if p == nil {
			continue
		}

		if p.isTimedOut(dt, c.cfg.PeerTimeout) {
			c.log.Info().Uint16("peer", uint16(id)).Msg("peer timed out")
			p.drop()
			c.deletePeer(id, true)
			continue
		}

		for i := range p.chans {
			ch := &p.chans[i]

			ch.outRel.incrementTimeouts(dt)
			for _, pkt := range ch.outRel.timedOuts(p.getResendTimeout(), c.cfg.MaxResendsPerIteration) {
				c.log.Debug().
					Uint16("peer", uint16(id)).
					Int("ch", i).
					Uint16("seqnum", uint16(pkt.relSeqnum())).
					Uint("resends", pkt.resends).
					Msg("retransmit")
				c.rawSend(p, uint8(i), pkt)
				ch.countBytesLost(uint(len(pkt.data)))
				ch.countPacketLoss(1)
			}

			ch.updateTimers(dt)
		}

		if p.needsPing(dt, c.cfg.PingInterval) {
			ping := &command{kind: cmdSend, peerID: id, data: makeCtl(ctlPing), reliable: true, raw: true}
			c.sendCommand(ping)
		}

		c.runCommandQueues(p)

		if p.pendingDisconnect && p.outgoingQueuesEmpty() {
			c.sendAsPacket(id, 0, makeCtl(ctlDisco))
			p.drop()
			c.deletePeer(id, false)
			continue
		}

		p.drop()
	}
}

// runCommandQueues moves queued commands into reliable packets and queued
// reliable packets onto the wire, within the per-pass limits.
func (c *Conn) runCommandQueues(p *peer) {
	for i := range p.chans {
		ch := &p.chans[i]

		for n := 0; n < c.cfg.MaxCommandsPerIteration && len(ch.queuedCmds) > 0; n++ {
			cmd := ch.queuedCmds[0]
			if !c.processReliableCommand(p, uint8(i), cmd) {
				break // no window room; retry next pass
			}
			ch.queuedCmds = ch.queuedCmds[1:]
		}

		sent := 0
		for len(ch.queuedRels) > 0 && sent < c.cfg.MaxPacketsPerIteration {
			pkt := ch.queuedRels[0]
			ch.queuedRels = ch.queuedRels[1:]

			pkt.sentAt = c.clock.Now()
			c.rawSend(p, uint8(i), pkt)
			if !ch.outRel.insert(pkt, ch.relInsertBase()) {
				c.log.Warn().
					Uint16("peer", uint16(p.id)).
					Uint16("seqnum", uint16(pkt.relSeqnum())).
					Msg("duplicate seqnum in send buffer")
			}
			sent++
		}
	}
}
