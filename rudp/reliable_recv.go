package rudp

import (
	"github.com/w3itch-crafter/minetest/binheap"
)

// computeFullSeqnum extends a 16-bit wire seqnum to 64 bits under a rolling
// base. The wire value resolves to whichever direction is closer, biased
// forward on ties and whenever going backward would underflow past zero.
func computeFullSeqnum(base uint64, sn seqnum) uint64 {
	baseMod := uint16(base)
	forwardDiff := uint16(sn) - baseMod
	backwardDiff := baseMod - uint16(sn)
	if forwardDiff <= 32768 || uint64(backwardDiff) > base {
		return base + uint64(forwardDiff)
	}
	return base - uint64(backwardDiff)
}

// reliableRecvBuf implements the receiving side of reliable delivery for
// one channel: in-order, exactly-once release of reliable packets.
//
// sendAck is called for every packet an ACK should go out for.
// process is called when a packet is ready for in-order processing; it
// returns false if the connection ended and draining must stop.
//
// May only be used from the receive worker.
type reliableRecvBuf struct {
	// Full seqnum of the next packet to release.
	nextIncoming uint64

	queue *binheap.Heap[*ReceivedPacket]

	sendAck func(*ReceivedPacket)
	process func(*ReceivedPacket) bool
}

func newReliableRecvBuf(sendAck func(*ReceivedPacket), process func(*ReceivedPacket) bool) *reliableRecvBuf {
	return &reliableRecvBuf{
		nextIncoming: uint64(seqnumInit),
		queue: binheap.New(func(a, b *ReceivedPacket) bool {
			return a.FullSeqnum < b.FullSeqnum
		}),
		sendAck: sendAck,
		process: process,
	}
}

// insert accepts one received reliable packet. The callbacks may run
// several times during an insert.
func (b *reliableRecvBuf) insert(rp *ReceivedPacket) {
	if !rp.IsReliable {
		panic("rudp: reliableRecvBuf.insert of unreliable packet")
	}
	rp.FullSeqnum = computeFullSeqnum(b.nextIncoming, rp.RelSeqnum)

	if rp.FullSeqnum > b.nextIncoming+maxWindowSize {
		// Too far in the future; discard without an ack. If this is
		// a valid packet it will be retransmitted.
		return
	}

	// Ack everything inside the window, duplicates included. Acks are
	// idempotent and a duplicate ack is cheaper than a sender backoff.
	b.sendAck(rp)

	if rp.FullSeqnum < b.nextIncoming {
		// Old packet, already processed.
		return
	}

	if rp.FullSeqnum == b.nextIncoming {
		b.nextIncoming++
		if !b.process(rp) {
			return
		}
		b.flush()
		return
	}

	b.queue.Insert(&binheap.Node[*ReceivedPacket]{Value: rp})
}

// flush releases all queued packets that became contiguous.
func (b *reliableRecvBuf) flush() {
	for !b.queue.Empty() && b.queue.Top().Value.FullSeqnum <= b.nextIncoming {
		node := b.queue.Top()
		b.queue.Remove(node)
		rp := node.Value
		if rp.FullSeqnum < b.nextIncoming {
			// A duplicate that was queued while a gap existed.
			continue
		}
		b.nextIncoming++
		if !b.process(rp) {
			return
		}
	}
}

// pending reports how many packets wait for a gap to close.
func (b *reliableRecvBuf) pending() int { return b.queue.Len() }
