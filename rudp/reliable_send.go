package rudp

import (
	"sync"
	"time"
)

// reliableSendBuf stores outgoing reliable packets until they are acked,
// sorted by seqnum so the oldest is cheap to find. The sort respects the
// caller-supplied next-expected seqnum so that wrap-around keeps the order.
//
// A mutex serializes access: the send worker inserts on transmit while the
// receive worker removes on ack.
type reliableSendBuf struct {
	mu   sync.Mutex
	list []*bufferedPacket
}

// relDist is the modular distance from base to sn.
func relDist(base, sn seqnum) uint16 {
	return uint16(sn - base)
}

// insert adds p keeping the list sorted relative to nextExpected.
// Duplicate seqnums are rejected.
func (b *reliableSendBuf) insert(p *bufferedPacket, nextExpected seqnum) bool {
	sn := p.relSeqnum()

	b.mu.Lock()
	defer b.mu.Unlock()

	i := len(b.list)
	for j, q := range b.list {
		d := relDist(nextExpected, q.relSeqnum())
		if d == relDist(nextExpected, sn) {
			return false
		}
		if d > relDist(nextExpected, sn) {
			i = j
			break
		}
	}
	b.list = append(b.list, nil)
	copy(b.list[i+1:], b.list[i:])
	b.list[i] = p
	return true
}

// firstSeqnum returns the oldest unacked seqnum.
func (b *reliableSendBuf) firstSeqnum() (seqnum, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.list) == 0 {
		return 0, false
	}
	return b.list[0].relSeqnum(), true
}

// popFirst removes and returns the oldest packet.
func (b *reliableSendBuf) popFirst() (*bufferedPacket, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.list) == 0 {
		return nil, false
	}
	p := b.list[0]
	b.list = b.list[1:]
	return p, true
}

// popSeqnum removes and returns the packet with seqnum sn, if buffered.
func (b *reliableSendBuf) popSeqnum(sn seqnum) (*bufferedPacket, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, p := range b.list {
		if p.relSeqnum() == sn {
			b.list = append(b.list[:i], b.list[i+1:]...)
			return p, true
		}
	}
	return nil, false
}

// incrementTimeouts adds dt to every entry's age.
func (b *reliableSendBuf) incrementTimeouts(dt time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range b.list {
		p.time += dt
		p.totalTime += dt
	}
}

// timedOuts returns up to max packets whose time since the last send
// reached timeout, resetting their timers and counting the resend. The
// packets stay buffered; the caller retransmits them in place.
func (b *reliableSendBuf) timedOuts(timeout time.Duration, max int) []*bufferedPacket {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*bufferedPacket
	for _, p := range b.list {
		if len(out) >= max {
			break
		}
		if p.time >= timeout {
			p.time = 0
			p.resends++
			out = append(out, p)
		}
	}
	return out
}

func (b *reliableSendBuf) empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.list) == 0
}

func (b *reliableSendBuf) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.list)
}
