package rudp

import (
	"sync"
	"time"
)

// A channel is one of the ChannelCount independent reliable streams of a
// peer. The receive-side buffers (inRel, inSplits) belong to the receive
// worker; the queues belong to the send worker; outRel has its own mutex;
// everything else is guarded by mu.
type channel struct {
	// Buffers the incoming packets that arrive in the wrong order.
	inRel *reliableRecvBuf

	// Reassembles incoming split packets.
	inSplits *splitBuf

	// Buffers sent packets until the ack arrives.
	outRel reliableSendBuf

	// Reliable packets waiting for window room. Send worker only.
	queuedRels []*bufferedPacket

	// Commands waiting to be split into packets. Send worker only.
	queuedCmds []*command

	mu sync.Mutex

	windowSize uint16

	nextOutgoingSeqnum      seqnum
	nextOutgoingSplitSeqnum seqnum

	// Loss statistics for the running second.
	curPacketLoss       uint
	curPacketTooLate    uint
	curPacketSuccessful uint
	lossTimer           time.Duration

	// Rate statistics for the running second.
	curBytesSent     uint
	curBytesReceived uint
	curBytesLost     uint
	rateTimer        time.Duration

	curKbps, maxKbps, avgKbps                         float32
	curIncomingKbps, maxIncomingKbps, avgIncomingKbps float32
	curKbpsLost, maxKbpsLost, avgKbpsLost             float32
	rateSamples                                       uint
}

// outgoingSeqnum allocates the next reliable seqnum, failing when the
// window has no room for another unacked packet.
func (ch *channel) outgoingSeqnum() (seqnum, bool) {
	ch.mu.Lock()
	window := ch.windowSize
	sn := ch.nextOutgoingSeqnum
	ch.mu.Unlock()

	if oldest, ok := ch.outRel.firstSeqnum(); ok {
		if relDist(oldest, sn) > window {
			return 0, false
		}
	}

	ch.mu.Lock()
	ch.nextOutgoingSeqnum++
	ch.mu.Unlock()
	return sn, true
}

// putBackSeqnum returns a seqnum allocated by outgoingSeqnum when admission
// failed after allocation. Only the most recent allocation can go back.
func (ch *channel) putBackSeqnum(sn seqnum) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.nextOutgoingSeqnum != sn+1 {
		return false
	}
	ch.nextOutgoingSeqnum = sn
	return true
}

func (ch *channel) nextSplitSeqnumRef() *seqnum { return &ch.nextOutgoingSplitSeqnum }

// relInsertBase anchors the sort order of the unacked buffer: everything
// in it lies within maxWindowSize of the next outgoing seqnum.
func (ch *channel) relInsertBase() seqnum {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.nextOutgoingSeqnum - maxWindowSize
}

func (ch *channel) getWindowSize() uint16 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.windowSize
}

func (ch *channel) setWindowSize(size int) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.windowSize = clampWindow(size)
}

func clampWindow(size int) uint16 {
	if size < minWindowSize {
		return minWindowSize
	}
	if size > maxWindowSize {
		return maxWindowSize
	}
	return uint16(size)
}

func (ch *channel) countPacketLoss(n uint) {
	ch.mu.Lock()
	ch.curPacketLoss += n
	ch.mu.Unlock()
}

func (ch *channel) countPacketTooLate() {
	ch.mu.Lock()
	ch.curPacketTooLate++
	ch.mu.Unlock()
}

func (ch *channel) countBytesSent(n uint) {
	ch.mu.Lock()
	ch.curBytesSent += n
	ch.curPacketSuccessful++
	ch.mu.Unlock()
}

func (ch *channel) countBytesReceived(n uint) {
	ch.mu.Lock()
	ch.curBytesReceived += n
	ch.mu.Unlock()
}

func (ch *channel) countBytesLost(n uint) {
	ch.mu.Lock()
	ch.curBytesLost += n
	ch.mu.Unlock()
}

// updateTimers folds the running counters into the per-second statistics
// and adapts the window size from the observed loss ratio.
func (ch *channel) updateTimers(dt time.Duration) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	ch.lossTimer += dt
	ch.rateTimer += dt

	if ch.lossTimer > time.Second {
		ch.lossTimer -= time.Second

		loss := ch.curPacketLoss
		successful := ch.curPacketSuccessful
		ch.curPacketLoss = 0
		ch.curPacketTooLate = 0
		ch.curPacketSuccessful = 0

		window := int(ch.windowSize)
		switch {
		case successful == 0 && loss > 0:
			window -= 10
		default:
			var ratio float64
			if successful > 0 {
				ratio = float64(loss) / float64(successful)
			}
			switch {
			case ratio < 0.01:
				window += 100
			case ratio < 0.05:
				window += 50
			case ratio > 0.15:
				window -= 100
			case ratio > 0.10:
				window -= 50
			}
		}
		ch.windowSize = clampWindow(window)
	}

	if ch.rateTimer > time.Second {
		secs := ch.rateTimer.Seconds()
		ch.rateTimer = 0

		ch.curKbps = float32(float64(ch.curBytesSent) / secs / 1024)
		ch.curIncomingKbps = float32(float64(ch.curBytesReceived) / secs / 1024)
		ch.curKbpsLost = float32(float64(ch.curBytesLost) / secs / 1024)
		ch.curBytesSent = 0
		ch.curBytesReceived = 0
		ch.curBytesLost = 0

		if ch.curKbps > ch.maxKbps {
			ch.maxKbps = ch.curKbps
		}
		if ch.curIncomingKbps > ch.maxIncomingKbps {
			ch.maxIncomingKbps = ch.curIncomingKbps
		}
		if ch.curKbpsLost > ch.maxKbpsLost {
			ch.maxKbpsLost = ch.curKbpsLost
		}

		n := float32(ch.rateSamples) + 1
		ch.avgKbps += (ch.curKbps - ch.avgKbps) / n
		ch.avgIncomingKbps += (ch.curIncomingKbps - ch.avgIncomingKbps) / n
		ch.avgKbpsLost += (ch.curKbpsLost - ch.avgKbpsLost) / n
		if ch.rateSamples < 100 {
			ch.rateSamples++
		}
	}
}

// rateStat returns the requested statistic in KB/s.
func (ch *channel) rateStat(kind RateStatKind) float32 {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	switch kind {
	case CurDLRate:
		return ch.curKbps
	case AvgDLRate:
		return ch.avgKbps
	case CurIncRate:
		return ch.curIncomingKbps
	case AvgIncRate:
		return ch.avgIncomingKbps
	case CurLossRate:
		return ch.curKbpsLost
	case AvgLossRate:
		return ch.avgKbpsLost
	}
	return -1
}
