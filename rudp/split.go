package rudp

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/w3itch-crafter/minetest/binheap"
)

// splitTimeout is how long a non-reliable split seqnum may sit without a
// new chunk before its partial data is discarded.
const splitTimeout = 30 * time.Millisecond

// incomingSplit accumulates the chunks of one split seqnum.
type incomingSplit struct {
	sn         seqnum
	chunkCount uint16
	// Keyed by chunk number.
	chunks map[uint16]*ReceivedPacket
	// Reliable entries are never dropped on timeout; the reliable layer
	// guarantees every chunk arrives.
	reliable bool
	timeout  *binheap.TimeoutHandle
}

func (s *incomingSplit) allReceived() bool {
	return len(s.chunks) == int(s.chunkCount)
}

func (s *incomingSplit) reassemble() []byte {
	total := 0
	for _, rp := range s.chunks {
		total += len(rp.Contents)
	}
	data := make([]byte, 0, total)
	for i := uint16(0); i < s.chunkCount; i++ {
		data = append(data, s.chunks[i].Contents...)
	}
	return data
}

// splitBuf reconstructs split packets for one channel. When a message is
// complete, dataReceived gets the concatenated payload.
//
// May only be used from the receive worker.
type splitBuf struct {
	tq           *binheap.TimeoutQueue
	dataReceived func([]byte)
	log          zerolog.Logger

	// Keyed by split seqnum.
	bufs map[seqnum]*incomingSplit
}

func newSplitBuf(tq *binheap.TimeoutQueue, log zerolog.Logger, dataReceived func([]byte)) *splitBuf {
	return &splitBuf{
		tq:           tq,
		dataReceived: dataReceived,
		log:          log,
		bufs:         make(map[seqnum]*incomingSplit),
	}
}

// insert adds one chunk, possibly completing a message.
func (b *splitBuf) insert(rp *ReceivedPacket) {
	if rp.Type != PktSplit {
		panic("rudp: splitBuf.insert of non-split packet")
	}

	sn := rp.SplitSeqnum
	s := b.bufs[sn]
	if s == nil {
		s = &incomingSplit{
			sn:         sn,
			chunkCount: rp.ChunkCount,
			chunks:     make(map[uint16]*ReceivedPacket),
			reliable:   rp.IsReliable,
			timeout:    binheap.NewTimeoutHandle(b.tq),
		}
		b.bufs[sn] = s
	}

	if rp.ChunkCount != s.chunkCount {
		b.log.Warn().
			Str("uuid", rp.UUID).
			Uint16("split_seqnum", uint16(sn)).
			Uint16("have", s.chunkCount).
			Uint16("got", rp.ChunkCount).
			Msg("split chunk count mismatch, dropping chunk")
		return
	}
	if s.reliable != rp.IsReliable {
		b.log.Warn().
			Str("uuid", rp.UUID).
			Uint16("split_seqnum", uint16(sn)).
			Msg("split reliability flip-flop")
	}

	// Two identical chunks may arrive when the network lags and the
	// sender retransmits. Keep the first.
	if _, ok := s.chunks[rp.ChunkNum]; ok {
		return
	}
	s.chunks[rp.ChunkNum] = rp

	if !s.allReceived() {
		// Rearm the inactivity timeout on every new chunk.
		if !s.reliable {
			s.timeout.Set(splitTimeout, func() {
				delete(b.bufs, sn)
			})
		}
		return
	}

	s.timeout.Clear()
	delete(b.bufs, sn)
	b.dataReceived(s.reassemble())
}

// pending reports how many split seqnums are incomplete.
func (b *splitBuf) pending() int { return len(b.bufs) }
