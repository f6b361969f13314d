package rudp

import (
	"bytes"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/w3itch-crafter/minetest/binheap"
)

type splitFixture struct {
	mock *clock.Mock
	buf  *splitBuf
	got  [][]byte
}

func newSplitFixture() *splitFixture {
	f := &splitFixture{mock: clock.NewMock()}
	tq := binheap.NewTimeoutQueue(f.mock)
	f.buf = newSplitBuf(tq, zerolog.Nop(), func(data []byte) {
		f.got = append(f.got, data)
	})
	return f
}

func (f *splitFixture) pump() {
	f.buf.tq.Process()
}

func splitChunk(sn seqnum, count, num uint16, payload []byte, reliable bool) *ReceivedPacket {
	return &ReceivedPacket{
		UUID:        genHexUUID(),
		Type:        PktSplit,
		IsReliable:  reliable,
		SplitSeqnum: sn,
		ChunkCount:  count,
		ChunkNum:    num,
		Contents:    payload,
	}
}

// chunksOf splits a payload exactly like the sender does and returns the
// packets in chunk order.
func chunksOf(payload []byte, maxChunkSize int, sn seqnum) []*ReceivedPacket {
	snRef := sn
	bodies := makeAutoSplit(payload, maxChunkSize, &snRef)

	var pkts []*ReceivedPacket
	for _, body := range bodies {
		pkts = append(pkts, splitChunk(
			seqnum(be.Uint16(body[1:3])),
			be.Uint16(body[3:5]),
			be.Uint16(body[5:7]),
			body[SplitHdrSize:],
			false,
		))
	}
	return pkts
}

func TestSplitReassembleOutOfOrder(t *testing.T) {
	payload := make([]byte, 4000)
	for i := range payload {
		payload[i] = byte(i * 7)
	}

	f := newSplitFixture()
	pkts := chunksOf(payload, 1400, seqnumInit)
	require.Len(t, pkts, 3)

	// Deliver in order (2, 0, 1).
	f.buf.insert(pkts[2])
	f.buf.insert(pkts[0])
	assert.Empty(t, f.got)
	assert.Equal(t, 1, f.buf.pending())

	f.buf.insert(pkts[1])
	require.Len(t, f.got, 1)
	assert.True(t, bytes.Equal(payload, f.got[0]))
	assert.Zero(t, f.buf.pending())
}

func TestSplitDuplicateChunk(t *testing.T) {
	f := newSplitFixture()
	pkts := chunksOf(make([]byte, 3000), 1400, seqnumInit)

	f.buf.insert(pkts[0])
	f.buf.insert(pkts[0])
	assert.Empty(t, f.got)

	for _, p := range pkts[1:] {
		f.buf.insert(p)
	}
	assert.Len(t, f.got, 1)
}

func TestSplitChunkCountMismatch(t *testing.T) {
	f := newSplitFixture()

	f.buf.insert(splitChunk(7, 3, 0, []byte("aa"), false))
	f.buf.insert(splitChunk(7, 4, 1, []byte("bb"), false)) // dropped
	f.buf.insert(splitChunk(7, 3, 1, []byte("bb"), false))
	f.buf.insert(splitChunk(7, 3, 2, []byte("cc"), false))

	require.Len(t, f.got, 1)
	assert.Equal(t, []byte("aabbcc"), f.got[0])
}

func TestSplitUnreliableTimeout(t *testing.T) {
	f := newSplitFixture()

	f.buf.insert(splitChunk(9, 2, 0, []byte("half"), false))
	require.Equal(t, 1, f.buf.pending())

	// New chunks rearm the inactivity timeout.
	f.mock.Add(20 * time.Millisecond)
	f.pump()
	f.buf.insert(splitChunk(9, 2, 0, []byte("half"), false)) // dup, no rearm needed
	require.Equal(t, 1, f.buf.pending())

	f.mock.Add(31 * time.Millisecond)
	f.pump()
	assert.Zero(t, f.buf.pending(), "partial unreliable split dropped")
	assert.Empty(t, f.got)

	// A late chunk starts a fresh entry rather than completing the
	// dropped one.
	f.buf.insert(splitChunk(9, 2, 1, []byte("late"), false))
	assert.Equal(t, 1, f.buf.pending())
	assert.Empty(t, f.got)
}

func TestSplitReliableNoTimeout(t *testing.T) {
	f := newSplitFixture()

	f.buf.insert(splitChunk(3, 2, 0, []byte("aa"), true))
	f.mock.Add(time.Hour)
	f.pump()
	require.Equal(t, 1, f.buf.pending(), "reliable splits never time out")

	f.buf.insert(splitChunk(3, 2, 1, []byte("bb"), true))
	require.Len(t, f.got, 1)
	assert.Equal(t, []byte("aabb"), f.got[0])
}

// Any payload fragmented by makeAutoSplit and fed to the reassembler in
// any order comes out byte-identical.
func TestSplitRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(2000, 64*1024).Draw(t, "size")
		payload := make([]byte, size)
		seed := rapid.Uint64().Draw(t, "seed")
		for i := range payload {
			seed = seed*6364136223846793005 + 1442695040888963407
			payload[i] = byte(seed >> 56)
		}

		f := newSplitFixture()
		pkts := chunksOf(payload, 1400, 42)

		for i := len(pkts) - 1; i > 0; i-- {
			j := rapid.IntRange(0, i).Draw(t, "j")
			pkts[i], pkts[j] = pkts[j], pkts[i]
		}
		for _, p := range pkts {
			f.buf.insert(p)
		}

		if len(f.got) != 1 {
			t.Fatalf("got %d messages, want 1", len(f.got))
		}
		if !bytes.Equal(payload, f.got[0]) {
			t.Fatalf("reassembled payload differs")
		}
	})
}
