package rudp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, data []byte) *ReceivedPacket {
	t.Helper()
	rp := &ReceivedPacket{Data: data}
	require.NoError(t, rp.parse())
	return rp
}

func baseHdr(src PeerID, ch uint8) []byte {
	hdr := make([]byte, BaseHdrSize)
	be.PutUint32(hdr[0:4], protoID)
	be.PutUint16(hdr[4:6], uint16(src))
	hdr[6] = ch
	return hdr
}

func TestParseReliableOriginal(t *testing.T) {
	// A single reliable "abc" on channel 0, as the very first packet of
	// a session.
	data := append(baseHdr(PeerIDSrv, 0),
		uint8(rawTypeRel), 0xff, 0xdc, // seqnum 65500
		uint8(rawTypeOrig), 'a', 'b', 'c')

	rp := mustParse(t, data)
	assert.Equal(t, PeerIDSrv, rp.Src)
	assert.Equal(t, uint8(0), rp.Channel)
	assert.True(t, rp.IsReliable)
	assert.Equal(t, seqnum(65500), rp.RelSeqnum)
	assert.Equal(t, PktOriginal, rp.Type)
	assert.Equal(t, []byte("abc"), rp.Contents)
	assert.Len(t, rp.UUID, 16)
}

func TestParseControl(t *testing.T) {
	ack := append(baseHdr(2, 1), uint8(rawTypeCtl), uint8(ctlAck), 0x12, 0x34)
	rp := mustParse(t, ack)
	assert.Equal(t, PktAck, rp.Type)
	assert.Equal(t, seqnum(0x1234), rp.AckSeqnum)
	assert.False(t, rp.IsReliable)

	setID := append(baseHdr(PeerIDSrv, 0), uint8(rawTypeCtl), uint8(ctlSetPeerID), 0x00, 0x07)
	rp = mustParse(t, setID)
	assert.Equal(t, PktSetPeerID, rp.Type)
	assert.Equal(t, PeerID(7), rp.NewPeerID)

	ping := append(baseHdr(2, 0), uint8(rawTypeCtl), uint8(ctlPing))
	assert.Equal(t, PktPing, mustParse(t, ping).Type)

	disco := append(baseHdr(2, 0), uint8(rawTypeCtl), uint8(ctlDisco))
	assert.Equal(t, PktDisco, mustParse(t, disco).Type)
}

func TestParseSplit(t *testing.T) {
	data := append(baseHdr(2, 2),
		uint8(rawTypeSplit),
		0xff, 0xdc, // split seqnum
		0x00, 0x03, // chunk count
		0x00, 0x01, // chunk num
		'x', 'y')

	rp := mustParse(t, data)
	assert.Equal(t, PktSplit, rp.Type)
	assert.Equal(t, seqnum(65500), rp.SplitSeqnum)
	assert.Equal(t, uint16(3), rp.ChunkCount)
	assert.Equal(t, uint16(1), rp.ChunkNum)
	assert.Equal(t, []byte("xy"), rp.Contents)
}

func TestParseWrongProtoID(t *testing.T) {
	data := append(baseHdr(2, 0), uint8(rawTypeOrig), 'a')
	be.PutUint32(data[0:4], 0xdeadbeef)

	rp := &ReceivedPacket{Data: data}
	require.Equal(t, ErrWrongProtoID, rp.parse())
}

func TestParseMalformed(t *testing.T) {
	cases := map[string][]byte{
		"empty":              {},
		"truncated header":   baseHdr(2, 0)[:5],
		"no type":            baseHdr(2, 0),
		"bad channel":        append(baseHdr(2, ChannelCount), uint8(rawTypeOrig), 'a'),
		"bad type":           append(baseHdr(2, 0), 0x17),
		"bad control type":   append(baseHdr(2, 0), uint8(rawTypeCtl), 0x42),
		"truncated ack":      append(baseHdr(2, 0), uint8(rawTypeCtl), uint8(ctlAck), 0x01),
		"empty original":     append(baseHdr(2, 0), uint8(rawTypeOrig)),
		"truncated split":    append(baseHdr(2, 0), uint8(rawTypeSplit), 0x00, 0x01),
		"empty split":        append(baseHdr(2, 0), uint8(rawTypeSplit), 0, 0, 0, 1, 0, 0),
		"chunk num >= count": append(baseHdr(2, 0), uint8(rawTypeSplit), 0, 0, 0, 2, 0, 2, 'a'),
		"truncated reliable": append(baseHdr(2, 0), uint8(rawTypeRel), 0x00),
		"nested reliable": append(baseHdr(2, 0),
			uint8(rawTypeRel), 0, 1, uint8(rawTypeRel), 0, 2, uint8(rawTypeOrig), 'a'),
		"reliable bad inner": append(baseHdr(2, 0), uint8(rawTypeRel), 0, 1, 0x2a, 'a'),
	}

	for name, data := range cases {
		rp := &ReceivedPacket{Data: data}
		err := rp.parse()
		require.Error(t, err, name)
		require.NotEqual(t, ErrWrongProtoID, err, name)
	}
}

func TestMakeAutoSplitSingle(t *testing.T) {
	var sn seqnum = seqnumInit
	bodies := makeAutoSplit([]byte("hello"), 1400, &sn)
	require.Len(t, bodies, 1)
	assert.Equal(t, uint8(rawTypeOrig), bodies[0][0])
	assert.Equal(t, []byte("hello"), bodies[0][OrigHdrSize:])
	assert.Equal(t, seqnumInit, sn, "split seqnum must not advance")
}

func TestMakeAutoSplitChunks(t *testing.T) {
	payload := make([]byte, 4000)
	for i := range payload {
		payload[i] = byte(i)
	}

	var sn seqnum = seqnumInit
	bodies := makeAutoSplit(payload, 1400, &sn)
	require.Len(t, bodies, 3)
	assert.Equal(t, seqnumInit+1, sn)

	chunkSize := 1400 - SplitHdrSize
	var got []byte
	for i, body := range bodies {
		assert.Equal(t, uint8(rawTypeSplit), body[0])
		assert.Equal(t, uint16(seqnumInit), be.Uint16(body[1:3]))
		assert.Equal(t, uint16(3), be.Uint16(body[3:5]))
		assert.Equal(t, uint16(i), be.Uint16(body[5:7]))
		assert.LessOrEqual(t, len(body), 1400)
		got = append(got, body[SplitHdrSize:]...)
	}
	assert.Equal(t, chunkSize, len(bodies[0])-SplitHdrSize)
	assert.Equal(t, payload, got)
}

func TestMakeReliableRoundTrip(t *testing.T) {
	body := makeReliable([]byte{uint8(rawTypeOrig), 'h', 'i'}, 65500)
	pkt := makePacket(nil, body, PeerIDSrv, 1)

	rp := mustParse(t, pkt.data)
	assert.True(t, rp.IsReliable)
	assert.Equal(t, seqnum(65500), rp.RelSeqnum)
	assert.Equal(t, seqnum(65500), pkt.relSeqnum())
	assert.Equal(t, PktOriginal, rp.Type)
	assert.Equal(t, []byte("hi"), rp.Contents)
	assert.Equal(t, uint8(1), rp.Channel)
}

func TestMakeCtl(t *testing.T) {
	assert.Equal(t, []byte{uint8(rawTypeCtl), uint8(ctlPing)}, makeCtl(ctlPing))
	assert.Equal(t,
		[]byte{uint8(rawTypeCtl), uint8(ctlAck), 0xff, 0xdc},
		makeCtl(ctlAck, 65500))
}

func TestGenHexUUID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := genHexUUID()
		require.Len(t, id, 16)
		for _, r := range id {
			require.Contains(t, hexChars, string(r))
		}
		seen[id] = true
	}
	assert.Greater(t, len(seen), 90, "uuids should rarely collide")
}
