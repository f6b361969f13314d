package rudp

import (
	"net"
	"time"
)

// A bufferedPacket is an outbound datagram waiting to be transmitted or
// acknowledged. data holds the complete datagram including headers.
type bufferedPacket struct {
	data []byte
	addr net.Addr

	// Time since buffering or the last (re)send.
	time time.Duration
	// Time since buffering.
	totalTime time.Duration
	// Wall clock of the first transmission; used for RTT sampling.
	sentAt time.Time

	resends uint
}

// relSeqnum reads the reliable seqnum of a wrapped packet. Only valid if
// the packet body starts with a reliable header.
func (p *bufferedPacket) relSeqnum() seqnum {
	return seqnum(be.Uint16(p.data[BaseHdrSize+1 : BaseHdrSize+3]))
}

// makePacket prepends the base header to data, producing a datagram for
// addr.
func makePacket(addr net.Addr, data []byte, src PeerID, ch uint8) *bufferedPacket {
	buf := make([]byte, BaseHdrSize+len(data))
	be.PutUint32(buf[0:4], protoID)
	be.PutUint16(buf[4:6], uint16(src))
	buf[6] = ch
	copy(buf[BaseHdrSize:], data)
	return &bufferedPacket{data: buf, addr: addr}
}

// makeAutoSplit turns a payload into one rawTypeOrig packet body, or, if it
// would not fit into maxChunkSize, several rawTypeSplit bodies sharing
// *splitSN. The split seqnum is advanced iff a split was made.
func makeAutoSplit(payload []byte, maxChunkSize int, splitSN *seqnum) [][]byte {
	if OrigHdrSize+len(payload) <= maxChunkSize {
		body := make([]byte, OrigHdrSize+len(payload))
		body[0] = uint8(rawTypeOrig)
		copy(body[OrigHdrSize:], payload)
		return [][]byte{body}
	}

	chunkSize := maxChunkSize - SplitHdrSize
	chunkCount := (len(payload) + chunkSize - 1) / chunkSize

	sn := *splitSN
	*splitSN++

	bodies := make([][]byte, 0, chunkCount)
	for i := 0; i < chunkCount; i++ {
		chunk := payload[i*chunkSize:]
		if len(chunk) > chunkSize {
			chunk = chunk[:chunkSize]
		}

		body := make([]byte, SplitHdrSize+len(chunk))
		body[0] = uint8(rawTypeSplit)
		be.PutUint16(body[1:3], uint16(sn))
		be.PutUint16(body[3:5], uint16(chunkCount))
		be.PutUint16(body[5:7], uint16(i))
		copy(body[SplitHdrSize:], chunk)
		bodies = append(bodies, body)
	}
	return bodies
}

// makeReliable wraps a packet body in a reliable header.
func makeReliable(body []byte, sn seqnum) []byte {
	buf := make([]byte, RelHdrSize+len(body))
	buf[0] = uint8(rawTypeRel)
	be.PutUint16(buf[1:3], uint16(sn))
	copy(buf[RelHdrSize:], body)
	return buf
}

// makeCtl builds a control packet body.
func makeCtl(ct ctlType, arg ...uint16) []byte {
	body := make([]byte, ctlHdrSize, ctlHdrSize+2)
	body[0] = uint8(rawTypeCtl)
	body[1] = uint8(ct)
	for _, a := range arg {
		var sn [2]byte
		be.PutUint16(sn[:], a)
		body = append(body, sn[:]...)
	}
	return body
}
