package rudp

import (
	"fmt"
	"net"
	"time"
)

// A ParseError reports a malformed datagram. The datagram is logged with
// its uuid and dropped.
type ParseError struct {
	Off int // offset of the offending read
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Off, e.Msg)
}

// ErrWrongProtoID marks a datagram that does not start with protoID.
// Unlike other parse errors it is not even worth logging.
var ErrWrongProtoID = &ParseError{Off: 0, Msg: "wrong protocol id"}

// PktType is the decoded kind of a received datagram.
type PktType uint8

const (
	PktInvalid PktType = iota
	PktOriginal
	PktAck
	PktSetPeerID
	PktPing
	PktDisco
	PktSplit
)

func (t PktType) String() string {
	switch t {
	case PktOriginal:
		return "original"
	case PktAck:
		return "ack"
	case PktSetPeerID:
		return "set_peer_id"
	case PktPing:
		return "ping"
	case PktDisco:
		return "disco"
	case PktSplit:
		return "split"
	}
	return "invalid"
}

// A ReceivedPacket is one parsed datagram. It stays plain data on the hot
// path: the receive worker fills in ReceivedAt, SrcAddr and Data, then
// calls parse, which fills in the rest. Contents aliases Data.
type ReceivedPacket struct {
	ReceivedAt time.Time
	SrcAddr    net.Addr
	Data       []byte

	// Generated in parse to identify this packet in logs.
	UUID string

	ProtoID uint32
	Src     PeerID
	Channel uint8

	Type PktType

	// Reliable envelope, if present.
	IsReliable bool
	RelSeqnum  seqnum
	// The sequence number this packet would have if wire seqnums were a
	// full 64 bits. Computed by the reliable receive buffer.
	FullSeqnum uint64

	AckSeqnum seqnum

	NewPeerID PeerID

	SplitSeqnum seqnum
	ChunkCount  uint16
	ChunkNum    uint16

	// The unparsed remainder of Data.
	Contents []byte
}

func (rp *ReceivedPacket) String() string {
	return "pkt[" + rp.UUID + "]"
}

// parse decodes Data in place. It returns ErrWrongProtoID, a *ParseError,
// or nil. Bounds are validated at every read.
func (rp *ReceivedPacket) parse() (err error) {
	rp.UUID = genHexUUID()

	off := 0
	fail := func(format string, a ...any) error {
		return &ParseError{Off: off, Msg: fmt.Sprintf(format, a...)}
	}
	eat := func(n int) ([]byte, bool) {
		if off+n > len(rp.Data) {
			return nil, false
		}
		b := rp.Data[off : off+n]
		off += n
		return b, true
	}
	eatU8 := func() (uint8, bool) {
		b, ok := eat(1)
		if !ok {
			return 0, false
		}
		return b[0], true
	}
	eatU16 := func() (uint16, bool) {
		b, ok := eat(2)
		if !ok {
			return 0, false
		}
		return be.Uint16(b), true
	}

	hdr, ok := eat(BaseHdrSize)
	if !ok {
		return fail("truncated base header: %d bytes", len(rp.Data))
	}
	rp.ProtoID = be.Uint32(hdr[0:4])
	if rp.ProtoID != protoID {
		return ErrWrongProtoID
	}
	rp.Src = PeerID(be.Uint16(hdr[4:6]))
	rp.Channel = hdr[6]
	if rp.Channel >= ChannelCount {
		return fail("invalid channel %d", rp.Channel)
	}

	t, ok := eatU8()
	if !ok {
		return fail("missing packet type")
	}
	if rawType(t) >= rawTypeMax {
		return fail("invalid packet type %d", t)
	}

	if rawType(t) == rawTypeRel {
		rp.IsReliable = true
		sn, ok := eatU16()
		if !ok {
			return fail("truncated reliable header")
		}
		rp.RelSeqnum = seqnum(sn)
		// After the reliable header comes a packet of another type.
		if t, ok = eatU8(); !ok {
			return fail("missing inner packet type")
		}
	}

	rp.Type = PktInvalid
	cannotBeEmpty := false
	switch rawType(t) {
	case rawTypeCtl:
		ct, ok := eatU8()
		if !ok {
			return fail("missing control type")
		}
		switch ctlType(ct) {
		case ctlAck:
			rp.Type = PktAck
			sn, ok := eatU16()
			if !ok {
				return fail("truncated ack")
			}
			rp.AckSeqnum = seqnum(sn)
		case ctlSetPeerID:
			rp.Type = PktSetPeerID
			id, ok := eatU16()
			if !ok {
				return fail("truncated set_peer_id")
			}
			rp.NewPeerID = PeerID(id)
		case ctlPing:
			rp.Type = PktPing
		case ctlDisco:
			rp.Type = PktDisco
		default:
			return fail("invalid control type %d", ct)
		}
	case rawTypeOrig:
		rp.Type = PktOriginal
		cannotBeEmpty = true
	case rawTypeSplit:
		rp.Type = PktSplit
		sn, ok := eatU16()
		if !ok {
			return fail("truncated split header")
		}
		count, ok := eatU16()
		if !ok {
			return fail("truncated split header")
		}
		num, ok := eatU16()
		if !ok {
			return fail("truncated split header")
		}
		rp.SplitSeqnum = seqnum(sn)
		rp.ChunkCount = count
		rp.ChunkNum = num
		if rp.ChunkNum >= rp.ChunkCount {
			return fail("chunk_num >= chunk_count: %d >= %d", num, count)
		}
		cannotBeEmpty = true
	case rawTypeRel:
		return fail("nested reliable packets")
	default:
		return fail("invalid packet type %d", t)
	}

	rp.Contents = rp.Data[off:]
	if cannotBeEmpty && len(rp.Contents) == 0 {
		return fail("empty contents")
	}
	return nil
}
