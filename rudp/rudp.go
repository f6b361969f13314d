/*
Package rudp implements a reliable, channelized, session-oriented message
transport on top of UDP.

A Conn multiplexes any number of peers over one UDP socket. Each peer has
ChannelCount independent channels; within a channel, reliable packets are
delivered exactly once and in order. Messages larger than the configured
maximum packet size are split across datagrams and reassembled on the far
side. Two goroutines per Conn do the work: a send worker draining the
command queue, and a receive worker draining the socket.
*/
package rudp

import "encoding/binary"

var be = binary.BigEndian

// protoID must be at the start of every datagram. Datagrams with a
// different protocol id are dropped silently.
const protoID uint32 = 0x4f457403

// A PeerID identifies a peer within a Conn for the lifetime of the session.
type PeerID uint16

const (
	// Used by clients before the server assigns their ID.
	PeerIDNil PeerID = iota

	// The server always has this ID.
	PeerIDSrv

	// Lowest ID the server can assign to a client.
	PeerIDCltMin
)

// ChannelCount is the maximum channel number + 1.
const ChannelCount = 3

// seqnums are sequence numbers used to maintain reliable packet order and
// to identify split packets. They wrap around; all comparisons are modular.
type seqnum uint16

// seqnumInit is close to the wrap so that the wrap-around path is exercised
// early in every session.
const seqnumInit seqnum = 65500

// Reliable window bounds. The window is the maximum distance between the
// oldest unacked outgoing seqnum and the next one to be assigned.
const (
	maxWindowSize   = 0x8000
	startWindowSize = 0x400
	minWindowSize   = 0x40
)

/*
Wire format after the base header (big endian):

	rawType
	switch rawType {
	case rawTypeCtl:
		ctlType
		switch ctlType {
		case ctlAck:
			// Tells the peer a rawTypeRel was received
			// and needs no resend.
			seqnum
		case ctlSetPeerID:
			// Tells the peer to send packets with this src PeerID.
			PeerID
		case ctlPing:
			// Sent to prevent timeout.
		case ctlDisco:
			// Tells the peer that you disconnected.
		}
	case rawTypeOrig:
		payload... // must be non-empty
	case rawTypeSplit:
		// One message split across several datagrams. Chunks are
		// keyed by seqnum, sorted by chunkNum and concatenated once
		// all chunkCount of them arrived.
		seqnum
		chunkCount, chunkNum uint16
		chunk...
	case rawTypeRel:
		// Resent until a ctlAck with the same seqnum is received.
		// seqnums are sequential starting at seqnumInit and are
		// processed in order. The payload is another packet of any
		// type except rawTypeRel.
		seqnum
		innerPkt...
	}
*/
type rawType uint8

const (
	rawTypeCtl rawType = iota
	rawTypeOrig
	rawTypeSplit
	rawTypeRel
	rawTypeMax
)

type ctlType uint8

const (
	ctlAck ctlType = iota
	ctlSetPeerID
	ctlPing
	ctlDisco
)

// Header sizes.
const (
	// protoID + src PeerID + channel number
	BaseHdrSize = 4 + 2 + 1

	// rawTypeOrig
	OrigHdrSize = 1

	// rawTypeSplit + seqnum + chunk count + chunk number
	SplitHdrSize = 1 + 2 + 2 + 2

	// rawTypeRel + seqnum
	RelHdrSize = 1 + 2

	// rawTypeCtl + ctlType
	ctlHdrSize = 1 + 1
)

// MaxPktSize is the biggest datagram sent or accepted: the IPv6 minimum
// MTU, the reliable upper boundary of a UDP packet on any IPv6-capable
// path.
const MaxPktSize = 1500
