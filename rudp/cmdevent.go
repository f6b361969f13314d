package rudp

import "net"

type cmdKind int

const (
	cmdServe cmdKind = iota
	cmdConnect
	cmdDisconnect
	cmdDisconnectPeer
	cmdSend
	cmdSendToAll
	cmdAck
)

// A command travels from the public interface to the send worker.
type command struct {
	kind     cmdKind
	addr     *net.UDPAddr
	peerID   PeerID
	channel  uint8
	data     []byte
	reliable bool
	raw      bool
}

func serveCmd(addr *net.UDPAddr) *command   { return &command{kind: cmdServe, addr: addr} }
func connectCmd(addr *net.UDPAddr) *command { return &command{kind: cmdConnect, addr: addr} }
func disconnectCmd() *command               { return &command{kind: cmdDisconnect} }

func disconnectPeerCmd(id PeerID) *command {
	return &command{kind: cmdDisconnectPeer, peerID: id}
}

func sendCmd(id PeerID, ch uint8, data []byte, reliable bool) *command {
	return &command{kind: cmdSend, peerID: id, channel: ch, data: data, reliable: reliable}
}

func sendToAllCmd(ch uint8, data []byte, reliable bool) *command {
	return &command{kind: cmdSendToAll, channel: ch, data: data, reliable: reliable}
}

func ackCmd(id PeerID, ch uint8, data []byte) *command {
	return &command{kind: cmdAck, peerID: id, channel: ch, data: data}
}

// EventKind discriminates Events.
type EventKind int

const (
	EventNone EventKind = iota

	// Data holds a complete message from Peer.
	EventDataReceived

	// A new peer appeared; Addr is its address.
	EventPeerAdded

	// Peer went away; Timeout tells whether by liveness timeout rather
	// than disconnect.
	EventPeerRemoved

	// The socket could not be bound; the workers have terminated.
	EventBindFailed
)

func (k EventKind) String() string {
	switch k {
	case EventDataReceived:
		return "data_received"
	case EventPeerAdded:
		return "peer_added"
	case EventPeerRemoved:
		return "peer_removed"
	case EventBindFailed:
		return "bind_failed"
	}
	return "none"
}

// An Event travels from the receive worker to the user.
type Event struct {
	Kind    EventKind
	Peer    PeerID
	Channel uint8
	Data    []byte
	Timeout bool
	Addr    net.Addr
}

func dataReceivedEvent(id PeerID, ch uint8, data []byte) Event {
	return Event{Kind: EventDataReceived, Peer: id, Channel: ch, Data: data}
}

func peerAddedEvent(id PeerID, addr net.Addr) Event {
	return Event{Kind: EventPeerAdded, Peer: id, Addr: addr}
}

func peerRemovedEvent(id PeerID, timeout bool, addr net.Addr) Event {
	return Event{Kind: EventPeerRemoved, Peer: id, Timeout: timeout, Addr: addr}
}

func bindFailedEvent() Event {
	return Event{Kind: EventBindFailed}
}
