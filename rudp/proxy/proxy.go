// Package proxy relays transport sessions between clients and an upstream
// server, one upstream connection per client peer.
package proxy

import (
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/w3itch-crafter/minetest/rudp"
)

// A Proxy accepts clients on one address and mirrors their traffic to an
// upstream server, preserving the channel. Every message is relayed
// reliably, whatever reliability it arrived with.
type Proxy struct {
	cfg      rudp.Config
	log      zerolog.Logger
	upstream *net.UDPAddr

	srv *rudp.Conn

	mu   sync.Mutex
	clts map[rudp.PeerID]*rudp.Conn
}

func New(cfg rudp.Config, upstream *net.UDPAddr, log zerolog.Logger) *Proxy {
	return &Proxy{
		cfg:      cfg,
		log:      log,
		upstream: upstream,
		clts:     make(map[rudp.PeerID]*rudp.Conn),
	}
}

// ListenAndServe binds addr and relays until the listening side fails.
func (p *Proxy) ListenAndServe(addr *net.UDPAddr) error {
	p.srv = rudp.New(p.cfg, nil, rudp.WithLogger(p.log))
	if err := p.srv.Serve(addr); err != nil {
		return err
	}
	defer p.srv.Disconnect()

	for {
		ev, ok := p.srv.WaitEvent(time.Second)
		if !ok {
			continue
		}

		switch ev.Kind {
		case rudp.EventPeerAdded:
			p.addClient(ev.Peer)

		case rudp.EventPeerRemoved:
			p.log.Info().Uint16("peer", uint16(ev.Peer)).
				Bool("timeout", ev.Timeout).Msg("client gone")
			p.dropClient(ev.Peer)

		case rudp.EventDataReceived:
			p.mu.Lock()
			up := p.clts[ev.Peer]
			p.mu.Unlock()
			if up == nil {
				continue
			}
			if err := up.Send(rudp.PeerIDSrv, ev.Channel, ev.Data, true); err != nil {
				p.log.Warn().Err(err).Uint16("peer", uint16(ev.Peer)).Msg("upstream send")
			}

		case rudp.EventBindFailed:
			return rudp.ErrNotRunning
		}
	}
}

// addClient dials the upstream for a fresh client and pumps its downstream
// traffic back.
func (p *Proxy) addClient(id rudp.PeerID) {
	p.log.Info().Uint16("peer", uint16(id)).Msg("client connected")

	up := rudp.New(p.cfg, nil, rudp.WithLogger(p.log))
	if err := up.Connect(p.upstream); err != nil {
		p.log.Error().Err(err).Msg("cannot dial upstream")
		p.srv.DisconnectPeer(id)
		return
	}

	p.mu.Lock()
	p.clts[id] = up
	p.mu.Unlock()

	go p.pump(id, up)
}

func (p *Proxy) dropClient(id rudp.PeerID) {
	p.mu.Lock()
	up := p.clts[id]
	delete(p.clts, id)
	p.mu.Unlock()

	if up != nil {
		up.Disconnect()
	}
}

// pump forwards everything the upstream says to the client peer.
func (p *Proxy) pump(id rudp.PeerID, up *rudp.Conn) {
	for {
		ev, ok := up.WaitEvent(time.Second)
		if !ok {
			p.mu.Lock()
			gone := p.clts[id] != up
			p.mu.Unlock()
			if gone {
				return
			}
			continue
		}

		switch ev.Kind {
		case rudp.EventDataReceived:
			if err := p.srv.Send(id, ev.Channel, ev.Data, true); err != nil {
				p.log.Warn().Err(err).Uint16("peer", uint16(id)).Msg("downstream send")
			}

		case rudp.EventPeerRemoved:
			// Upstream hung up; mirror it to the client.
			p.srv.DisconnectPeer(id)
			p.dropClient(id)
			return
		}
	}
}
