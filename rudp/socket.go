package rudp

import (
	"errors"
	"net"
	"time"
)

// errRecvTimeout marks an uneventful bounded socket read.
var errRecvTimeout = errors.New("receive timeout")

// udpSocket is the datagram service the transport runs on. recvFrom blocks
// at most timeout and returns errRecvTimeout when nothing arrived.
type udpSocket interface {
	bind(addr *net.UDPAddr) error
	sendTo(addr net.Addr, data []byte) error
	recvFrom(buf []byte, timeout time.Duration) (int, net.Addr, error)
	localAddr() net.Addr
	close() error
}

// netSocket is the production udpSocket over a *net.UDPConn. Binding with
// an IPv6 address gives a dual-stack socket where the platform allows.
type netSocket struct {
	conn *net.UDPConn
}

func (s *netSocket) bind(addr *net.UDPAddr) error {
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

func (s *netSocket) sendTo(addr net.Addr, data []byte) error {
	_, err := s.conn.WriteTo(data, addr)
	return err
}

func (s *netSocket) recvFrom(buf []byte, timeout time.Duration) (int, net.Addr, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, nil, err
	}
	n, addr, err := s.conn.ReadFrom(buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return 0, nil, errRecvTimeout
		}
		return 0, nil, err
	}
	return n, addr, nil
}

func (s *netSocket) localAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

func (s *netSocket) close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
