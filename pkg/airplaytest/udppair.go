// Package airplaytest provides small, direct test doubles for exercising
// the RTSP control path and RTP/RTCP data path without a real peer,
// following the corpus's own style of dialing real loopback sockets in
// tests rather than reaching for a mocking framework.
package airplaytest

import (
	"net"
)

// UDPPair is two independent loopback UDP sockets, standing in for a
// session's local socket and a simulated remote peer's socket. Each side
// addresses the other explicitly with WriteToUDP/ReadFromUDP, the same
// way an unconnected RTP/RTCP socket is used in production.
type UDPPair struct {
	Local  *net.UDPConn
	Remote *net.UDPConn
}

// NewUDPPair opens two loopback UDP sockets on OS-assigned ports.
func NewUDPPair() (*UDPPair, error) {
	local, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, err
	}

	remote, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		local.Close() //nolint:errcheck
		return nil, err
	}

	return &UDPPair{Local: local, Remote: remote}, nil
}

// LocalAddr returns the Local socket's address as seen by Remote.
func (p *UDPPair) LocalAddr() *net.UDPAddr {
	return p.Local.LocalAddr().(*net.UDPAddr)
}

// RemoteAddr returns the Remote socket's address as seen by Local.
func (p *UDPPair) RemoteAddr() *net.UDPAddr {
	return p.Remote.LocalAddr().(*net.UDPAddr)
}

// SendToRemote writes data from Local to Remote.
func (p *UDPPair) SendToRemote(data []byte) error {
	_, err := p.Local.WriteToUDP(data, p.RemoteAddr())
	return err
}

// SendToLocal writes data from Remote to Local.
func (p *UDPPair) SendToLocal(data []byte) error {
	_, err := p.Remote.WriteToUDP(data, p.LocalAddr())
	return err
}

// Close closes both ends.
func (p *UDPPair) Close() {
	p.Local.Close()  //nolint:errcheck
	p.Remote.Close() //nolint:errcheck
}
