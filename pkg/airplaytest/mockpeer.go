package airplaytest

import (
	"errors"
	"net"

	"github.com/nightcast/airplay2/pkg/base"
	"github.com/nightcast/airplay2/pkg/rtsp"
)

// MockRTSPPeer is a minimal RTSP/HTTP-hybrid control-plane peer backed by a
// real loopback TCP listener, for driving a session's request handling
// without a full sender/receiver implementation on the other end.
type MockRTSPPeer struct {
	ln   net.Listener
	conn net.Conn
	dec  *rtsp.Decoder
}

// NewMockRTSPPeer starts listening on a loopback port and returns the peer
// along with the address a client under test should dial.
func NewMockRTSPPeer() (*MockRTSPPeer, string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, "", err
	}
	return &MockRTSPPeer{ln: ln}, ln.Addr().String(), nil
}

// Accept blocks until a client connects.
func (p *MockRTSPPeer) Accept() error {
	conn, err := p.ln.Accept()
	if err != nil {
		return err
	}
	p.conn = conn
	p.dec = rtsp.NewDecoder(0)
	return nil
}

// ReadRequest reads bytes off the accepted connection until a full request
// has been decoded.
func (p *MockRTSPPeer) ReadRequest() (*base.Request, error) {
	buf := make([]byte, 4096)
	for {
		req, err := p.dec.DecodeRequest()
		if err == nil {
			return req, nil
		}
		if !errors.Is(err, rtsp.ErrIncomplete) {
			return nil, err
		}
		n, rerr := p.conn.Read(buf)
		if rerr != nil {
			return nil, rerr
		}
		if ferr := p.dec.Feed(buf[:n]); ferr != nil {
			return nil, ferr
		}
	}
}

// WriteResponse encodes and writes resp to the accepted connection.
func (p *MockRTSPPeer) WriteResponse(resp *base.Response) error {
	_, err := p.conn.Write(rtsp.EncodeResponse(resp))
	return err
}

// Close shuts down the connection and listener.
func (p *MockRTSPPeer) Close() {
	if p.conn != nil {
		p.conn.Close() //nolint:errcheck
	}
	p.ln.Close() //nolint:errcheck
}
