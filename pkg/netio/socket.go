// Package netio owns the three UDP sockets ProDJ Link uses (spec §2/§4.1):
// 50000 discovery, 50001 beat/master broadcast, 50002 unicast status and
// commands. It knows nothing about packet semantics — that's pkg/wire and
// the link core above it — only how to get bytes on and off the wire.
//
// The socket lifecycle (context-scoped listen loop feeding a channel,
// closed on ctx.Done) generalizes the teacher's osc.ListenUDPContext/
// conn.Serve pattern (scgolang-oscsync cmd/serve.go) to the plain
// net.UDPConn this binary protocol needs, since there is no OSC framing
// to delegate to.
package netio

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// Port numbers used by the protocol (spec §2).
const (
	PortDiscovery     = 50000
	PortBeatBroadcast = 50001
	PortUnicast       = 50002
)

// Inbound is one received datagram, tagged with the port it arrived on so
// pkg/wire.Decode can resolve overloaded type bytes.
type Inbound struct {
	Port int
	Data []byte
	From *net.UDPAddr
}

// Socket wraps a single UDP port: broadcast-enabled listen, and both
// broadcast and unicast send.
type Socket struct {
	port int
	conn *net.UDPConn
}

// Open binds to 0.0.0.0:port, listening on every interface; it does not
// bind to a single chosen interface's address (broadcast is implicit for
// a plain UDP socket in Go; there's no SO_BROADCAST knob to set explicitly
// the way there is in C).
func Open(port int) (*Socket, error) {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "netio: listen on port %d", port)
	}
	return &Socket{port: port, conn: conn}, nil
}

// Close closes the underlying socket.
func (s *Socket) Close() error { return s.conn.Close() }

// Port returns the bound port.
func (s *Socket) Port() int { return s.port }

// SendBroadcast writes data to the IPv4 limited broadcast address on this
// socket's port.
func (s *Socket) SendBroadcast(data []byte) error {
	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: s.port}
	_, err := s.conn.WriteToUDP(data, dst)
	return errors.Wrap(err, "netio: broadcast send")
}

// SendUnicast writes data to a specific peer address on this socket.
func (s *Socket) SendUnicast(data []byte, dst *net.UDPAddr) error {
	_, err := s.conn.WriteToUDP(data, dst)
	return errors.Wrap(err, "netio: unicast send")
}

// Receive starts a read loop that pushes every datagram it gets onto the
// returned channel, tagged with this socket's port, until ctx is
// cancelled or the socket is closed. The channel is closed on exit.
func (s *Socket) Receive(ctx context.Context) <-chan Inbound {
	out := make(chan Inbound, 32)
	go func() {
		defer close(out)
		buf := make([]byte, 2048)
		for {
			n, from, err := s.conn.ReadFromUDP(buf)
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
					return
				}
			}
			data := append([]byte(nil), buf[:n]...)
			select {
			case out <- Inbound{Port: s.port, Data: data, From: from}:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		<-ctx.Done()
		_ = s.conn.Close()
	}()
	return out
}
