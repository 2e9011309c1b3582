package network

import (
	"net"
)

// MaxDatagramSize is the size of the receive buffer. No UDP datagram
// can exceed it, so a single reusable buffer of this size never
// truncates an incoming frame.
const MaxDatagramSize = 65536

// Transport is the bind-once datagram endpoint of a node. One
// Transport is shared by the transmitting and the receiving activity;
// the underlying socket supports one concurrent reader and one
// concurrent writer.
type Transport struct {
	conn *net.UDPConn
}

// CreateTransport binds a UDP socket on the given address. Passing a
// port of 0 lets the kernel pick a free port, which LocalAddr reports.
func CreateTransport(bindAddress string) (*Transport, error) {
	addr, err := net.ResolveUDPAddr("udp", bindAddress)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Transport{conn: conn}, nil
}

// Send transmits one datagram to the given peer.
func (transport *Transport) Send(data []byte, to *net.UDPAddr) error {
	_, err := transport.conn.WriteToUDP(data, to)
	return err
}

// Receive blocks until one datagram arrives, fills buf and returns the
// datagram length and the sender's address. It fails with net.ErrClosed
// after Close, which is how the receiving activity is unblocked during
// shutdown.
func (transport *Transport) Receive(buf []byte) (int, *net.UDPAddr, error) {
	return transport.conn.ReadFromUDP(buf)
}

// LocalAddr reports the resolved bind address of the socket.
func (transport *Transport) LocalAddr() *net.UDPAddr {
	return transport.conn.LocalAddr().(*net.UDPAddr)
}

// Close shuts the socket down, failing any blocked or future Send and
// Receive calls.
func (transport *Transport) Close() error {
	return transport.conn.Close()
}
