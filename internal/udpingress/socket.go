package udpingress

import (
	"net"
	"time"
)

// UDPSocket abstracts the handful of *net.UDPConn operations the listener
// needs, so it can be driven by a MockUDPSocket in tests. Adapted from
// the lidar-perception UDP listener's socket interface split.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// UDPSocketFactory creates UDPSockets, for dependency injection of real
// vs. mock sockets.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealUDPSocket wraps *net.UDPConn.
type RealUDPSocket struct {
	conn *net.UDPConn
}

func NewRealUDPSocket(conn *net.UDPConn) *RealUDPSocket { return &RealUDPSocket{conn: conn} }

func (s *RealUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	return s.conn.ReadFromUDP(b)
}
func (s *RealUDPSocket) SetReadBuffer(bytes int) error      { return s.conn.SetReadBuffer(bytes) }
func (s *RealUDPSocket) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *RealUDPSocket) Close() error                       { return s.conn.Close() }
func (s *RealUDPSocket) LocalAddr() net.Addr                { return s.conn.LocalAddr() }

// RealUDPSocketFactory implements UDPSocketFactory using net.ListenUDP.
type RealUDPSocketFactory struct{}

func (RealUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return NewRealUDPSocket(conn), nil
}

// MockUDPPacket is one packet a MockUDPSocket will hand back.
type MockUDPPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

// MockUDPSocket implements UDPSocket for tests.
type MockUDPSocket struct {
	Packets      []MockUDPPacket
	ReadIndex    int
	Closed       bool
	LocalAddress *net.UDPAddr
	ReadError    error
}

func NewMockUDPSocket(packets []MockUDPPacket) *MockUDPSocket {
	return &MockUDPSocket{
		Packets: packets,
		LocalAddress: &net.UDPAddr{
			IP:   net.ParseIP("127.0.0.1"),
			Port: 9000,
		},
	}
}

func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	if m.Closed {
		return 0, nil, net.ErrClosed
	}
	if m.ReadError != nil {
		err := m.ReadError
		m.ReadError = nil
		return 0, nil, err
	}
	if m.ReadIndex >= len(m.Packets) {
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutErr{}}
	}
	pkt := m.Packets[m.ReadIndex]
	m.ReadIndex++
	n := copy(b, pkt.Data)
	return n, pkt.Addr, nil
}

func (m *MockUDPSocket) SetReadBuffer(int) error             { return nil }
func (m *MockUDPSocket) SetReadDeadline(time.Time) error     { return nil }
func (m *MockUDPSocket) Close() error                        { m.Closed = true; return nil }
func (m *MockUDPSocket) LocalAddr() net.Addr                 { return m.LocalAddress }

// MockUDPSocketFactory implements UDPSocketFactory for tests.
type MockUDPSocketFactory struct {
	Socket *MockUDPSocket
	Error  error
}

func (f *MockUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Socket, nil
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }
