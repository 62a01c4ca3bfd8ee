package camnode

import (
	"errors"
	"net"
	"time"

	"github.com/straln/braidcore/internal/monitoring"
	"github.com/straln/braidcore/internal/wire"
)

// writeDeadline bounds how long Emit will wait for the socket to accept
// a datagram before treating it as "would block" and dropping the
// packet, per spec.md's "never block acquisition waiting on the network"
// rule.
const writeDeadline = 2 * time.Millisecond

// PacketWriter abstracts the outbound UDP socket a camera node sends
// FeaturePackets on, so Emitter can be driven by a mock in tests.
type PacketWriter interface {
	SetWriteDeadline(t time.Time) error
	Write(b []byte) (int, error)
	Close() error
}

// RealPacketWriter wraps a connected *net.UDPConn.
type RealPacketWriter struct {
	conn *net.UDPConn
}

// DialPacketWriter connects a UDP socket to the coordinator's low-latency
// ingest port.
func DialPacketWriter(raddr string) (*RealPacketWriter, error) {
	addr, err := net.ResolveUDPAddr("udp", raddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	return &RealPacketWriter{conn: conn}, nil
}

func (w *RealPacketWriter) SetWriteDeadline(t time.Time) error { return w.conn.SetWriteDeadline(t) }
func (w *RealPacketWriter) Write(b []byte) (int, error)        { return w.conn.Write(b) }
func (w *RealPacketWriter) Close() error                       { return w.conn.Close() }

// Emitter serializes and sends FeaturePackets, counting drops caused by a
// full/blocking socket separately from acquisition-loop frame skips.
type Emitter struct {
	w PacketWriter

	sendDropped uint64
}

// NewEmitter wraps w.
func NewEmitter(w PacketWriter) *Emitter {
	return &Emitter{w: w}
}

// Emit encodes and sends pkt, dropping (and counting) it instead of
// blocking if the socket would not accept it within writeDeadline.
func (e *Emitter) Emit(pkt wire.FeaturePacket) {
	data, err := wire.Encode(pkt)
	if err != nil {
		monitoring.Logf("camnode: encode failed: %v", err)
		return
	}

	if err := e.w.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		monitoring.Logf("camnode: SetWriteDeadline failed: %v", err)
	}

	if _, err := e.w.Write(data); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			e.sendDropped++
			return
		}
		monitoring.Logf("camnode: send failed: %v", err)
		e.sendDropped++
	}
}

// SendDropped returns the count of packets that were not sent, either
// because the socket would have blocked or because the write failed for
// another reason. Never folded into a FeaturePacket's NFramesSkipped.
func (e *Emitter) SendDropped() uint64 { return e.sendDropped }

func (e *Emitter) Close() error { return e.w.Close() }
