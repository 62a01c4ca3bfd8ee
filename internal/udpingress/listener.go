// Package udpingress is the coordinator's UDP receive path: it owns the
// low-latency socket camera nodes send FeaturePackets to, decodes them,
// resolves each packet's CamNum and SyncFrameNumber via the camera
// registry and sync controller, and emits FramedPoints to a Sink.
package udpingress

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/straln/braidcore/internal/cammgr"
	"github.com/straln/braidcore/internal/monitoring"
	"github.com/straln/braidcore/internal/syncctrl"
	"github.com/straln/braidcore/internal/wire"
)

// maxDatagramSize is generous headroom over a MaxPoints-sized CBOR
// FeaturePacket.
const maxDatagramSize = 65536

// readPollInterval bounds how long a single ReadFromUDP call blocks before
// the listener checks ctx again, mirroring the lidar UDP listener's
// cancellation-polling pattern.
const readPollInterval = 100 * time.Millisecond

// Sink receives resolved FramedPoints. The coordinator implements this to
// forward points into the (out-of-scope) 3D tracker.
type Sink interface {
	HandleFramedPoint(wire.FramedPoint)
}

// CaptureWriter is implemented by anything that can record raw received
// datagrams for offline diagnostics, e.g. a pcapgo.Writer wrapper.
type CaptureWriter interface {
	WritePacket(data []byte, receivedAt time.Time) error
	Close() error
}

// Listener owns the UDP socket camera nodes send FeaturePackets to.
type Listener struct {
	factory UDPSocketFactory
	mgr     *cammgr.Manager
	ctrl    *syncctrl.Controller
	sink    Sink
	capture CaptureWriter

	mu   sync.Mutex
	seen map[uint8]map[uint64]struct{} // invariant 2: dedup (CamNum, SyncFrameNumber)

	socket UDPSocket
}

// New creates a Listener. capture may be nil to disable packet-capture
// diagnostics.
func New(factory UDPSocketFactory, mgr *cammgr.Manager, ctrl *syncctrl.Controller, sink Sink, capture CaptureWriter) *Listener {
	return &Listener{
		factory: factory,
		mgr:     mgr,
		ctrl:    ctrl,
		sink:    sink,
		capture: capture,
		seen:    make(map[uint8]map[uint64]struct{}),
	}
}

// Reset clears the dedup set, called by the coordinator whenever the sync
// controller re-enters Resetting and SyncFrameNumbers start over from 0.
func (l *Listener) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = make(map[uint8]map[uint64]struct{})
}

// Run binds laddr and receives until ctx is cancelled.
func (l *Listener) Run(ctx context.Context, laddr *net.UDPAddr) error {
	sock, err := l.factory.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("udpingress: bind %s: %w", laddr, err)
	}
	l.socket = sock
	defer sock.Close()

	if err := sock.SetReadBuffer(4 << 20); err != nil {
		monitoring.Logf("udpingress: SetReadBuffer failed: %v", err)
	}

	buf := make([]byte, maxDatagramSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := sock.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
			return fmt.Errorf("udpingress: SetReadDeadline: %w", err)
		}

		n, _, err := sock.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			monitoring.Logf("udpingress: read error: %v", err)
			continue
		}

		received := time.Now()
		data := make([]byte, n)
		copy(data, buf[:n])

		if l.capture != nil {
			if err := l.capture.WritePacket(data, received); err != nil {
				monitoring.Logf("udpingress: capture write failed: %v", err)
			}
		}

		l.handlePacket(data, received)
	}
}

func (l *Listener) handlePacket(data []byte, received time.Time) {
	pkt, err := wire.Decode(data)
	if err != nil {
		monitoring.Logf("udpingress: decode failed: %v", err)
		return
	}

	camNum, ok := l.mgr.CamNumFor(pkt.CamName)
	if !ok {
		monitoring.Logf("udpingress: packet from unregistered camera %q", pkt.CamName)
		return
	}

	ev := syncctrl.PacketEvent{
		CamName:         pkt.CamName,
		LocalFrame:      pkt.FrameNumber,
		HostReceiveTime: received,
	}

	// NotifyPacket drives the controller's own bookkeeping (offset
	// install, missing-camera deadlines, SyncLost detection) on its Run
	// goroutine; Decide answers "can this packet become a FramedPoint
	// right now" without waiting for that goroutine to catch up. Both
	// must see every accepted packet.
	l.ctrl.NotifyPacket(ev)

	decision := l.ctrl.Decide(ev)
	if !decision.Accept {
		return
	}

	if l.alreadyEmitted(camNum, decision.SyncFrameNumber) {
		return
	}

	triggerTime := pkt.CamReceivedTime
	if pkt.Timestamp != nil {
		triggerTime = *pkt.Timestamp
	}

	l.sink.HandleFramedPoint(wire.FramedPoint{
		SyncFrameNumber:       decision.SyncFrameNumber,
		CamNum:                camNum,
		TriggerTime:           triggerTime,
		Points:                pkt.Points,
		CamName:               pkt.CamName,
		NFramesSkipped:        pkt.NFramesSkipped,
		DoneCamnodeProcessing: pkt.DoneCamnodeProcessing,
		PreprocessStamp:       pkt.PreprocessStamp,
	})
}

func (l *Listener) alreadyEmitted(camNum uint8, syncFrame uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	perCam, ok := l.seen[camNum]
	if !ok {
		perCam = make(map[uint64]struct{})
		l.seen[camNum] = perCam
	}
	if _, dup := perCam[syncFrame]; dup {
		return true
	}
	perCam[syncFrame] = struct{}{}
	return false
}
