package camnode

import (
	"context"
	"errors"
	"sync"

	"github.com/straln/braidcore/internal/monitoring"
	"github.com/straln/braidcore/internal/transport"
	"github.com/straln/braidcore/internal/trigger"
	"github.com/straln/braidcore/internal/wire"
)

// Stats is a point-in-time snapshot of a Node's counters, for the
// preview/event-stream surface and for tests.
type Stats struct {
	FramesAcquired uint64
	FramesEmitted  uint64
	SendDropped    uint64
	NFramesSkipped uint32
}

// Config configures a Node's static behavior.
type Config struct {
	CamName       string
	TriggerMode   trigger.Mode
	PublishEveryN int
}

// Node runs one camera's per-frame pipeline: acquire, sync-relate,
// trigger-timestamp, detect, emit, record, publish. It is a single
// cooperative loop — detection for frame N completes before frame N+1 is
// acquired, generalizing the teacher's single-goroutine
// UDP-receive-and-dispatch loop to a pull-based acquire loop.
type Node struct {
	cfg       Config
	driver    CameraDriver
	detectors []Detector
	emitter   *Emitter
	recorder  RecordingWriter
	preview   *transport.SnapshotBus[Stats]

	mu             sync.Mutex
	offset         *uint64
	model          *wire.ClockModel
	lastBlockID    uint64
	haveLastBlock  bool
	nFramesSkipped uint32

	quit chan struct{}
	once sync.Once

	stats Stats
}

// New creates a Node. preview may be nil to disable preview publishing.
func New(cfg Config, driver CameraDriver, detectors []Detector, emitter *Emitter, recorder RecordingWriter, preview *transport.SnapshotBus[Stats]) *Node {
	if cfg.PublishEveryN < 1 {
		cfg.PublishEveryN = 1
	}
	if recorder == nil {
		recorder = NoopRecordingWriter{}
	}
	return &Node{
		cfg:       cfg,
		driver:    driver,
		detectors: detectors,
		emitter:   emitter,
		recorder:  recorder,
		preview:   preview,
		quit:      make(chan struct{}),
	}
}

// SetFrameOffset installs the sync-frame offset the coordinator assigned
// this camera, per the HTTP control surface.
func (n *Node) SetFrameOffset(offset uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offset = &offset
}

// SetClockModel installs the latest clock model the coordinator pushed,
// or clears it if model is nil.
func (n *Node) SetClockModel(model *wire.ClockModel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.model = model
}

// ForceSync clears the installed offset immediately, honoring the
// `force_sync` flag in `/remote-camera-info` so a reconnecting node
// doesn't keep emitting stale-offset packets while waiting for the next
// SetFrameOffset.
func (n *Node) ForceSync() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offset = nil
}

// DoQuit stops acquisition cleanly: Run returns after the frame in
// flight (if any) finishes.
func (n *Node) DoQuit() {
	n.once.Do(func() { close(n.quit) })
}

// Stats returns a snapshot of the node's counters.
func (n *Node) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// Run drives the per-frame pipeline until ctx is cancelled, DoQuit is
// called, or the camera driver reports a fatal error.
func (n *Node) Run(ctx context.Context) error {
	defer n.recorder.Close()
	defer n.emitter.Close()
	defer n.driver.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.quit:
			return nil
		default:
		}

		frame, err := n.driver.AcquireFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrCameraDriverFatal) {
				monitoring.Logf("camnode[%s]: fatal driver error: %v", n.cfg.CamName, err)
				return err
			}
			monitoring.Logf("camnode[%s]: acquire failed: %v", n.cfg.CamName, err)
			continue
		}

		n.processFrame(frame)
	}
}

func (n *Node) processFrame(f Frame) {
	n.mu.Lock()
	n.stats.FramesAcquired++
	skipped := n.accountSkippedLocked(f)
	offset := n.offset
	model := n.model
	mode := n.cfg.TriggerMode
	n.mu.Unlock()

	var syncFrame *uint64
	if offset != nil {
		sf := uint64(f.FrameNumber) - *offset
		syncFrame = &sf
	}

	triggerTime := triggerTimestamp(mode, model, f, syncFrame)

	var points []wire.Point
	for _, d := range n.detectors {
		pts, err := d.Detect(f)
		if err != nil {
			if err == ErrDetectorUnavailable {
				continue
			}
			monitoring.Logf("camnode[%s]: detector %s failed: %v", n.cfg.CamName, d.Name(), err)
			continue
		}
		points = append(points, pts...)
	}

	pkt := wire.FeaturePacket{
		CamName:         n.cfg.CamName,
		CamReceivedTime: float64(f.HostReceiveTime.UnixNano()) / 1e9,
		DeviceTimestamp: f.DeviceTimestamp,
		BlockID:         f.BlockID,
		FrameNumber:     f.FrameNumber,
		NFramesSkipped:  skipped,
		Points:          points,
	}
	if triggerTime != nil {
		pkt.Timestamp = triggerTime
	}

	n.emitter.Emit(pkt)

	n.mu.Lock()
	n.stats.FramesEmitted++
	n.stats.SendDropped = n.emitter.SendDropped()
	n.mu.Unlock()

	if err := n.recorder.WriteFrame(f); err != nil && err != ErrWriterClosed {
		monitoring.Logf("camnode[%s]: recording write failed: %v", n.cfg.CamName, err)
	}

	if n.preview != nil && int(f.FrameNumber)%n.cfg.PublishEveryN == 0 {
		n.preview.Publish(n.Stats())
	}
}

// accountSkippedLocked derives this packet's n_frames_skipped from a
// BlockID gap (when the driver supplies one) and resets the running
// counter immediately after reading it, per the Open Question
// resolution: the field reflects acquisition-loop skips only, never
// accumulated across packets. Callers must hold n.mu.
func (n *Node) accountSkippedLocked(f Frame) uint32 {
	if f.BlockID != 0 {
		if n.haveLastBlock && f.BlockID > n.lastBlockID+1 {
			n.nFramesSkipped += uint32(f.BlockID - n.lastBlockID - 1)
		}
		n.lastBlockID = f.BlockID
		n.haveLastBlock = true
	}
	skipped := n.nFramesSkipped
	n.nFramesSkipped = 0
	n.stats.NFramesSkipped = skipped
	return skipped
}

// triggerTimestamp computes a FeaturePacket's trigger timestamp per the
// active trigger mode (spec.md §4.4 step 3). Returns nil if no estimate
// is yet available.
func triggerTimestamp(mode trigger.Mode, model *wire.ClockModel, f Frame, syncFrame *uint64) *float64 {
	switch mode {
	case trigger.ModePTP:
		t := float64(f.DeviceTimestamp) / 1e9
		return &t
	case trigger.ModeDeviceTimestamp:
		if model == nil {
			return nil
		}
		t := model.Predict(f.DeviceTimestamp)
		return &t
	default: // ModePulse, ModeFake
		if model == nil || syncFrame == nil {
			return nil
		}
		t := model.Predict(*syncFrame)
		return &t
	}
}
