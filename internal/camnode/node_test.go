package camnode

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/straln/braidcore/internal/trigger"
	"github.com/straln/braidcore/internal/wire"
)

// scriptedDriver replays a fixed sequence of frames, then blocks until ctx
// is cancelled.
type scriptedDriver struct {
	frames []Frame
	idx    int
}

func (d *scriptedDriver) AcquireFrame(ctx context.Context) (Frame, error) {
	if d.idx < len(d.frames) {
		f := d.frames[d.idx]
		d.idx++
		return f, nil
	}
	<-ctx.Done()
	return Frame{}, ctx.Err()
}

func (d *scriptedDriver) Close() error { return nil }

type mockPacketWriter struct {
	sent    [][]byte
	refuse  bool
}

func (w *mockPacketWriter) SetWriteDeadline(time.Time) error { return nil }
func (w *mockPacketWriter) Write(b []byte) (int, error) {
	if w.refuse {
		return 0, &mockTimeoutErr{}
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	w.sent = append(w.sent, cp)
	return len(b), nil
}
func (w *mockPacketWriter) Close() error { return nil }

type mockTimeoutErr struct{}

func (mockTimeoutErr) Error() string   { return "would block" }
func (mockTimeoutErr) Timeout() bool   { return true }
func (mockTimeoutErr) Temporary() bool { return true }

func TestNode_EmitsOneFeaturePacketPerAcquiredFrame(t *testing.T) {
	frames := []Frame{
		{FrameNumber: 1, Width: 2, Height: 2, Pixels: make([]byte, 4), HostReceiveTime: time.Unix(0, 0)},
		{FrameNumber: 2, Width: 2, Height: 2, Pixels: make([]byte, 4), HostReceiveTime: time.Unix(0, 0)},
	}
	driver := &scriptedDriver{frames: frames}
	pw := &mockPacketWriter{}
	emitter := NewEmitter(pw)

	n := New(Config{CamName: "camA", TriggerMode: trigger.ModeFake, PublishEveryN: 1}, driver, []Detector{CentroidDetector{}}, emitter, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	n.DoQuit()
	<-done
	cancel()

	if len(pw.sent) != 2 {
		t.Fatalf("sent %d packets, want 2", len(pw.sent))
	}
	pkt, err := wire.Decode(pw.sent[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if pkt.CamName != "camA" || pkt.FrameNumber != 1 {
		t.Errorf("got %+v", pkt)
	}
}

func TestNode_SendDroppedCountedSeparatelyFromSkipped(t *testing.T) {
	frames := []Frame{
		{FrameNumber: 1, Width: 1, Height: 1, Pixels: []byte{0}, HostReceiveTime: time.Unix(0, 0)},
	}
	driver := &scriptedDriver{frames: frames}
	pw := &mockPacketWriter{refuse: true}
	emitter := NewEmitter(pw)

	n := New(Config{CamName: "camA", TriggerMode: trigger.ModeFake}, driver, nil, emitter, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	n.DoQuit()
	<-done
	cancel()

	stats := n.Stats()
	if stats.SendDropped != 1 {
		t.Errorf("SendDropped = %d, want 1", stats.SendDropped)
	}
	if stats.NFramesSkipped != 0 {
		t.Errorf("NFramesSkipped = %d, want 0 (send drops must not fold into it)", stats.NFramesSkipped)
	}
}

func TestNode_BlockIDGapIncrementsSkippedThenResets(t *testing.T) {
	frames := []Frame{
		{FrameNumber: 1, BlockID: 1, Width: 1, Height: 1, Pixels: []byte{0}, HostReceiveTime: time.Unix(0, 0)},
		{FrameNumber: 2, BlockID: 4, Width: 1, Height: 1, Pixels: []byte{0}, HostReceiveTime: time.Unix(0, 0)}, // gap of 2
		{FrameNumber: 3, BlockID: 5, Width: 1, Height: 1, Pixels: []byte{0}, HostReceiveTime: time.Unix(0, 0)},
	}
	driver := &scriptedDriver{frames: frames}
	pw := &mockPacketWriter{}
	emitter := NewEmitter(pw)

	n := New(Config{CamName: "camA", TriggerMode: trigger.ModeFake}, driver, nil, emitter, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	n.DoQuit()
	<-done
	cancel()

	if len(pw.sent) != 3 {
		t.Fatalf("sent %d packets, want 3", len(pw.sent))
	}
	pkt2, _ := wire.Decode(pw.sent[1])
	if pkt2.NFramesSkipped != 2 {
		t.Errorf("packet 2 NFramesSkipped = %d, want 2", pkt2.NFramesSkipped)
	}
	pkt3, _ := wire.Decode(pw.sent[2])
	if pkt3.NFramesSkipped != 0 {
		t.Errorf("packet 3 NFramesSkipped = %d, want 0 (reset after read)", pkt3.NFramesSkipped)
	}
}

func TestNode_TriggerTimestampPerMode(t *testing.T) {
	model := &wire.ClockModel{Gain: 1, Offset: 0}
	offset := uint64(0)

	fakeTS := triggerTimestamp(trigger.ModeFake, model, Frame{FrameNumber: 5}, &offset)
	if fakeTS == nil {
		t.Fatal("expected non-nil timestamp for fake mode with model+offset")
	}

	ptpTS := triggerTimestamp(trigger.ModePTP, nil, Frame{DeviceTimestamp: 2_000_000_000}, nil)
	if ptpTS == nil || *ptpTS != 2.0 {
		t.Errorf("PTP timestamp = %v, want 2.0", ptpTS)
	}

	devTS := triggerTimestamp(trigger.ModeDeviceTimestamp, nil, Frame{DeviceTimestamp: 1}, nil)
	if devTS != nil {
		t.Error("expected nil device-timestamp estimate before a model is installed")
	}
}

func TestNode_ForceSyncClearsOffset(t *testing.T) {
	n := New(Config{CamName: "camA"}, &scriptedDriver{}, nil, NewEmitter(&mockPacketWriter{}), nil, nil)
	n.SetFrameOffset(42)
	n.ForceSync()

	n.mu.Lock()
	offset := n.offset
	n.mu.Unlock()
	if offset != nil {
		t.Error("expected offset cleared after ForceSync")
	}
}

func TestNode_FatalDriverErrorStopsRun(t *testing.T) {
	driver := &fatalDriver{}
	n := New(Config{CamName: "camA"}, driver, nil, NewEmitter(&mockPacketWriter{}), nil, nil)

	err := n.Run(context.Background())
	if !errors.Is(err, ErrCameraDriverFatal) {
		t.Errorf("Run() = %v, want ErrCameraDriverFatal", err)
	}
}

type fatalDriver struct{}

func (fatalDriver) AcquireFrame(ctx context.Context) (Frame, error) {
	return Frame{}, ErrCameraDriverFatal
}
func (fatalDriver) Close() error { return nil }
