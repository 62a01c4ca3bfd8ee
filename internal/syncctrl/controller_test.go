package syncctrl

import (
	"context"
	"testing"
	"time"

	"github.com/straln/braidcore/internal/cammgr"
	"github.com/straln/braidcore/internal/clockmodel"
	"github.com/straln/braidcore/internal/timeutil"
	"github.com/straln/braidcore/internal/trigger"
)

func TestController_HappyPath_TwoCamerasReachSynced(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	mgr := cammgr.New([]string{"camA", "camB"})
	trig := trigger.NewFakeDriver(clock, 25)
	est := clockmodel.New(0, 5, 0)

	cfg := Config{PauseDuration: 2 * time.Second, PauseMargin: 100 * time.Millisecond, ResidualThreshold: 1e6}
	ctrl := New(mgr, trig, est, clock, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go ctrl.Run(ctx)
	go trig.Run(ctx)
	go func() {
		for {
			select {
			case s := <-trig.Samples():
				est.PushSample(s.PulseCount, float64(s.HostTime.UnixNano())/1e9)
			case <-ctx.Done():
				return
			}
		}
	}()

	time.Sleep(10 * time.Millisecond)

	mgr.Register(cammgr.Registration{RawCamName: "camA"})
	mgr.Register(cammgr.Registration{RawCamName: "camB"})
	time.Sleep(20 * time.Millisecond)

	if ctrl.State() != Pausing {
		t.Fatalf("expected Pausing once all cameras present, got %v", ctrl.State())
	}

	// Pass the pause window; FakeDriver is paused so it emits nothing here.
	clock.Advance(3 * time.Second)
	time.Sleep(20 * time.Millisecond)

	if ctrl.State() != Measuring {
		t.Fatalf("expected Measuring after pause window elapses, got %v", ctrl.State())
	}

	// Accumulate clock-model samples via the now-resumed fake trigger.
	for i := 0; i < 8; i++ {
		clock.Advance(100 * time.Millisecond)
		time.Sleep(5 * time.Millisecond)
	}

	ctrl.NotifyPacket(PacketEvent{CamName: "camA", LocalFrame: 100, HostReceiveTime: clock.Now()})
	ctrl.NotifyPacket(PacketEvent{CamName: "camB", LocalFrame: 200, HostReceiveTime: clock.Now()})
	time.Sleep(20 * time.Millisecond)

	if off, ok := mgr.Offset("camA"); !ok || off != 100 {
		t.Errorf("camA offset = %d, %v, want 100, true", off, ok)
	}
	if off, ok := mgr.Offset("camB"); !ok || off != 200 {
		t.Errorf("camB offset = %d, %v, want 200, true", off, ok)
	}

	if ctrl.State() != Synced {
		t.Fatalf("expected Synced once both cameras have offsets and model is stable, got %v", ctrl.State())
	}
}

func TestController_PacketDuringPausing_Dropped(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	mgr := cammgr.New([]string{"camA"})
	trig := trigger.NewFakeDriver(clock, 25)
	est := clockmodel.New(0, 5, 0)
	ctrl := New(mgr, trig, est, clock, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)
	go trig.Run(ctx)

	time.Sleep(10 * time.Millisecond)
	mgr.Register(cammgr.Registration{RawCamName: "camA"})
	time.Sleep(20 * time.Millisecond)

	if ctrl.State() != Pausing {
		t.Fatalf("expected Pausing, got %v", ctrl.State())
	}

	d := ctrl.Decide(PacketEvent{CamName: "camA", LocalFrame: 5, HostReceiveTime: clock.Now()})
	if d.Accept {
		t.Error("expected packet during Pausing to be rejected")
	}
}

func TestController_TriggerDisconnect_ReturnsToWaitingForCameras(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	mgr := cammgr.New([]string{"camA"})
	trig := trigger.NewFakeDriver(clock, 25)
	est := clockmodel.New(0, 5, 0)
	ctrl := New(mgr, trig, est, clock, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)
	go trig.Run(ctx)

	time.Sleep(10 * time.Millisecond)
	mgr.Register(cammgr.Registration{RawCamName: "camA"})
	time.Sleep(20 * time.Millisecond)

	if ctrl.State() != Pausing {
		t.Fatalf("expected Pausing, got %v", ctrl.State())
	}

	mgr.SetOffset("camA", 7)
	trig.Close() // flips Connected() to false and fires ConnectionChanged
	time.Sleep(20 * time.Millisecond)

	if ctrl.State() != WaitingForCameras {
		t.Fatalf("expected WaitingForCameras after trigger disconnect, got %v", ctrl.State())
	}
	if _, ok := mgr.Offset("camA"); ok {
		t.Error("expected camA offset invalidated on trigger disconnect")
	}
}

func TestController_Decide_RejectsBeforeSynced(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	mgr := cammgr.New([]string{"camA"})
	trig := trigger.NewFakeDriver(clock, 25)
	est := clockmodel.New(0, 5, 0)
	ctrl := New(mgr, trig, est, clock, Config{})

	d := ctrl.Decide(PacketEvent{CamName: "camA", LocalFrame: 1, HostReceiveTime: clock.Now()})
	if d.Accept {
		t.Error("expected Decide to reject before Measuring/Synced")
	}
}
