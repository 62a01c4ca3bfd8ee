// Package coordinator is the mainbrain process: it owns the camera
// registry, clock model, sync controller, trigger driver, UDP ingress,
// and the HTTP control surface, and drives orderly startup and shutdown
// across all of them.
package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/straln/braidcore/internal/cammgr"
	"github.com/straln/braidcore/internal/cancel"
	"github.com/straln/braidcore/internal/clockmodel"
	"github.com/straln/braidcore/internal/config"
	"github.com/straln/braidcore/internal/httputil"
	"github.com/straln/braidcore/internal/monitoring"
	"github.com/straln/braidcore/internal/recording"
	"github.com/straln/braidcore/internal/serialmux"
	"github.com/straln/braidcore/internal/syncctrl"
	"github.com/straln/braidcore/internal/timeutil"
	"github.com/straln/braidcore/internal/transport"
	"github.com/straln/braidcore/internal/trigger"
	"github.com/straln/braidcore/internal/udpingress"
	"github.com/straln/braidcore/internal/wire"
)

// Orchestrator owns every long-lived component of the mainbrain process
// and coordinates their startup and shutdown.
type Orchestrator struct {
	cfg *config.Mainbrain

	token cancel.Token
	wg    sync.WaitGroup

	mgr       *cammgr.Manager
	est       *clockmodel.Estimator
	ctrl      *syncctrl.Controller
	trig      trigger.Driver
	ingress   *udpingress.Listener
	recDB     *recording.DB
	httpSrv   *http.Server
	camClient *transport.AuthedClient
	state     *transport.SnapshotBus[Snapshot]
	clockBus  *transport.ClockModelBus

	mu       sync.Mutex
	session  *recording.Session
	finalErr error

	firstErr     chan error
	shutdownOnce sync.Once

	// framedPointHook, when set before Start, receives every FramedPoint
	// handleFramedPoint produces. Tests use it to observe the ingress
	// pipeline's output without a real 3D tracker; nil in production.
	framedPointHook func(wire.FramedPoint)
}

// Snapshot is the state published to /braid-events subscribers.
type Snapshot struct {
	State          string   `json:"state"`
	RegisteredCams []string `json:"registered_cams"`
	MissingCams    []string `json:"missing_cams"`
	RecordingPath  string   `json:"recording_path,omitempty"`
}

// New builds an Orchestrator for cfg.
func New(cfg *config.Mainbrain) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		firstErr: make(chan error, 8),
		state:    transport.NewSnapshotBus[Snapshot](),
		clockBus: transport.NewClockModelBus(),
	}
}

// Start validates configuration, initializes every component, and
// launches the background goroutines that run until shutdown. ctx should
// be a signal-derived context (see signal.NotifyContext in the teacher's
// main.go); its cancellation is what triggers orderly shutdown. Start
// returns promptly; call Wait to block until the process should exit,
// then Err to learn why it stopped.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	o.token = cancel.New(ctx)

	if o.cfg.CalFname != "" {
		if _, err := os.Stat(o.cfg.CalFname); err != nil {
			return fmt.Errorf("%w: %v", ErrCalibrationLoad, err)
		}
	}

	o.mgr = cammgr.New(o.cfg.ExpectedCameras)
	// outlierThreshold of 2ms keeps Estimator.PushSample's per-sample
	// rejection gate on the same scale as syncctrl.DefaultResidualThreshold
	// (a (2ms)^2 mean-squared-residual bound), so Synced is reachable on
	// real-clock jitter without either gate dominating the other.
	o.est = clockmodel.New(32, 8, 2e-3)

	trig, err := o.buildTrigger()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTriggerInit, err)
	}
	o.trig = trig

	if dtd, ok := trig.(*trigger.DeviceTimestampDriver); ok {
		calibrateDeviceTimestamp(dtd)
	}

	syncCfg := syncctrl.Config{}
	o.ctrl = syncctrl.New(o.mgr, o.trig, o.est, timeutil.RealClock{}, syncCfg)

	if err := os.MkdirAll(o.cfg.OutputBaseDirname, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	dbPath := o.cfg.OutputBaseDirname + "/sessions.db"
	recDB, err := recording.Open(dbPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	o.recDB = recDB

	o.camClient = transport.NewAuthedClient(httputil.NewStandardClient(nil), o.cfg.BearerToken)

	o.ingress = udpingress.New(&udpingress.RealUDPSocketFactory{}, o.mgr, o.ctrl, sinkFunc(o.handleFramedPoint), nil)

	laddr := &net.UDPAddr{Port: int(o.cfg.LowlatencyCamdataUDPPort)}
	probe, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBind, err)
	}
	probe.Close()

	o.httpSrv = &http.Server{Addr: o.cfg.HTTPListen, Handler: o.httpHandler()}

	o.launch("sync-controller", func(ctx context.Context) error { return o.ctrl.Run(ctx) })
	o.launch("trigger-driver", func(ctx context.Context) error { return o.trig.Run(ctx) })
	o.launch("clock-sampler", o.pumpClockSamples)
	o.launch("clock-model-publisher", o.pumpClockModelPublish)
	o.launch("clock-model-fanout", o.runClockModelFanout)
	o.launch("offset-fanout", o.runOffsetFanout)
	o.launch("udp-ingress", func(ctx context.Context) error { return o.ingress.Run(ctx, laddr) })
	o.launch("http-server", o.runHTTPServer)
	o.launch("supervisor", o.superviseShutdown)

	return nil
}

// calibrateDeviceTimestamp runs ModeDeviceTimestamp's required once-at-
// startup calibration (§4.3): a short batch relating the driver's own
// device clock to host time. Camera-vendor device clocks are out of
// scope (spec.md Non-goals), so the batch pairs the host clock with
// itself at short intervals — the identity model a device clock that is
// already host-equivalent resolves to — giving ApplyModel a frozen model
// to predict through instead of reporting uncalibrated forever.
func calibrateDeviceTimestamp(d *trigger.DeviceTimestampDriver) {
	const batchSize = 8
	batch := make([]trigger.Sample, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		now := time.Now()
		batch = append(batch, trigger.Sample{PulseCount: uint64(now.UnixNano()), HostTime: now})
		time.Sleep(time.Millisecond)
	}
	d.Calibrate(batch)
}

// pumpClockSamples drains the trigger driver's sample stream into the
// clock-model estimator; without this the estimator never accumulates
// enough samples to fit a model and the sync controller can never reach
// Synced.
func (o *Orchestrator) pumpClockSamples(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-o.trig.Samples():
			if !ok {
				return nil
			}
			o.est.PushSample(s.PulseCount, float64(s.HostTime.UnixNano())/1e9)
		}
	}
}

const clockFanoutPollInterval = 200 * time.Millisecond

// pumpClockModelPublish watches the estimator for a newly-refit model and
// publishes it to clockBus whenever the sample count backing it changes.
func (o *Orchestrator) pumpClockModelPublish(ctx context.Context) error {
	ticker := time.NewTicker(clockFanoutPollInterval)
	defer ticker.Stop()

	lastN := -1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			model := o.est.CurrentModel()
			if model != nil && model.NMeasurements != lastN {
				lastN = model.NMeasurements
				o.clockBus.Publish(*model)
			}
		}
	}
}

// runClockModelFanout subscribes to clockBus and pushes every published
// model to every registered camera's control URL via SetClockModel,
// satisfying the "distributes computed frame offsets/clock models back
// to each camera node via HTTP" requirement (§4.3/§4.4).
func (o *Orchestrator) runClockModelFanout(ctx context.Context) error {
	id, ch := o.clockBus.Subscribe()
	defer o.clockBus.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case model, ok := <-ch:
			if !ok {
				return nil
			}
			for _, name := range o.mgr.RegisteredCamNames() {
				if err := o.postCallback(name, "SetClockModel", model); err != nil {
					monitoring.Logf("coordinator: push clock model to %q: %v", name, err)
				}
			}
		}
	}
}

// runOffsetFanout polls the camera registry for newly-installed sync
// offsets and pushes each one to its camera via SetFrameOffset, the HTTP
// half of offset installation that syncctrl itself (no HTTP client)
// cannot perform.
func (o *Orchestrator) runOffsetFanout(ctx context.Context) error {
	ticker := time.NewTicker(clockFanoutPollInterval)
	defer ticker.Stop()

	pushed := make(map[string]uint64)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, name := range o.mgr.RegisteredCamNames() {
				offset, ok := o.mgr.Offset(name)
				if !ok {
					delete(pushed, name)
					continue
				}
				if prev, done := pushed[name]; done && prev == offset {
					continue
				}
				if err := o.postCallback(name, "SetFrameOffset", offset); err != nil {
					monitoring.Logf("coordinator: push frame offset to %q: %v", name, err)
					continue
				}
				pushed[name] = offset
			}
		}
	}
}

// postCallback POSTs a single-field tagged-union callback body, matching
// camnode.Callback's wire shape, to rawCamName's registered control URL.
func (o *Orchestrator) postCallback(rawCamName, field string, value interface{}) error {
	controlURL, ok := o.mgr.ControlURL(rawCamName)
	if !ok || controlURL == "" {
		return fmt.Errorf("no known control URL for camera %q", rawCamName)
	}

	body, err := json.Marshal(map[string]interface{}{field: value})
	if err != nil {
		return fmt.Errorf("encode callback body: %w", err)
	}

	resp, err := o.camClient.PostJSON(context.Background(), controlURL+"/callback", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// sinkFunc adapts a function to udpingress.Sink.
type sinkFunc func(wire.FramedPoint)

func (f sinkFunc) HandleFramedPoint(fp wire.FramedPoint) { f(fp) }

func (o *Orchestrator) handleFramedPoint(fp wire.FramedPoint) {
	// Handing FramedPoints to the (out-of-scope) 3D tracker and archive
	// writer happens here; this module's responsibility ends at having
	// produced a sync-resolved point.
	if o.framedPointHook != nil {
		o.framedPointHook(fp)
	}
}

func (o *Orchestrator) buildTrigger() (trigger.Driver, error) {
	switch o.cfg.TriggerMode {
	case "fake", "":
		return trigger.NewFakeDriver(timeutil.RealClock{}, 100), nil
	case "ptp":
		return trigger.NewPTPDriver(), nil
	case "device_timestamp":
		return trigger.NewDeviceTimestampDriver(), nil
	case "pulse":
		mux, err := serialmux.NewRealSerialMux(o.cfg.TriggerBoxPort, serialmux.PortOptions{})
		if err != nil {
			return nil, err
		}
		if err := mux.Initialize(); err != nil {
			mux.Close()
			return nil, err
		}
		return trigger.NewPulseDriver(mux, timeutil.RealClock{}), nil
	default:
		return nil, fmt.Errorf("unknown trigger_mode %q", o.cfg.TriggerMode)
	}
}

// launch starts fn in a tracked goroutine; its return value (including
// nil) is reported to firstErr so the supervisor can react to whichever
// task finishes first, the Go-idiomatic analogue of a top-level
// futures::select! over every long-lived task.
func (o *Orchestrator) launch(name string, fn func(ctx context.Context) error) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		err := fn(o.token.Context())
		monitoring.Logf("coordinator: task %q exited: %v", name, err)
		select {
		case o.firstErr <- err:
		default:
		}
	}()
}

func (o *Orchestrator) runHTTPServer(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := o.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return o.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// superviseShutdown waits for the first background task to finish (for
// any reason, including a clean one) or for the cancellation token to
// fire, then runs the four-step shutdown drain.
func (o *Orchestrator) superviseShutdown(ctx context.Context) error {
	var result error
	select {
	case err := <-o.firstErr:
		if err == nil || errors.Is(err, context.Canceled) {
			result = ErrClean
		} else {
			result = err
		}
	case err := <-o.ctrl.SyncFailed():
		result = fmt.Errorf("%w: %v", ErrSyncFailedFatal, err)
	case <-ctx.Done():
		result = ErrClean
	}

	o.shutdown()

	o.mu.Lock()
	o.finalErr = result
	o.mu.Unlock()
	return result
}

// Err reports why the orchestrator stopped: ErrClean for an orderly
// shutdown, ErrSyncFailedFatal for a fatal synchronization failure, or
// whatever error the first failing background task returned. Call only
// after Wait returns.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.finalErr
}

// shutdown runs the prescribed four-step drain exactly once: stop the
// archive writer, send DoQuit to every registered camera over HTTP, fire
// the cancellation token, then the UDP ingress closes its socket as its
// Run loop observes the cancelled context.
func (o *Orchestrator) shutdown() {
	o.shutdownOnce.Do(func() {
		o.mu.Lock()
		session := o.session
		o.mu.Unlock()
		if session != nil {
			if err := session.Close(); err != nil {
				monitoring.Logf("coordinator: closing recording session: %v", err)
			}
		}

		for _, name := range o.mgr.RegisteredCamNames() {
			o.quitCamera(name)
		}

		o.token.Cancel()

		if err := o.recDB.Close(); err != nil {
			monitoring.Logf("coordinator: closing recording database: %v", err)
		}
	})
}

func (o *Orchestrator) quitCamera(rawCamName string) {
	if err := o.postCallback(rawCamName, "DoQuit", struct{}{}); err != nil {
		monitoring.Logf("coordinator: DoQuit to %q failed: %v", rawCamName, err)
	}
}

// Wait blocks until every background task has exited.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// RegisterCamera assigns a CamNum to a newly-reporting camera; the
// single mutation point for CamNum assignment (invariant 5).
func (o *Orchestrator) RegisterCamera(reg cammgr.Registration) (uint8, error) {
	camNum, err := o.mgr.Register(reg)
	if err != nil {
		return 0, err
	}

	o.mu.Lock()
	session := o.session
	o.mu.Unlock()
	if session != nil {
		if err := session.RecordCameraSnapshot(recording.CameraSnapshot{
			CamNum:       camNum,
			RawCamName:   reg.RawCamName,
			SettingsBlob: reg.SettingsBlob,
			InitialImage: reg.InitialImage,
		}); err != nil {
			monitoring.Logf("coordinator: recording camera snapshot for %q: %v", reg.RawCamName, err)
		}
	}

	return camNum, nil
}

// StartRecording opens a RecordingSession under the configured output
// directory. Delegating actual FramedPoint persistence to the (external)
// archive writer, this records only the session's own metadata.
func (o *Orchestrator) StartRecording(outputDirname string, expectedFPS float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != nil {
		return fmt.Errorf("coordinator: a recording session is already open")
	}
	s, err := recording.Start(o.recDB, outputDirname, expectedFPS)
	if err != nil {
		return err
	}
	o.session = s
	return nil
}

// StopRecording closes the current RecordingSession, if any.
func (o *Orchestrator) StopRecording() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil
	}
	err := o.session.Close()
	o.session = nil
	return err
}
