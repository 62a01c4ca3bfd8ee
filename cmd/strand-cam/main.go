// Command strand-cam is a camera node: it acquires frames from a camera
// driver, runs the configured detector pipeline, and emits feature
// packets to the coordinator over UDP.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/straln/braidcore/internal/cammgr"
	"github.com/straln/braidcore/internal/camnode"
	"github.com/straln/braidcore/internal/config"
	"github.com/straln/braidcore/internal/fsutil"
	"github.com/straln/braidcore/internal/timeutil"
	"github.com/straln/braidcore/internal/trigger"
	"github.com/straln/braidcore/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to strand-cam TOML config")
	mainbrainURL := flag.String("mainbrain-url", "", "base URL of the coordinator's HTTP control surface")
	versionFlag := flag.Bool("version", false, "print version and exit")
	// Accept "strand-cam run -config <path> ..." as well as "strand-cam -config <path> ...".
	if len(os.Args) > 1 && os.Args[1] == "run" {
		os.Args = append(os.Args[:1], os.Args[2:]...)
	}
	flag.Parse()

	if *versionFlag {
		fmt.Printf("strand-cam v%s (git SHA: %s)\n", version.Version, version.GitSHA)
		os.Exit(0)
	}

	if *configPath == "" {
		log.Fatal("strand-cam: -config is required")
	}
	if *mainbrainURL == "" {
		log.Fatal("strand-cam: -mainbrain-url is required")
	}

	cfg, err := config.LoadStrandCam(*configPath)
	if err != nil {
		log.Printf("strand-cam: failed to load config: %v", err)
		os.Exit(1)
	}

	info, err := fetchRemoteCameraInfo(*mainbrainURL, cfg.CamName)
	if err != nil {
		log.Printf("strand-cam: failed to reach coordinator: %v", err)
		os.Exit(1)
	}

	node, listener, err := buildNode(cfg, *mainbrainURL, info, fsutil.OSFileSystem{})
	if err != nil {
		log.Printf("strand-cam: failed to initialize: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := registerWithMainbrain(ctx, cfg, *mainbrainURL, listener.Addr().String()); err != nil {
		log.Printf("strand-cam: registration with coordinator failed: %v", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := node.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("strand-cam: acquisition loop stopped: %v", err)
		}
	}()

	httpSrv := &http.Server{Handler: node.Handler()}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("strand-cam: http server error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		pollRemoteCameraInfo(ctx, node, *mainbrainURL, cfg.CamName)
	}()

	<-ctx.Done()
	log.Print("strand-cam: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("strand-cam: http server shutdown error: %v", err)
	}
	node.DoQuit()

	wg.Wait()
	log.Print("strand-cam: graceful shutdown complete")
}

func buildNode(cfg *config.StrandCam, mainbrainURL string, info camnode.RemoteCameraInfo, fs fsutil.FileSystem) (*camnode.Node, net.Listener, error) {
	driver := camnode.NewFakeCameraDriver(640, 480, timeutil.RealClock{})

	var detectors []camnode.Detector
	if cfg.Detector.BackgroundSubtraction {
		detectors = append(detectors, camnode.NewBackgroundSubtractionDetector(30, 0.02))
	}
	if cfg.Detector.Centroid {
		detectors = append(detectors, camnode.CentroidDetector{})
	}
	if cfg.Detector.AprilTag {
		detectors = append(detectors, camnode.AprilTagDetector{})
	}
	if len(detectors) == 0 {
		detectors = append(detectors, camnode.CentroidDetector{})
	}

	mainbrainHost, err := mainbrainHostname(mainbrainURL)
	if err != nil {
		return nil, nil, err
	}
	pw, err := camnode.DialPacketWriter(fmt.Sprintf("%s:%d", mainbrainHost, info.UDPPort))
	if err != nil {
		return nil, nil, fmt.Errorf("dial coordinator udp ingest: %w", err)
	}
	emitter := camnode.NewEmitter(pw)

	var recorder camnode.RecordingWriter
	switch cfg.Recording.Writer {
	case "bounded":
		out, err := fs.Create(cfg.Recording.OutputBasename + ".raw")
		if err != nil {
			return nil, nil, fmt.Errorf("open recording output: %w", err)
		}
		recorder = camnode.NewBoundedRecordingWriter(out, cfg.Recording.MaxFramerateHz, timeutil.RealClock{})
	default:
		recorder = camnode.NoopRecordingWriter{}
	}

	node := camnode.New(camnode.Config{
		CamName:       cfg.CamName,
		TriggerMode:   parseTriggerMode(info.TriggerType),
		PublishEveryN: cfg.PublishEveryN,
	}, driver, detectors, emitter, recorder, nil)

	ln, err := net.Listen("tcp", cfg.HTTPListen)
	if err != nil {
		return nil, nil, fmt.Errorf("listen on %s: %w", cfg.HTTPListen, err)
	}

	return node, ln, nil
}

func mainbrainHostname(mainbrainURL string) (string, error) {
	u, err := url.Parse(mainbrainURL)
	if err != nil {
		return "", fmt.Errorf("parse mainbrain-url: %w", err)
	}
	return u.Hostname(), nil
}

// fetchRemoteCameraInfo asks the coordinator for this camera's assigned
// UDP port and the trigger mode in effect, before the node starts
// acquiring and emitting frames.
func fetchRemoteCameraInfo(mainbrainURL, camName string) (camnode.RemoteCameraInfo, error) {
	resp, err := http.Get(mainbrainURL + "/remote-camera-info/" + camName)
	if err != nil {
		return camnode.RemoteCameraInfo{}, err
	}
	defer resp.Body.Close()

	var info camnode.RemoteCameraInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return camnode.RemoteCameraInfo{}, err
	}
	return info, nil
}

// parseTriggerMode maps the coordinator's trigger-type descriptor to the
// trigger.Mode this node uses to compute trigger timestamps (§4.4 step 3).
func parseTriggerMode(triggerType string) trigger.Mode {
	switch triggerType {
	case "pulse":
		return trigger.ModePulse
	case "ptp":
		return trigger.ModePTP
	case "device_timestamp":
		return trigger.ModeDeviceTimestamp
	default:
		return trigger.ModeFake
	}
}

func registerWithMainbrain(ctx context.Context, cfg *config.StrandCam, mainbrainURL, controlAddr string) error {
	reg := cammgr.Registration{
		RawCamName:   cfg.CamName,
		ControlURL:   "http://" + controlAddr,
		ControlToken: cfg.BearerToken,
	}

	body, err := json.Marshal(struct {
		NewCamera cammgr.Registration `json:"NewCamera"`
	}{reg})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, mainbrainURL+"/callback", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("coordinator rejected registration: status %d", resp.StatusCode)
	}
	return nil
}

// pollRemoteCameraInfo periodically checks the coordinator for
// out-of-band instructions (force_sync) until ctx is cancelled.
func pollRemoteCameraInfo(ctx context.Context, node *camnode.Node, mainbrainURL, camName string) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resp, err := http.Get(mainbrainURL + "/remote-camera-info/" + camName)
			if err != nil {
				continue
			}
			var info camnode.RemoteCameraInfo
			err = json.NewDecoder(resp.Body).Decode(&info)
			resp.Body.Close()
			if err != nil {
				continue
			}
			node.ApplyRemoteCameraInfo(info)
		}
	}
}
