package coordinator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/straln/braidcore/internal/cammgr"
	jsonutil "github.com/straln/braidcore/internal/httputil"
	"github.com/straln/braidcore/internal/monitoring"
	"github.com/straln/braidcore/internal/security"
)

const braidEventInterval = time.Second

// mainbrainCallback is the tagged union POSTed to /callback by a camera
// node or an operator console. Exactly one field should be non-nil.
type mainbrainCallback struct {
	NewCamera           *cammgr.Registration `json:"NewCamera,omitempty"`
	UpdateCamSettings   *camSettingsUpdate    `json:"UpdateCamSettings,omitempty"`
	UpdateCurrentImage  *currentImageUpdate   `json:"UpdateCurrentImage,omitempty"`
	DoRecordCsvTables   *bool                 `json:"DoRecordCsvTables,omitempty"`
	SetExperimentUuid   *string               `json:"SetExperimentUuid,omitempty"`
}

type camSettingsUpdate struct {
	RawCamName string `json:"raw_cam_name"`
	Settings   string `json:"settings"`
}

type currentImageUpdate struct {
	RawCamName string `json:"raw_cam_name"`
	Image      []byte `json:"image"`
}

func (o *Orchestrator) httpHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/remote-camera-info/", o.handleRemoteCameraInfo)
	mux.HandleFunc("/callback", o.handleCallback)
	mux.HandleFunc("/braid-events", o.handleBraidEvents)
	mux.HandleFunc("/cam-proxy/", o.handleCamProxy)
	return mux
}

func (o *Orchestrator) handleRemoteCameraInfo(w http.ResponseWriter, r *http.Request) {
	camName := strings.TrimPrefix(r.URL.Path, "/remote-camera-info/")
	if camName == "" {
		jsonutil.NotFound(w, "camera name required")
		return
	}

	info := struct {
		UDPPort     int    `json:"udp_port"`
		ForceSync   bool   `json:"force_sync"`
		TriggerType string `json:"trigger_type"`
	}{
		UDPPort:     int(o.cfg.LowlatencyCamdataUDPPort),
		TriggerType: o.cfg.TriggerMode,
	}
	jsonutil.WriteJSONOK(w, info)
}

func (o *Orchestrator) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonutil.MethodNotAllowed(w)
		return
	}

	var cb mainbrainCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		jsonutil.BadRequest(w, fmt.Sprintf("invalid callback body: %v", err))
		return
	}

	switch {
	case cb.NewCamera != nil:
		camNum, err := o.RegisterCamera(*cb.NewCamera)
		if err != nil {
			jsonutil.BadRequest(w, err.Error())
			return
		}
		jsonutil.WriteJSONOK(w, struct {
			CamNum uint8 `json:"cam_num"`
		}{camNum})
		return
	case cb.DoRecordCsvTables != nil:
		if err := o.setRecording(*cb.DoRecordCsvTables); err != nil {
			jsonutil.BadRequest(w, err.Error())
			return
		}
	case cb.UpdateCamSettings != nil, cb.UpdateCurrentImage != nil, cb.SetExperimentUuid != nil:
		// Orthogonal to the tracking core: accepted and acknowledged,
		// not otherwise acted upon by this module.
	default:
		jsonutil.BadRequest(w, "callback body names no recognized variant")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// setRecording starts or stops the active RecordingSession in response to
// a DoRecordCsvTables callback. A new session's output directory is a
// timestamped subdirectory of the configured output base, validated to
// stay within it before the session is opened.
func (o *Orchestrator) setRecording(enable bool) error {
	if !enable {
		return o.StopRecording()
	}

	dirname := filepath.Join(o.cfg.OutputBaseDirname, time.Now().UTC().Format("20060102_150405"))
	if err := security.ValidatePathWithinDirectory(dirname, o.cfg.OutputBaseDirname); err != nil {
		return fmt.Errorf("coordinator: refusing recording path: %w", err)
	}
	if err := os.MkdirAll(dirname, 0o755); err != nil {
		return fmt.Errorf("coordinator: creating recording directory: %w", err)
	}
	if err := o.StartRecording(dirname, o.cfg.ExpectedFPS); err != nil {
		return err
	}
	monitoring.Logf("coordinator: recording started at %s", dirname)
	return nil
}

func (o *Orchestrator) handleBraidEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonutil.InternalServerError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(braidEventInterval)
	defer ticker.Stop()

	for {
		o.publishSnapshot()
		snap := o.state.Latest()
		if snap != nil {
			fmt.Fprint(w, "data: ")
			if err := json.NewEncoder(w).Encode(*snap); err != nil {
				return
			}
			flusher.Flush()
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) publishSnapshot() {
	o.mu.Lock()
	recordingPath := ""
	if o.session != nil {
		recordingPath = o.session.OutputDirname
	}
	o.mu.Unlock()

	state := "running"
	if !o.mgr.AllPresent() {
		state = "waiting-for-cameras"
	} else if !o.mgr.AllSynced() {
		state = "syncing"
	}

	o.state.Publish(Snapshot{
		State:          state,
		RegisteredCams: o.mgr.RegisteredCamNames(),
		MissingCams:    o.mgr.Missing(),
		RecordingPath:  recordingPath,
	})
}

// handleCamProxy forwards /cam-proxy/{cam_name}/... to the camera's own
// registered control URL, so an operator console can reach every camera's
// UI through the coordinator's single address.
func (o *Orchestrator) handleCamProxy(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/cam-proxy/")
	camName, subPath, found := strings.Cut(rest, "/")
	if !found {
		camName = rest
		subPath = ""
	}

	controlURL, ok := o.mgr.ControlURL(camName)
	if !ok || controlURL == "" {
		jsonutil.NotFound(w, fmt.Sprintf("no known control URL for camera %q", camName))
		return
	}

	target, err := url.Parse(controlURL)
	if err != nil {
		jsonutil.InternalServerError(w, fmt.Sprintf("invalid control URL for camera %q", camName))
		return
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	r.URL.Path = "/" + subPath
	proxy.ServeHTTP(w, r)
}
