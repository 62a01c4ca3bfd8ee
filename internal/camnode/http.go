package camnode

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/straln/braidcore/internal/wire"
)

const eventStreamInterval = time.Second

// Callback is the tagged union POSTed to /callback. Exactly one field
// should be non-nil; unrecognized/empty bodies are rejected.
type Callback struct {
	DoQuit          *struct{}      `json:"DoQuit,omitempty"`
	SetFrameOffset  *uint64        `json:"SetFrameOffset,omitempty"`
	SetClockModel   *wire.ClockModel `json:"SetClockModel,omitempty"`
	ClearClockModel *struct{}      `json:"ClearClockModel,omitempty"`
}

// RemoteCameraInfo is the coordinator's `/remote-camera-info/{cam_name}`
// response body, as seen by a camera node polling it.
type RemoteCameraInfo struct {
	UDPPort                int             `json:"udp_port"`
	ForceSync              bool            `json:"force_sync"`
	SoftwareFramerateLimit float64         `json:"software_framerate_limit_hz,omitempty"`
	TriggerType            string          `json:"trigger_type"`
	Config                 json.RawMessage `json:"config,omitempty"`
}

// Handler returns the camera node's HTTP control surface: POST /callback
// and GET /strand-cam-events.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", n.handleCallback)
	mux.HandleFunc("/strand-cam-events", n.handleEvents)
	return mux
}

func (n *Node) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var cb Callback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		http.Error(w, fmt.Sprintf("invalid callback body: %v", err), http.StatusBadRequest)
		return
	}

	switch {
	case cb.DoQuit != nil:
		n.DoQuit()
	case cb.SetFrameOffset != nil:
		n.SetFrameOffset(*cb.SetFrameOffset)
	case cb.SetClockModel != nil:
		n.SetClockModel(cb.SetClockModel)
	case cb.ClearClockModel != nil:
		n.SetClockModel(nil)
	default:
		http.Error(w, "callback body names no recognized variant", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleEvents streams this node's stats as server-sent events at a
// fixed poll interval until the client disconnects.
func (n *Node) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(eventStreamInterval)
	defer ticker.Stop()

	for {
		fmt.Fprint(w, "data: ")
		if err := json.NewEncoder(w).Encode(n.Stats()); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// ApplyRemoteCameraInfo honors the force_sync flag from a polled
// /remote-camera-info response: a camera told to force-sync clears its
// local offset immediately rather than waiting for the next
// SetFrameOffset callback.
func (n *Node) ApplyRemoteCameraInfo(info RemoteCameraInfo) {
	if info.ForceSync {
		n.ForceSync()
	}
}
