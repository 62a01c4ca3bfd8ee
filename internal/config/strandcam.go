package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// DetectorParams configures the per-frame detector pipeline.
type DetectorParams struct {
	// BackgroundSubtraction enables the background-subtraction detector.
	BackgroundSubtraction bool `toml:"background_subtraction"`
	// Centroid enables the trivial moment-centroid detector.
	Centroid bool `toml:"centroid"`
	// AprilTag enables the (currently stub) AprilTag detector.
	AprilTag bool `toml:"april_tag"`
}

// RecordingParams configures the optional local-video recording writer.
type RecordingParams struct {
	// Writer selects the recording writer implementation: "none",
	// "bounded" (bounded-channel writer of raw frame bytes, no container
	// muxing), or "" (= none).
	Writer           string  `toml:"writer"`
	MaxFramerateHz   float64 `toml:"max_framerate_hz"`
	OutputBasename   string  `toml:"output_basename"`
}

// StrandCam is a camera node's run-time configuration.
type StrandCam struct {
	CamName       string          `toml:"cam_name"`
	VendorDriver  string          `toml:"vendor_driver"` // stub selector, e.g. "pylon", "fake"
	Detector      DetectorParams  `toml:"detector"`
	Recording     RecordingParams `toml:"recording"`
	PublishEveryN int             `toml:"publish_every_n"`

	BearerToken string `toml:"bearer_token"`
	HTTPListen  string `toml:"http_listen"`
}

// LoadStrandCam parses a strand-cam TOML config file and fills in
// defaults for anything left unset.
func LoadStrandCam(path string) (*StrandCam, error) {
	var cfg StrandCam
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *StrandCam) applyDefaults() {
	if c.PublishEveryN == 0 {
		c.PublishEveryN = 1
	}
	if c.Recording.Writer == "" {
		c.Recording.Writer = "none"
	}
	if c.HTTPListen == "" {
		c.HTTPListen = "127.0.0.1:0"
	}
	if !c.Detector.BackgroundSubtraction && !c.Detector.Centroid && !c.Detector.AprilTag {
		c.Detector.Centroid = true
	}
}

// Validate reports configuration errors a loaded file must not have.
func (c *StrandCam) Validate() error {
	if c.CamName == "" {
		return fmt.Errorf("cam_name is required")
	}
	switch c.Recording.Writer {
	case "none", "bounded":
	default:
		return fmt.Errorf("recording.writer %q is not one of none, bounded", c.Recording.Writer)
	}
	if c.PublishEveryN < 1 {
		return fmt.Errorf("publish_every_n must be >= 1")
	}
	return nil
}
