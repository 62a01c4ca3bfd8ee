// Package config loads the TOML configuration for the mainbrain
// coordinator and strand-cam camera-node binaries.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// TrackingParams holds the tracker knobs the coordinator passes through
// to the (out-of-scope) 3D tracker; fields are opaque numeric/bool knobs
// this module never interprets itself.
type TrackingParams struct {
	MaxMisses             int     `toml:"max_misses"`
	GatingDistanceSquared float64 `toml:"gating_distance_squared"`
	ProcessNoisePos       float64 `toml:"process_noise_pos"`
	ProcessNoiseVel       float64 `toml:"process_noise_vel"`
	MeasurementNoise      float64 `toml:"measurement_noise"`
}

// Mainbrain is the coordinator's run-time configuration, loaded from the
// TOML file named on the command line.
type Mainbrain struct {
	CalFname                    string         `toml:"cal_fname"`
	OutputBaseDirname           string         `toml:"output_base_dirname"`
	TrackingParams              TrackingParams `toml:"tracking_params"`
	LowlatencyCamdataUDPPort    uint16         `toml:"lowlatency_camdata_udp_port"`
	SaveEmptyData2D             bool           `toml:"save_empty_data2d"`
	WriteBufferSizeNumMessages  int            `toml:"write_buffer_size_num_messages"`
	PacketCaptureDumpFname      string         `toml:"packet_capture_dump_fname"`
	ExpectedFPS                 float64        `toml:"expected_fps"`

	ExpectedCameras []string `toml:"expected_cameras"`
	TriggerMode     string   `toml:"trigger_mode"` // "fake", "pulse", "ptp", "device_timestamp"
	TriggerBoxPort  string   `toml:"trigger_box_port"`

	BearerToken string `toml:"bearer_token"`
	HTTPListen  string `toml:"http_listen"`
}

// LoadMainbrain parses a mainbrain TOML config file and fills in
// defaults for anything left unset.
func LoadMainbrain(path string) (*Mainbrain, error) {
	var cfg Mainbrain
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Mainbrain) applyDefaults() {
	if c.LowlatencyCamdataUDPPort == 0 {
		c.LowlatencyCamdataUDPPort = 3883
	}
	if c.WriteBufferSizeNumMessages == 0 {
		c.WriteBufferSizeNumMessages = 1000
	}
	if c.TriggerMode == "" {
		c.TriggerMode = "fake"
	}
	if c.HTTPListen == "" {
		c.HTTPListen = "127.0.0.1:8397"
	}
	if c.ExpectedFPS == 0 {
		c.ExpectedFPS = 100.0
	}
}

// Validate reports configuration errors a loaded file must not have.
func (c *Mainbrain) Validate() error {
	if c.OutputBaseDirname == "" {
		return fmt.Errorf("output_base_dirname is required")
	}
	if len(c.ExpectedCameras) == 0 {
		return fmt.Errorf("expected_cameras must name at least one camera")
	}
	switch c.TriggerMode {
	case "fake", "pulse", "ptp", "device_timestamp":
	default:
		return fmt.Errorf("trigger_mode %q is not one of fake, pulse, ptp, device_timestamp", c.TriggerMode)
	}
	if c.TriggerMode == "pulse" && c.TriggerBoxPort == "" {
		return fmt.Errorf("trigger_box_port is required when trigger_mode = \"pulse\"")
	}
	return nil
}
