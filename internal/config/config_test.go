package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadMainbrain_AppliesDefaults(t *testing.T) {
	path := writeTemp(t, `
output_base_dirname = "/var/data/recordings"
expected_cameras = ["camA", "camB"]
`)
	cfg, err := LoadMainbrain(path)
	if err != nil {
		t.Fatalf("LoadMainbrain: %v", err)
	}
	if cfg.LowlatencyCamdataUDPPort != 3883 {
		t.Errorf("LowlatencyCamdataUDPPort = %d, want 3883", cfg.LowlatencyCamdataUDPPort)
	}
	if cfg.TriggerMode != "fake" {
		t.Errorf("TriggerMode = %q, want fake", cfg.TriggerMode)
	}
}

func TestLoadMainbrain_RejectsMissingOutputDir(t *testing.T) {
	path := writeTemp(t, `expected_cameras = ["camA"]`)
	if _, err := LoadMainbrain(path); err == nil {
		t.Fatal("expected error for missing output_base_dirname")
	}
}

func TestLoadMainbrain_RejectsPulseModeWithoutPort(t *testing.T) {
	path := writeTemp(t, `
output_base_dirname = "/var/data/recordings"
expected_cameras = ["camA"]
trigger_mode = "pulse"
`)
	if _, err := LoadMainbrain(path); err == nil {
		t.Fatal("expected error for pulse trigger mode without trigger_box_port")
	}
}

func TestLoadStrandCam_AppliesDefaults(t *testing.T) {
	path := writeTemp(t, `cam_name = "camA"`)
	cfg, err := LoadStrandCam(path)
	if err != nil {
		t.Fatalf("LoadStrandCam: %v", err)
	}
	if !cfg.Detector.Centroid {
		t.Error("expected centroid detector to default on when none selected")
	}
	if cfg.PublishEveryN != 1 {
		t.Errorf("PublishEveryN = %d, want 1", cfg.PublishEveryN)
	}
}

func TestLoadStrandCam_RejectsMissingCamName(t *testing.T) {
	path := writeTemp(t, `vendor_driver = "fake"`)
	if _, err := LoadStrandCam(path); err == nil {
		t.Fatal("expected error for missing cam_name")
	}
}
