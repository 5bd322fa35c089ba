package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ---------- ValidateConfigPath ----------

func TestValidateConfigPath_Valid(t *testing.T) {
	// Create a real configs/ directory so filepath.Abs resolves correctly.
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "default.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ValidateConfigPath(path); err != nil {
		t.Errorf("expected valid path, got error: %v", err)
	}
}

func TestValidateConfigPath_PathTraversal(t *testing.T) {
	cases := []string{
		"../../etc/passwd",
		"configs/../../../etc/shadow",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for traversal path %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_WrongExtension(t *testing.T) {
	cases := []string{
		"configs/default.json",
		"configs/default.yml",
		"configs/default.txt",
		"configs/default",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for extension in %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_NotInConfigsDir(t *testing.T) {
	cases := []string{
		"other/default.yaml",
		"default.yaml",
		"/tmp/default.yaml",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for path outside configs/ %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_EmptyPath(t *testing.T) {
	if err := ValidateConfigPath(""); err == nil {
		t.Error("expected error for empty path, got nil")
	}
}

func TestValidateConfigPath_VeryLongPath(t *testing.T) {
	long := "configs/" + strings.Repeat("a", 1000) + ".yaml"
	// Should not panic; error or success is OS-dependent, but must not crash.
	_ = ValidateConfigPath(long)
}

func TestValidateConfigPath_SpecialChars(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name    string
		wantErr bool
	}{
		{"con fig.yaml", false},
		{"café.yaml", false},
	}
	for _, tc := range cases {
		path := filepath.Join(cfgDir, tc.name)
		err := ValidateConfigPath(path)
		if tc.wantErr && err == nil {
			t.Errorf("expected error for %q, got nil", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("unexpected error for %q: %v", tc.name, err)
		}
	}
}

func TestValidateConfigPath_DoubleTraversal(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	// Try to escape via ../../configs/ok.yaml; filepath.Clean resolves this
	// and the parent must still be "configs".
	path := filepath.Join(cfgDir, "../../configs/ok.yaml")
	err := ValidateConfigPath(path)
	// After Clean the parent may or may not be "configs" depending on resolution.
	// The important thing is it either succeeds with a valid parent or fails.
	_ = err
}


// ---------- Load ----------

// writeConfig creates a temporary configs/ dir with the given YAML content and returns the path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
camera:
  type: "ffmpeg_v4l2"
  video_device: /dev/video2
  audio_device: "hw:1,0"
  audio: required
  ffmpeg_path: /usr/bin/ffmpeg
  stop_grace_ms: 500
torch:
  type: gpio
  pin: 18
  active_low: true
segment:
  slice_ms: 1500
  dir: /var/tmp/torchrec
  prefix: clip
  extension: .ts
web:
  command_rate_per_minute: 30
defaults:
  debug_level: 2
  mock_gpio: true
`

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Camera.Type != "ffmpeg_v4l2" {
		t.Errorf("camera.type = %q, want %q", cfg.Camera.Type, "ffmpeg_v4l2")
	}
	if cfg.Camera.VideoDevice != "/dev/video2" {
		t.Errorf("camera.video_device = %q", cfg.Camera.VideoDevice)
	}
	if cfg.Camera.Audio != AudioRequired {
		t.Errorf("camera.audio = %q, want %q", cfg.Camera.Audio, AudioRequired)
	}
	if cfg.Torch.Pin != 18 || !cfg.Torch.ActiveLow {
		t.Errorf("torch = %+v, want pin 18 active low", cfg.Torch)
	}
	if cfg.SliceDuration() != 1500*time.Millisecond {
		t.Errorf("SliceDuration() = %v, want 1.5s", cfg.SliceDuration())
	}
	if cfg.StopGrace() != 500*time.Millisecond {
		t.Errorf("StopGrace() = %v, want 500ms", cfg.StopGrace())
	}
	if cfg.Segment.Extension != "ts" {
		t.Errorf("extension = %q, want leading dot stripped", cfg.Segment.Extension)
	}
	if cfg.Web.CommandRatePerMinute != 30 {
		t.Errorf("command_rate_per_minute = %d, want 30", cfg.Web.CommandRatePerMinute)
	}
	if cfg.Defaults.DebugLevel != 2 || !cfg.Defaults.MockGPIO {
		t.Errorf("defaults = %+v", cfg.Defaults)
	}
}

func TestLoad_MissingCameraType(t *testing.T) {
	path := writeConfig(t, "segment:\n  slice_ms: 1000\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for missing camera.type, got nil")
	}
}

func TestLoad_UnsupportedCameraType(t *testing.T) {
	path := writeConfig(t, "camera:\n  type: nikon_d90_gpio\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for unsupported camera.type, got nil")
	}
}

func TestLoad_InvalidAudioPolicy(t *testing.T) {
	path := writeConfig(t, "camera:\n  type: mock\n  audio: sometimes\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid audio policy, got nil")
	}
}

func TestLoad_TorchValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"gpio_without_pin", "camera:\n  type: mock\ntorch:\n  type: gpio\n"},
		{"sysfs_without_led", "camera:\n  type: mock\ntorch:\n  type: sysfs\n"},
		{"unknown_type", "camera:\n  type: mock\ntorch:\n  type: laser\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoad_SliceOutOfRange(t *testing.T) {
	for _, ms := range []int{-5, 50, 60001} {
		path := writeConfig(t, fmt.Sprintf("camera:\n  type: mock\nsegment:\n  slice_ms: %d\n", ms))
		if _, err := Load(path); err == nil {
			t.Errorf("slice_ms=%d: expected error, got nil", ms)
		}
	}
}

func TestLoad_DebugLevelOutOfRange(t *testing.T) {
	path := writeConfig(t, "camera:\n  type: mock\ndefaults:\n  debug_level: 9\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for debug_level 9, got nil")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	path := writeConfig(t, "camera:\n  type: mock\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Segment.SliceMs != 1000 {
		t.Errorf("slice_ms default = %d, want 1000", cfg.Segment.SliceMs)
	}
	if cfg.Segment.Dir != os.TempDir() {
		t.Errorf("segment.dir default = %q, want %q", cfg.Segment.Dir, os.TempDir())
	}
	if cfg.Segment.Prefix != "video" || cfg.Segment.Extension != "ts" {
		t.Errorf("segment naming defaults = %q/%q", cfg.Segment.Prefix, cfg.Segment.Extension)
	}
	if cfg.Camera.Audio != AudioOptional {
		t.Errorf("audio default = %q, want %q", cfg.Camera.Audio, AudioOptional)
	}
	if cfg.Camera.AudioDevice != "default" || cfg.Camera.FFmpegPath != "ffmpeg" {
		t.Errorf("camera defaults = %+v", cfg.Camera)
	}
	if cfg.Camera.StopGraceMs != 2000 {
		t.Errorf("stop_grace_ms default = %d, want 2000", cfg.Camera.StopGraceMs)
	}
	if cfg.Torch.Type != "none" {
		t.Errorf("torch.type default = %q, want none", cfg.Torch.Type)
	}
	if cfg.Web.CommandRatePerMinute != 120 {
		t.Errorf("command rate default = %d, want 120", cfg.Web.CommandRatePerMinute)
	}
}

func TestLoad_FileTooLarge(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "big.yaml")
	data := make([]byte, MaxConfigFileBytes+1)
	for i := range data {
		data[i] = '#'
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for oversized config file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "{{{{invalid yaml!!!!")
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeConfig(t, "")
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for empty config (camera.type missing), got nil")
	}
}

func TestLoad_UnknownFields(t *testing.T) {
	yaml := `
camera:
  type: "mock"
unknown_section:
  foo: bar
`
	path := writeConfig(t, yaml)
	_, err := Load(path)
	if err != nil {
		t.Errorf("unknown fields should be ignored, got error: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "nonexistent.yaml")
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for nonexistent file, got nil")
	}
}
