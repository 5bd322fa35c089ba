package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/torchrec/internal/config"
	"github.com/cjeanneret/torchrec/internal/debug"
	"github.com/cjeanneret/torchrec/internal/hw/camera"
	"github.com/cjeanneret/torchrec/internal/hw/gpio"
	"github.com/cjeanneret/torchrec/internal/hw/torch"
)

// ---------- validateCLIOverrides ----------

func TestValidateCLIOverrides_AllZero(t *testing.T) {
	if err := validateCLIOverrides(overrides{}); err != nil {
		t.Errorf("zero overrides should be valid (use config defaults), got: %v", err)
	}
}

func TestValidateCLIOverrides_SliceBoundaries(t *testing.T) {
	cases := []struct {
		name    string
		sliceMs int
		wantErr bool
	}{
		{"min", 100, false},
		{"max", 60000, false},
		{"mid", 1000, false},
		{"below_min", 99, true},
		{"above_max", 60001, true},
		{"negative", -5, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateCLIOverrides(overrides{SliceMs: tc.sliceMs})
			if (err != nil) != tc.wantErr {
				t.Errorf("validateCLIOverrides(%d) error = %v, wantErr %v", tc.sliceMs, err, tc.wantErr)
			}
		})
	}
}

func TestValidateCLIOverrides_SegmentDir(t *testing.T) {
	dir := t.TempDir()
	if err := validateCLIOverrides(overrides{SegmentDir: dir}); err != nil {
		t.Errorf("existing dir rejected: %v", err)
	}
	if err := validateCLIOverrides(overrides{SegmentDir: filepath.Join(dir, "new")}); err != nil {
		t.Errorf("missing dir should be created later, got: %v", err)
	}
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := validateCLIOverrides(overrides{SegmentDir: file}); err == nil {
		t.Error("expected error for a regular file")
	}
}

// ---------- webPortFlag ----------

func TestWebPortFlag_EmptyString(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if err := w.Set(""); err != nil {
		t.Fatalf("Set(\"\"): %v", err)
	}
	if w.port() != 8080 {
		t.Errorf("port = %d, want 8080", w.port())
	}
}

func TestWebPortFlag_ValidPorts(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want int
	}{{"1", 1}, {"8980", 8980}, {"65535", 65535}} {
		w := &webPortFlag{defaultPort: 8080}
		if err := w.Set(tc.in); err != nil {
			t.Errorf("Set(%q): %v", tc.in, err)
			continue
		}
		if w.port() != tc.want {
			t.Errorf("Set(%q): port = %d, want %d", tc.in, w.port(), tc.want)
		}
	}
}

func TestWebPortFlag_InvalidPorts(t *testing.T) {
	for _, in := range []string{"0", "-1", "65536", "abc"} {
		w := &webPortFlag{defaultPort: 8080}
		if err := w.Set(in); err == nil {
			t.Errorf("Set(%q): expected error", in)
		}
	}
}

func TestWebPortFlag_String(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if w.String() != "0" {
		t.Errorf("String() = %q, want \"0\"", w.String())
	}
	_ = w.Set("9000")
	if w.String() != "9000" {
		t.Errorf("String() = %q, want \"9000\"", w.String())
	}
}

// ---------- applyOverrides ----------

func newTestConfig() *config.Config {
	return &config.Config{
		Camera:  config.CameraConfig{Type: "mock", Audio: config.AudioOptional},
		Torch:   config.TorchConfig{Type: "none"},
		Segment: config.SegmentConfig{SliceMs: 1000, Dir: "/tmp", Prefix: "video", Extension: "ts"},
	}
}

func TestApplyOverrides_NonZero(t *testing.T) {
	cfg := newTestConfig()
	applyOverrides(cfg, overrides{SliceMs: 250, SegmentDir: "/data/segments"})
	if cfg.Segment.SliceMs != 250 {
		t.Errorf("SliceMs = %d, want 250", cfg.Segment.SliceMs)
	}
	if cfg.Segment.Dir != "/data/segments" {
		t.Errorf("Dir = %q, want /data/segments", cfg.Segment.Dir)
	}
}

func TestApplyOverrides_ZeroLeavesUnchanged(t *testing.T) {
	cfg := newTestConfig()
	applyOverrides(cfg, overrides{})
	if cfg.Segment.SliceMs != 1000 || cfg.Segment.Dir != "/tmp" {
		t.Errorf("zero overrides changed config: %+v", cfg.Segment)
	}
}

// ---------- factories ----------

func TestNewTorchFromConfig(t *testing.T) {
	drv := gpio.NewMockDriver()
	cases := []struct {
		name    string
		torch   config.TorchConfig
		check   func(torch.Torch) bool
		wantErr bool
	}{
		{"gpio", config.TorchConfig{Type: "gpio", Pin: 18}, func(l torch.Torch) bool { _, ok := l.(*torch.GPIOTorch); return ok }, false},
		{"sysfs", config.TorchConfig{Type: "sysfs", LED: "/sys/class/leds/x"}, func(l torch.Torch) bool { _, ok := l.(*torch.SysfsTorch); return ok }, false},
		{"none", config.TorchConfig{Type: "none"}, func(l torch.Torch) bool { _, ok := l.(torch.None); return ok }, false},
		{"laser", config.TorchConfig{Type: "laser"}, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := newTestConfig()
			cfg.Torch = tc.torch
			got, err := newTorchFromConfig(drv, cfg)
			if tc.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.check(got) {
				t.Errorf("wrong torch type %T", got)
			}
		})
	}
}

func TestNewBackendFromConfig(t *testing.T) {
	cfg := newTestConfig()
	b, err := newBackendFromConfig(cfg)
	if err != nil {
		t.Fatalf("mock: %v", err)
	}
	if _, ok := b.(*camera.MockBackend); !ok {
		t.Errorf("mock: got %T", b)
	}

	cfg.Camera.Type = "ffmpeg_v4l2"
	cfg.Camera.FFmpegPath = "/usr/bin/ffmpeg"
	cfg.Camera.StopGraceMs = 1500
	b, err = newBackendFromConfig(cfg)
	if err != nil {
		t.Fatalf("ffmpeg: %v", err)
	}
	ff, ok := b.(*camera.FFmpeg)
	if !ok {
		t.Fatalf("ffmpeg: got %T", b)
	}
	if ff.Path != "/usr/bin/ffmpeg" || ff.Grace != 1500*time.Millisecond {
		t.Errorf("ffmpeg backend = %+v", ff)
	}

	cfg.Camera.Type = "gopro"
	if _, err := newBackendFromConfig(cfg); err == nil {
		t.Error("expected error for unsupported camera")
	}
}

// ---------- reloads ----------

type recordingSlicer struct {
	mu     sync.Mutex
	slices []time.Duration
}

func (r *recordingSlicer) SetSlice(d time.Duration) {
	r.mu.Lock()
	r.slices = append(r.slices, d)
	r.mu.Unlock()
}

func (r *recordingSlicer) last() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.slices) == 0 {
		return 0
	}
	return r.slices[len(r.slices)-1]
}

func TestFollowReloads_AppliesLevelAndSlice(t *testing.T) {
	prev := debug.Level()
	t.Cleanup(func() { debug.SetLevel(prev) })

	rec := &recordingSlicer{}
	reloads := make(chan *config.Config, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		followReloads(ctx, reloads, rec)
		close(done)
	}()

	cfg := newTestConfig()
	cfg.Segment.SliceMs = 400
	cfg.Defaults.DebugLevel = 3
	reloads <- cfg

	deadline := time.Now().Add(2 * time.Second)
	for rec.last() != 400*time.Millisecond && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.last() != 400*time.Millisecond {
		t.Errorf("slice = %v, want 400ms", rec.last())
	}
	if debug.Level() != 3 {
		t.Errorf("debug level = %d, want 3", debug.Level())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("followReloads did not return on cancel")
	}
}
