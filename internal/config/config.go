package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a config file accepted by Load.
const MaxConfigFileBytes = 64 * 1024

// Audio policies for the capture pipeline.
const (
	AudioRequired = "required" // missing microphone aborts start
	AudioOptional = "optional" // record video only when no microphone is found
	AudioOff      = "off"      // never open a microphone
)

// CameraConfig describes the capture pipeline.
// Type selects a concrete backend ("ffmpeg_v4l2" or "mock").
type CameraConfig struct {
	Type        string `yaml:"type"`          // e.g., "ffmpeg_v4l2"
	VideoDevice string `yaml:"video_device"`  // e.g., /dev/video0; empty = first found
	AudioDevice string `yaml:"audio_device"`  // ALSA device name, e.g., "default"
	Audio       string `yaml:"audio"`         // required | optional | off
	FFmpegPath  string `yaml:"ffmpeg_path"`   // binary used by ffmpeg_v4l2
	StopGraceMs int    `yaml:"stop_grace_ms"` // SIGTERM -> SIGKILL grace (ms)
}

// TorchConfig describes the illumination device.
type TorchConfig struct {
	Type      string `yaml:"type"`       // gpio | sysfs | none
	Pin       int    `yaml:"pin"`        // GPIO pin (BCM) driving the torch
	ActiveLow bool   `yaml:"active_low"` // LOW = on (e.g., relay boards)
	LED       string `yaml:"led"`        // sysfs LED dir, e.g., /sys/class/leds/white:torch
}

// SegmentConfig controls how continuous capture is sliced into files.
type SegmentConfig struct {
	SliceMs   int    `yaml:"slice_ms"`  // target duration of one segment
	Dir       string `yaml:"dir"`       // output directory; empty = os.TempDir()
	Prefix    string `yaml:"prefix"`    // file name prefix
	Extension string `yaml:"extension"` // container extension (ts)
}

// WebConfig holds command-surface settings.
type WebConfig struct {
	CommandRatePerMinute int `yaml:"command_rate_per_minute"` // per client IP
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Torch    TorchConfig    `yaml:"torch"`
	Segment  SegmentConfig  `yaml:"segment"`
	Web      WebConfig      `yaml:"web"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath rejects paths that escape the configs/ directory
// or do not point to a .yaml file.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file is %d bytes, max %d", info.Size(), MaxConfigFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize applies defaults and validates. Load calls it; tests and
// the reload path reuse it.
func (c *Config) normalize() error {
	switch c.Camera.Type {
	case "":
		return fmt.Errorf("camera.type is required")
	case "ffmpeg_v4l2", "mock":
	default:
		return fmt.Errorf("unsupported camera.type %q", c.Camera.Type)
	}
	if c.Camera.Audio == "" {
		c.Camera.Audio = AudioOptional
	}
	switch c.Camera.Audio {
	case AudioRequired, AudioOptional, AudioOff:
	default:
		return fmt.Errorf("camera.audio must be required, optional or off, got %q", c.Camera.Audio)
	}
	if c.Camera.AudioDevice == "" {
		c.Camera.AudioDevice = "default"
	}
	if c.Camera.FFmpegPath == "" {
		c.Camera.FFmpegPath = "ffmpeg"
	}
	if c.Camera.StopGraceMs <= 0 {
		c.Camera.StopGraceMs = 2000 // 2s for ffmpeg to flush
	}

	if c.Torch.Type == "" {
		c.Torch.Type = "none"
	}
	switch c.Torch.Type {
	case "none":
	case "gpio":
		if c.Torch.Pin <= 0 {
			return fmt.Errorf("torch.pin must be > 0 for gpio torch")
		}
	case "sysfs":
		if c.Torch.LED == "" {
			return fmt.Errorf("torch.led is required for sysfs torch")
		}
	default:
		return fmt.Errorf("unsupported torch.type %q", c.Torch.Type)
	}

	if c.Segment.SliceMs == 0 {
		c.Segment.SliceMs = 1000 // 1s slices
	}
	if c.Segment.SliceMs < 100 || c.Segment.SliceMs > 60000 {
		return fmt.Errorf("segment.slice_ms must be between 100 and 60000, got %d", c.Segment.SliceMs)
	}
	if c.Segment.Dir == "" {
		c.Segment.Dir = os.TempDir()
	}
	if c.Segment.Prefix == "" {
		c.Segment.Prefix = "video"
	}
	if c.Segment.Extension == "" {
		c.Segment.Extension = "ts"
	}
	c.Segment.Extension = strings.TrimPrefix(c.Segment.Extension, ".")

	if c.Web.CommandRatePerMinute <= 0 {
		c.Web.CommandRatePerMinute = 120
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// SliceDuration returns the target duration of one segment.
func (c *Config) SliceDuration() time.Duration {
	return time.Duration(c.Segment.SliceMs) * time.Millisecond
}

// StopGrace returns how long the pipeline gets to exit after SIGTERM.
func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.Camera.StopGraceMs) * time.Millisecond
}
