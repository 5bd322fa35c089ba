// Package torch drives the auxiliary light that sits next to the camera.
//
// Every toggle looks the device up again: a torch can disappear at runtime
// (camera unplugged, LED driver unloaded) and callers treat ErrUnavailable
// as "record without light".
package torch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cjeanneret/torchrec/internal/debug"
	"github.com/cjeanneret/torchrec/internal/hw/gpio"
)

var (
	// ErrUnavailable means no torch-capable device was found.
	ErrUnavailable = errors.New("torch unavailable")
	// ErrToggleFailed means the device exists but could not be configured.
	ErrToggleFailed = errors.New("torch toggle failed")
)

// Torch is the illumination controller used by the capture loop.
type Torch interface {
	// SetOn switches the light. Safe to call redundantly.
	SetOn(on bool) error
	// Available reports whether a torch can currently be found.
	Available() bool
	// IsOn reads the light's current mode back from the device.
	IsOn() (bool, error)
}

// None is a Torch for rigs without a light.
type None struct{}

func (None) SetOn(bool) error    { return ErrUnavailable }
func (None) Available() bool     { return false }
func (None) IsOn() (bool, error) { return false, ErrUnavailable }

// GPIOTorch is a torch (LED, relay, MOSFET) switched by one GPIO pin.
type GPIOTorch struct {
	mu        sync.Mutex // exclusive configuration access
	gpio      gpio.Driver
	pin       int
	activeLow bool
}

// NewGPIO creates a torch on pin. With activeLow, LOW lights the torch.
func NewGPIO(g gpio.Driver, pin int, activeLow bool) *GPIOTorch {
	return &GPIOTorch{gpio: g, pin: pin, activeLow: activeLow}
}

func (t *GPIOTorch) Available() bool {
	return t.gpio != nil && t.pin > 0
}

// SetOn configures the pin as an output and drives it.
func (t *GPIOTorch) SetOn(on bool) error {
	if !t.Available() {
		return ErrUnavailable
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.gpio.SetupPin(t.pin, gpio.Output); err != nil {
		return fmt.Errorf("%w: setup pin %d: %v", ErrToggleFailed, t.pin, err)
	}
	level := gpio.Level(on != t.activeLow)
	if err := t.gpio.WritePin(t.pin, level); err != nil {
		return fmt.Errorf("%w: write pin %d: %v", ErrToggleFailed, t.pin, err)
	}
	debug.Torch(on)
	return nil
}

// IsOn reads the pin back.
func (t *GPIOTorch) IsOn() (bool, error) {
	if !t.Available() {
		return false, ErrUnavailable
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	lvl, err := t.gpio.ReadPin(t.pin)
	if err != nil {
		return false, err
	}
	return bool(lvl) != t.activeLow, nil
}

// SysfsTorch drives a Linux LED class device, e.g. /sys/class/leds/white:torch.
type SysfsTorch struct {
	mu  sync.Mutex
	dir string
}

// NewSysfs creates a torch on the LED class directory dir.
func NewSysfs(dir string) *SysfsTorch {
	return &SysfsTorch{dir: dir}
}

func (t *SysfsTorch) Available() bool {
	_, err := os.Stat(filepath.Join(t.dir, "brightness"))
	return err == nil
}

// SetOn writes max_brightness (or 1 when unknown) to turn on, 0 to turn off.
func (t *SysfsTorch) SetOn(on bool) error {
	if !t.Available() {
		return ErrUnavailable
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	value := 0
	if on {
		value = t.maxBrightness()
	}
	path := filepath.Join(t.dir, "brightness")
	if err := os.WriteFile(path, []byte(strconv.Itoa(value)+"\n"), 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrToggleFailed, path, err)
	}
	debug.Torch(on)
	return nil
}

// IsOn reports a non-zero brightness.
func (t *SysfsTorch) IsOn() (bool, error) {
	data, err := os.ReadFile(filepath.Join(t.dir, "brightness"))
	if err != nil {
		return false, ErrUnavailable
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, fmt.Errorf("parse brightness: %w", err)
	}
	return v > 0, nil
}

func (t *SysfsTorch) maxBrightness() int {
	data, err := os.ReadFile(filepath.Join(t.dir, "max_brightness"))
	if err != nil {
		return 1
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || v <= 0 {
		return 1
	}
	return v
}
