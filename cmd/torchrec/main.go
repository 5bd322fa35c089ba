package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/torchrec/internal/config"
	"github.com/cjeanneret/torchrec/internal/debug"
	"github.com/cjeanneret/torchrec/internal/hw/camera"
	"github.com/cjeanneret/torchrec/internal/hw/gpio"
	"github.com/cjeanneret/torchrec/internal/hw/torch"
	"github.com/cjeanneret/torchrec/internal/logic/capture"
	"github.com/cjeanneret/torchrec/internal/metrics"
	"github.com/cjeanneret/torchrec/internal/segment"
	"github.com/cjeanneret/torchrec/internal/web"
)

// stopTimeout bounds how long shutdown waits for the last segment.
const stopTimeout = 10 * time.Second

// overrides are CLI values that replace config entries when non-zero.
type overrides struct {
	SliceMs    int
	SegmentDir string
}

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	sliceMs := flag.Int("slice_ms", 0, "override segment duration in ms (100-60000)")
	segmentDir := flag.String("segment_dir", "", "override segment output directory")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	ov := overrides{SliceMs: *sliceMs, SegmentDir: *segmentDir}
	if err := validateCLIOverrides(ov); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, ov)

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	debug.Step(2, "Initializing torch")
	light, err := newTorchFromConfig(gpioDriver, cfg)
	if err != nil {
		log.Fatalf("init torch failed: %v", err)
	}
	debug.PrintStruct("Torch config", cfg.Torch)
	if !light.Available() {
		debug.Info("No torch found, recording without light")
	}

	debug.Step(3, "Initializing camera")
	backend, err := newBackendFromConfig(cfg)
	if err != nil {
		log.Fatalf("init camera failed: %v", err)
	}
	device := camera.NewDevice(backend, cfg.Camera.Audio)
	debug.PrintStruct("Camera config", cfg.Camera)

	debug.Step(4, "Preparing segment output")
	names, err := segment.NewNamer(cfg.Segment.Dir, cfg.Segment.Prefix, cfg.Segment.Extension)
	if err != nil {
		log.Fatalf("init segment output failed: %v", err)
	}
	debug.Value("Segment dir", names.Dir())
	debug.Value("Slice", cfg.SliceDuration())

	m := metrics.New()
	holder := config.NewHolder(cfg, *cfgPath)
	reloads := make(chan *config.Config, 1)
	holder.Subscribe(reloads)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := holder.Watch(gctx); err != nil {
			debug.Warn(err, "config: hot reload disabled")
		}
		return nil
	})

	var loop *capture.Loop
	opts := []capture.Option{
		capture.WithTorch(light),
		capture.WithSlice(cfg.SliceDuration()),
		capture.WithMetrics(m),
	}

	if port := webPort.port(); port > 0 {
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

		hub := web.NewHub(broadcaster)
		loop = capture.New(device, names, hub, append(opts, capture.WithStateHook(hub.StateChanged))...)
		handlers := web.NewHandlers(broadcaster, hub, loop, m.Handler())
		srv := web.NewServer(fmt.Sprintf(":%d", port), handlers, cfg.Web.CommandRatePerMinute)
		g.Go(func() error { return srv.Run(gctx) })
	} else {
		// Without a command surface, record until interrupted.
		printer := capture.NotifierFunc(func(path string) { fmt.Println(path) })
		loop = capture.New(device, names, printer, opts...)
		loop.Start()
	}

	g.Go(func() error {
		followReloads(gctx, reloads, loop)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("shutting down: %v", err)
	}

	debug.Section("Shutdown")
	loop.Stop()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := loop.Wait(stopCtx); err != nil {
		log.Printf("recorder did not stop within %v", stopTimeout)
	}
	st := loop.Status()
	debug.Summary("Session Summary")
	debug.Info("%d segments saved, %d failed", st.Saved, st.Failed)
}

// sliceSetter is the part of the recorder a config reload touches.
type sliceSetter interface {
	SetSlice(d time.Duration)
}

// followReloads applies hot-reloadable settings until ctx is done.
func followReloads(ctx context.Context, reloads <-chan *config.Config, rec sliceSetter) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-reloads:
			applyReload(cfg, rec)
		}
	}
}

func applyReload(cfg *config.Config, rec sliceSetter) {
	debug.SetLevel(cfg.Defaults.DebugLevel)
	rec.SetSlice(cfg.SliceDuration())
}

// validateCLIOverrides checks that non-zero CLI overrides are within valid ranges.
// Zero values are ignored (they mean "use config default").
func validateCLIOverrides(o overrides) error {
	if o.SliceMs != 0 && (o.SliceMs < 100 || o.SliceMs > 60000) {
		return fmt.Errorf("slice_ms must be between 100 and 60000, got %d", o.SliceMs)
	}
	if o.SegmentDir != "" {
		info, err := os.Stat(o.SegmentDir)
		if err == nil && !info.IsDir() {
			return fmt.Errorf("segment_dir %q is not a directory", o.SegmentDir)
		}
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
func applyOverrides(cfg *config.Config, o overrides) {
	if o.SliceMs > 0 {
		cfg.Segment.SliceMs = o.SliceMs
	}
	if o.SegmentDir != "" {
		cfg.Segment.Dir = o.SegmentDir
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }

// newTorchFromConfig selects a torch implementation based on configuration.
func newTorchFromConfig(g gpio.Driver, cfg *config.Config) (torch.Torch, error) {
	switch cfg.Torch.Type {
	case "gpio":
		return torch.NewGPIO(g, cfg.Torch.Pin, cfg.Torch.ActiveLow), nil
	case "sysfs":
		return torch.NewSysfs(cfg.Torch.LED), nil
	case "none":
		return torch.None{}, nil
	default:
		return nil, fmt.Errorf("unsupported torch type: %s", cfg.Torch.Type)
	}
}

// newBackendFromConfig selects a capture backend based on configuration.
func newBackendFromConfig(cfg *config.Config) (camera.Backend, error) {
	switch cfg.Camera.Type {
	case "ffmpeg_v4l2":
		return camera.NewFFmpeg(cfg.Camera.FFmpegPath, cfg.Camera.VideoDevice, cfg.Camera.AudioDevice, cfg.StopGrace()), nil
	case "mock":
		return camera.NewMockBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}
