package camera

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cjeanneret/torchrec/internal/debug"
)

// FFmpeg captures a V4L2 camera (and an optional ALSA microphone) with the
// ffmpeg binary and streams MPEG-TS on stdout. Codecs are ffmpeg's defaults
// for the container.
type FFmpeg struct {
	Path        string        // ffmpeg binary
	VideoDevice string        // e.g., /dev/video0; empty = first match of DevGlob
	AudioDevice string        // ALSA device, e.g., "default" or "hw:1,0"
	Grace       time.Duration // SIGTERM -> SIGKILL delay

	DevGlob    string // where cameras are enumerated
	SoundCards string // ALSA card list
}

// NewFFmpeg returns a backend with the standard Linux device locations.
func NewFFmpeg(path, videoDevice, audioDevice string, grace time.Duration) *FFmpeg {
	return &FFmpeg{
		Path:        path,
		VideoDevice: videoDevice,
		AudioDevice: audioDevice,
		Grace:       grace,
		DevGlob:     "/dev/video*",
		SoundCards:  "/proc/asound/cards",
	}
}

// Probe finds the ffmpeg binary, the camera and, if any card is present,
// the microphone.
func (f *FFmpeg) Probe(_ context.Context) (Inputs, error) {
	var in Inputs

	if _, err := exec.LookPath(f.Path); err != nil {
		return in, fmt.Errorf("%w: %s not found: %v", ErrDeviceUnavailable, f.Path, err)
	}

	if f.VideoDevice != "" {
		if _, err := os.Stat(f.VideoDevice); err != nil {
			return in, fmt.Errorf("%w: camera %s: %v", ErrDeviceUnavailable, f.VideoDevice, err)
		}
		in.Video = f.VideoDevice
	} else {
		matches, _ := filepath.Glob(f.DevGlob)
		if len(matches) == 0 {
			return in, fmt.Errorf("%w: no camera matches %s", ErrDeviceUnavailable, f.DevGlob)
		}
		sort.Strings(matches)
		in.Video = matches[0]
	}
	debug.Verbose("Camera: video input %s", in.Video)

	if f.AudioDevice != "" && f.hasSoundCard() {
		in.Audio = f.AudioDevice
		debug.Verbose("Camera: audio input %s", in.Audio)
	}
	return in, nil
}

func (f *FFmpeg) hasSoundCard() bool {
	data, err := os.ReadFile(f.SoundCards)
	if err != nil {
		return false
	}
	s := strings.TrimSpace(string(data))
	return s != "" && !strings.Contains(s, "no soundcards")
}

// Args returns the ffmpeg command line for in.
func (f *FFmpeg) Args(in Inputs) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2", "-i", in.Video,
	}
	if in.Audio != "" {
		args = append(args, "-f", "alsa", "-i", in.Audio)
	}
	return append(args, "-f", "mpegts", "pipe:1")
}

// Launch spawns ffmpeg in its own process group with stdout wired to out.
func (f *FFmpeg) Launch(ctx context.Context, in Inputs, out io.Writer) (func() error, error) {
	cmd := exec.Command(f.Path, f.Args(in)...)
	cmd.Stdout = out
	cmd.Stderr = &lineLogger{log: debug.Logger("ffmpeg")}
	setProcessGroup(cmd)

	if debug.IsEnabled(debug.LevelTrace) {
		debug.Trace("exec %s %s", f.Path, strings.Join(cmd.Args[1:], " "))
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", f.Path, err)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	wait := func() error {
		select {
		case err := <-exited:
			return err
		case <-ctx.Done():
		}
		// ffmpeg flushes the muxer on SIGTERM; kill only if it hangs.
		terminate(cmd)
		select {
		case <-exited:
			return nil
		case <-time.After(f.Grace):
			debug.Info("ffmpeg did not exit within %v, killing", f.Grace)
			kill(cmd)
			<-exited
			return nil
		}
	}
	return wait, nil
}

// lineLogger forwards a child's stderr to the debug log line by line.
type lineLogger struct {
	log zerolog.Logger
	buf []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		if line := strings.TrimSpace(string(l.buf[:i])); line != "" {
			l.log.Debug().Msg(line)
		}
		l.buf = l.buf[i+1:]
	}
	return len(p), nil
}
