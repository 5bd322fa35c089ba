package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/torchrec/internal/config"
	"github.com/cjeanneret/torchrec/internal/debug"
	"github.com/cjeanneret/torchrec/internal/segment"
)

// ErrDeviceUnavailable means the camera (or a required microphone, or the
// pipeline itself) could not be acquired. Recording never starts.
var ErrDeviceUnavailable = errors.New("capture device unavailable")

// Inputs are the resolved capture inputs. Audio is empty for video-only capture.
type Inputs struct {
	Video string
	Audio string
}

// Backend is the hardware pipeline behind a Device. It represents the
// camera regardless of how it is driven (ffmpeg, a vendor SDK, a mock).
type Backend interface {
	// Probe enumerates the camera and microphone. A missing camera is
	// ErrDeviceUnavailable; a missing microphone leaves Inputs.Audio empty.
	Probe(ctx context.Context) (Inputs, error)
	// Launch starts streaming media into out. The returned wait blocks until
	// the pipeline has exited; cancelling ctx asks it to stop.
	Launch(ctx context.Context, in Inputs, out io.Writer) (wait func() error, err error)
}

// Session is the opened pipeline: inputs bound to an output sink.
type Session struct {
	ID     string
	Inputs Inputs
	Output *segment.Sink
	Opened time.Time

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// Device owns at most one Session at a time.
type Device struct {
	mu       sync.Mutex
	backend  Backend
	audio    string
	sinkOpts []segment.Option
	session  *Session
}

// NewDevice creates a capture device. audio is one of config.AudioRequired,
// config.AudioOptional or config.AudioOff; opts configure each session's sink.
func NewDevice(b Backend, audio string, opts ...segment.Option) *Device {
	return &Device{backend: b, audio: audio, sinkOpts: opts}
}

// Open probes the inputs and wires a new session. While a session is open
// it is returned as is, so one camera never backs two sessions.
func (d *Device) Open(ctx context.Context) (*Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session != nil {
		debug.Verbose("Camera: session %s already open", d.session.ID)
		return d.session, nil
	}

	in, err := d.backend.Probe(ctx)
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	switch d.audio {
	case config.AudioOff:
		in.Audio = ""
	case config.AudioRequired:
		if in.Audio == "" {
			return nil, fmt.Errorf("%w: no microphone found", ErrDeviceUnavailable)
		}
	}
	if in.Audio == "" {
		debug.Verbose("Camera: recording video only")
	}

	d.session = &Session{
		ID:     uuid.NewString(),
		Inputs: in,
		Output: segment.NewSink(d.sinkOpts...),
		Opened: time.Now(),
		done:   make(chan struct{}),
	}
	debug.Live("Camera: opened session %s (video=%s audio=%q)", d.session.ID, in.Video, in.Audio)
	return d.session, nil
}

// Start launches the pipeline on its own goroutine and returns once it is
// spawned. Starting a started session is a no-op.
func (d *Device) Start(s *Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s == nil || s != d.session {
		return fmt.Errorf("%w: session is not open", ErrDeviceUnavailable)
	}
	if s.started {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	wait, err := d.backend.Launch(ctx, s.Inputs, s.Output)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: launch pipeline: %v", ErrDeviceUnavailable, err)
	}
	s.cancel = cancel
	s.started = true

	go func() {
		err := wait()
		if ctx.Err() == nil {
			debug.Warn(err, "Camera: pipeline of session %s exited on its own", s.ID)
		}
		close(s.done)
	}()
	debug.Live("Camera: pipeline started for session %s", s.ID)
	return nil
}

// Halt stops the pipeline and waits for it to exit. The session stays open,
// so whatever the pipeline flushes on its way out still reaches the output.
// Halting twice, or halting a session that is not open, is a no-op.
func (d *Device) Halt(s *Session) {
	d.mu.Lock()
	started := s != nil && s == d.session && s.started
	d.mu.Unlock()
	if started {
		halt(s)
	}
}

func halt(s *Session) {
	s.cancel()
	<-s.done
}

// Close halts the pipeline if still running and releases the session.
// Closing a session that is not open is a no-op.
func (d *Device) Close(s *Session) error {
	d.mu.Lock()
	if s == nil || s != d.session {
		d.mu.Unlock()
		return nil
	}
	d.session = nil
	started := s.started
	d.mu.Unlock()

	if started {
		halt(s)
	}
	if err := s.Output.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	debug.Live("Camera: closed session %s", s.ID)
	return nil
}

// Current returns the open session, or nil.
func (d *Device) Current() *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}
