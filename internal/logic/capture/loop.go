// Package capture drives segmented recording: it owns the recorder state,
// the torch and the capture session for as long as a recording lasts.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/torchrec/internal/debug"
	"github.com/cjeanneret/torchrec/internal/hw/camera"
	"github.com/cjeanneret/torchrec/internal/hw/torch"
	"github.com/cjeanneret/torchrec/internal/metrics"
	"github.com/cjeanneret/torchrec/internal/segment"
)

// DefaultSlice is the length of one segment.
const DefaultSlice = time.Second

// CaptureDevice is the camera as the loop sees it. *camera.Device satisfies it.
type CaptureDevice interface {
	Open(ctx context.Context) (*camera.Session, error)
	Start(s *camera.Session) error
	Halt(s *camera.Session)
	Close(s *camera.Session) error
}

// Namer hands out segment paths. *segment.Namer satisfies it.
type Namer interface {
	Next() segment.Name
}

// Notifier receives one call per saved segment, in generation order.
type Notifier interface {
	SegmentSaved(path string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(path string)

// SegmentSaved calls f(path).
func (f NotifierFunc) SegmentSaved(path string) { f(path) }

// Status is a point-in-time view of the recorder.
type Status struct {
	State     string    `json:"state"`
	SessionID string    `json:"session_id,omitempty"`
	Since     time.Time `json:"since"`
	Saved     int64     `json:"segments_saved"`
	Failed    int64     `json:"segments_failed"`
	LastPath  string    `json:"last_path,omitempty"`
	SliceMs   int64     `json:"slice_ms"`
	TorchOn   bool      `json:"torch_on"`
}

// Option configures a Loop.
type Option func(*Loop)

// WithTorch sets the torch driven alongside capture.
func WithTorch(t torch.Torch) Option {
	return func(l *Loop) {
		if t != nil {
			l.torch = t
		}
	}
}

// WithSlice sets the initial slice duration.
func WithSlice(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.slice.Store(int64(d))
		}
	}
}

// WithMetrics records the loop's activity.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithStateHook is called after every state transition, in transition order.
// It runs under the loop's lock, so it must not call Status.
func WithStateHook(fn func(State)) Option {
	return func(l *Loop) { l.onState = fn }
}

// Loop is the segmentation state machine. Start and Stop never block.
type Loop struct {
	device  CaptureDevice
	names   Namer
	notify  Notifier
	torch   torch.Torch
	metrics *metrics.Metrics
	onState func(State)

	state atomic.Int32
	slice atomic.Int64
	wake  chan struct{}

	mu      sync.Mutex    // also orders Stop against lighting the torch
	idle    chan struct{} // closed while Idle
	session string
	since   time.Time
	saved   int64
	failed  int64
	last    string
}

// New builds an idle loop.
func New(device CaptureDevice, names Namer, notify Notifier, opts ...Option) *Loop {
	if notify == nil {
		notify = NotifierFunc(func(string) {})
	}
	l := &Loop{
		device: device,
		names:  names,
		notify: notify,
		torch:  torch.None{},
		wake:   make(chan struct{}, 1),
		idle:   make(chan struct{}),
		since:  time.Now(),
	}
	close(l.idle)
	l.slice.Store(int64(DefaultSlice))
	for _, o := range opts {
		o(l)
	}
	return l
}

// State returns the current state.
func (l *Loop) State() State { return State(l.state.Load()) }

// Slice returns the slice duration used at the next rotation.
func (l *Loop) Slice() time.Duration { return time.Duration(l.slice.Load()) }

// SetSlice changes the slice duration. It applies from the next rotation.
func (l *Loop) SetSlice(d time.Duration) {
	if d <= 0 {
		return
	}
	if old := l.Slice(); old != d {
		l.slice.Store(int64(d))
		debug.Info("Slice duration %v -> %v", old, d)
	}
}

// Start begins recording in the background. It is a no-op unless Idle.
func (l *Loop) Start() {
	l.mu.Lock()
	if !l.state.CompareAndSwap(int32(Idle), int32(Starting)) {
		l.mu.Unlock()
		debug.Verbose("Start ignored: recorder is %s", l.State())
		return
	}
	l.idle = make(chan struct{})
	l.since = time.Now()
	l.transitioned(Starting)
	l.mu.Unlock()

	// A wake left over from a stop that raced the previous teardown.
	select {
	case <-l.wake:
	default:
	}

	l.metrics.Start()
	go l.run()
}

// Stop ends recording in the background. It is a no-op unless Starting or
// Recording. The segment in flight is finalized, not discarded.
func (l *Loop) Stop() {
	l.mu.Lock()
	cur := l.State()
	if !cur.Lit() {
		l.mu.Unlock()
		debug.Verbose("Stop ignored: recorder is %s", cur)
		return
	}
	l.state.Store(int32(Stopping))
	l.transitioned(Stopping)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until the recorder is Idle or ctx is done.
func (l *Loop) Wait(ctx context.Context) error {
	l.mu.Lock()
	idle := l.idle
	l.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot for status endpoints.
func (l *Loop) Status() Status {
	lit, _ := l.torch.IsOn()

	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		State:     l.State().String(),
		SessionID: l.session,
		Since:     l.since,
		Saved:     l.saved,
		Failed:    l.failed,
		LastPath:  l.last,
		SliceMs:   l.Slice().Milliseconds(),
		TorchOn:   lit,
	}
}

func (l *Loop) transitioned(s State) {
	debug.Live("Recorder %s", s)
	l.metrics.State(int(s))
	if l.onState != nil {
		l.onState(s)
	}
}

// run is the background half of a recording: acquire, iterate, release.
func (l *Loop) run() {
	defer l.finish()

	debug.Section("Recording")
	began := time.Now()
	sess, err := l.device.Open(context.Background())
	if err != nil {
		l.abort(nil, fmt.Errorf("open capture device: %w", err))
		return
	}
	if !l.light(sess) {
		debug.Verbose("Stop arrived while opening the camera")
		l.closeDevice(sess)
		return
	}

	// The first segment must be current before the pipeline emits anything.
	cur, err := sess.Output.Begin(l.names.Next())
	if err != nil {
		l.abort(sess, fmt.Errorf("begin first segment: %w", err))
		return
	}
	if err := l.device.Start(sess); err != nil {
		l.abort(sess, fmt.Errorf("start capture: %w", err))
		return
	}

	debug.Elapsed("capture session ready", began)

	l.mu.Lock()
	recording := l.state.CompareAndSwap(int32(Starting), int32(Recording))
	if recording {
		l.transitioned(Recording)
	}
	l.mu.Unlock()
	if !recording {
		debug.Verbose("Stop arrived during start")
	}
	l.record(sess, cur)
}

// light binds sess to the loop and switches the torch on, unless a stop
// has already been accepted.
func (l *Loop) light(sess *camera.Session) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.State() != Starting {
		return false
	}
	l.session = sess.ID
	l.setTorch(true)
	return true
}

func (l *Loop) abort(sess *camera.Session, err error) {
	debug.Error(err)
	l.metrics.StartFailed()
	l.setTorch(false)
	if sess != nil {
		l.closeDevice(sess)
	}
}

func (l *Loop) finish() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.Store(int32(Idle))
	l.session = ""
	l.since = time.Now()
	l.transitioned(Idle)
	close(l.idle)
}

// record rotates segments back to back until the state leaves Recording.
// Each rotation opens the next file before the previous one is finalized,
// so no packet is dropped between slices.
func (l *Loop) record(sess *camera.Session, cur *segment.Handle) {
	sink := sess.Output
	ended := make(chan *segment.Handle, 16)
	reported := make(chan struct{})
	go l.report(ended, reported)

	timer := time.NewTimer(l.Slice())
	for l.State() == Recording {
		select {
		case <-timer.C:
		case <-l.wake:
		}
		if l.State() != Recording {
			break
		}
		next, err := sink.Next(cur, l.names.Next())
		if err != nil {
			debug.Error(fmt.Errorf("rotate segment %d: %w", cur.Seq, err))
			break
		}
		debug.Rotate(cur.Seq, next.Seq)
		ended <- cur
		cur = next
		timer.Reset(l.Slice())
	}
	timer.Stop()

	l.setTorch(false)
	// Whatever the pipeline flushes while exiting belongs to cur.
	l.device.Halt(sess)
	sink.End(cur)
	ended <- cur
	close(ended)
	<-reported
	l.closeDevice(sess)
}

// report settles segments in the order they were generated.
func (l *Loop) report(ended <-chan *segment.Handle, done chan<- struct{}) {
	defer close(done)
	for h := range ended {
		l.settle(<-h.Done())
	}
}

func (l *Loop) settle(o segment.Outcome) {
	switch {
	case o.Saved():
		debug.Saved(o.Seq, o.Path)
		l.metrics.Segment(metrics.OutcomeSaved, o.Finalize)
		l.mu.Lock()
		l.saved++
		l.last = o.Path
		l.mu.Unlock()
		l.notify.SegmentSaved(o.Path)
	case errors.Is(o.Err, segment.ErrEmpty):
		debug.Verbose("Segment %d discarded: no media", o.Seq)
		l.metrics.Segment(metrics.OutcomeEmpty, 0)
		l.countFailed()
	default:
		debug.Warn(o.Err, "Segment %d failed", o.Seq)
		l.metrics.Segment(metrics.OutcomeFailed, 0)
		l.countFailed()
	}
}

func (l *Loop) countFailed() {
	l.mu.Lock()
	l.failed++
	l.mu.Unlock()
}

func (l *Loop) setTorch(on bool) {
	err := l.torch.SetOn(on)
	switch {
	case err == nil:
		l.metrics.Torch("ok")
	case errors.Is(err, torch.ErrUnavailable):
		debug.Verbose("Torch unavailable, recording without light")
		l.metrics.Torch("unavailable")
	default:
		debug.Warn(err, "Torch toggle ignored")
		l.metrics.Torch("failed")
	}
}

func (l *Loop) closeDevice(sess *camera.Session) {
	if err := l.device.Close(sess); err != nil {
		debug.Warn(err, "Closing capture session %s", sess.ID)
	}
}
