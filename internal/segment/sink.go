// Package segment slices a continuous media stream into files.
//
// A Sink sits at the end of the capture pipeline. It routes the bytes it
// receives into the current segment file and rotates to the next one on a
// packet boundary. Finalizing a segment (fsync + atomic rename) happens off
// the write path; its outcome is delivered once on Handle.Done.
package segment

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// TSPacketSize is the MPEG-TS packet size. Cutting on it keeps every segment
// a sequence of whole packets.
const TSPacketSize = 188

var (
	// ErrInFlight is returned when a segment is begun while another one is
	// still being written.
	ErrInFlight = errors.New("segment already in flight")
	// ErrNotCurrent is returned when rotating away from a segment that is
	// not the one being written.
	ErrNotCurrent = errors.New("segment is not the current one")
	// ErrClosed is returned once the sink has been closed.
	ErrClosed = errors.New("sink closed")
	// ErrWriteFailed wraps any I/O error that spoiled a segment.
	ErrWriteFailed = errors.New("segment write failed")
	// ErrEmpty means no media reached the segment before it ended.
	ErrEmpty = errors.New("segment is empty")
)

// File is a destination that only becomes visible at its final path once
// committed. *renameio.PendingFile satisfies it.
type File interface {
	io.Writer
	CloseAtomicallyReplace() error
	Cleanup() error
}

// Opener creates the pending file for a segment path.
type Opener func(path string) (File, error)

// PendingFile is the default Opener: a renameio temp file next to path.
func PendingFile(path string) (File, error) {
	return renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
}

// Outcome is the settled result of one segment.
type Outcome struct {
	Seq      int64
	Path     string
	Bytes    int64
	Err      error         // nil when saved
	Finalize time.Duration // time spent committing
}

// Saved reports whether the segment reached its final path.
func (o Outcome) Saved() bool { return o.Err == nil }

// Handle tracks one segment from Begin to its outcome.
type Handle struct {
	Seq  int64
	Path string

	// guarded by the owning Sink's mutex until detached
	file    File
	written int64
	err     error
	ended   bool

	done chan Outcome
}

// Done delivers the outcome exactly once, after finalize settles.
func (h *Handle) Done() <-chan Outcome { return h.done }

func (h *Handle) write(b []byte) {
	if h.err != nil || h.file == nil {
		return
	}
	n, err := h.file.Write(b)
	h.written += int64(n)
	if err != nil {
		h.err = err
	}
}

// Sink is the output sink of a capture session.
type Sink struct {
	mu     sync.Mutex
	open   Opener
	align  int
	carry  []byte
	cur    *Handle
	closed bool

	finalizing sync.WaitGroup
}

// Option configures a Sink.
type Option func(*Sink)

// WithOpener replaces how segment files are created.
func WithOpener(o Opener) Option {
	return func(s *Sink) { s.open = o }
}

// WithAlign sets the cut granularity in bytes (1 = cut anywhere).
func WithAlign(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.align = n
		}
	}
}

// NewSink returns a sink cutting on MPEG-TS packets and committing with renameio.
func NewSink(opts ...Option) *Sink {
	s := &Sink{open: PendingFile, align: TSPacketSize}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Write feeds stream bytes. Whole packets go to the current segment; bytes
// arriving with no segment open are dropped. Write never fails the pipeline:
// segment I/O errors are reported through the segment's outcome.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := p
	if len(s.carry) > 0 {
		data = make([]byte, 0, len(s.carry)+len(p))
		data = append(data, s.carry...)
		data = append(data, p...)
	}
	whole := len(data) - len(data)%s.align
	if whole > 0 && s.cur != nil && !s.closed {
		s.cur.write(data[:whole])
	}
	rest := make([]byte, len(data)-whole)
	copy(rest, data[whole:])
	s.carry = rest
	return len(p), nil
}

// Begin starts writing to n.Path. Only one segment may be in flight; use
// Next to rotate without a gap. A file that cannot be opened does not fail
// Begin: the segment is reported as failed when it ends.
func (s *Sink) Begin(n Name) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.cur != nil {
		return nil, fmt.Errorf("%w: seq %d", ErrInFlight, s.cur.Seq)
	}
	s.cur = s.newHandle(n)
	return s.cur, nil
}

// Next ends h and begins n under one lock, so no packet falls between them.
func (s *Sink) Next(h *Handle, n Name) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if h == nil || s.cur != h {
		return nil, ErrNotCurrent
	}
	s.detach(h)
	s.cur = s.newHandle(n)
	return s.cur, nil
}

// End detaches h and finalizes it in the background. The file is complete
// only when h.Done delivers. Ending a segment twice is a no-op.
func (s *Sink) End(h *Handle) {
	if h == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == h {
		s.cur = nil
	}
	s.detach(h)
}

// Close ends the current segment and waits for every finalize to settle.
func (s *Sink) Close() error {
	s.mu.Lock()
	s.closed = true
	if s.cur != nil {
		s.detach(s.cur)
		s.cur = nil
	}
	s.carry = nil
	s.mu.Unlock()

	s.finalizing.Wait()
	return nil
}

// newHandle must be called with mu held.
func (s *Sink) newHandle(n Name) *Handle {
	h := &Handle{
		Seq:  n.Seq,
		Path: n.Path,
		done: make(chan Outcome, 1),
	}
	f, err := s.open(n.Path)
	if err != nil {
		h.err = fmt.Errorf("open: %w", err)
		return h
	}
	h.file = f
	return h
}

// detach must be called with mu held.
func (s *Sink) detach(h *Handle) {
	if h.ended {
		return
	}
	h.ended = true
	s.finalizing.Add(1)
	go func() {
		defer s.finalizing.Done()
		h.done <- finalize(h)
	}()
}

func finalize(h *Handle) Outcome {
	start := time.Now()
	out := Outcome{Seq: h.Seq, Path: h.Path, Bytes: h.written}
	switch {
	case h.file == nil:
		out.Err = fmt.Errorf("%w: %v", ErrWriteFailed, h.err)
	case h.err != nil:
		_ = h.file.Cleanup()
		out.Err = fmt.Errorf("%w: %v", ErrWriteFailed, h.err)
	case h.written == 0:
		_ = h.file.Cleanup()
		out.Err = ErrEmpty
	default:
		if err := h.file.CloseAtomicallyReplace(); err != nil {
			_ = h.file.Cleanup()
			out.Err = fmt.Errorf("%w: commit: %v", ErrWriteFailed, err)
		}
	}
	out.Finalize = time.Since(start)
	return out
}
