package camera

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/cjeanneret/torchrec/internal/debug"
	"github.com/cjeanneret/torchrec/internal/segment"
)

// MockBackend emits MPEG-TS null packets on a timer instead of driving real
// hardware. It is used with -mock and in tests.
type MockBackend struct {
	Video          string
	Audio          string // empty = no microphone
	Interval       time.Duration
	PacketsPerTick int
	Flush          int   // packets written on the way out, like a muxer trailer
	ProbeErr       error // returned by Probe when set
	LaunchErr      error // returned by Launch when set

	mu       sync.Mutex
	launches int
}

// NewMockBackend returns a mock camera with a microphone.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		Video:          "mock0",
		Audio:          "mockmic",
		Interval:       10 * time.Millisecond,
		PacketsPerTick: 4,
	}
}

// Probe reports the configured inputs.
func (m *MockBackend) Probe(context.Context) (Inputs, error) {
	if m.ProbeErr != nil {
		return Inputs{}, m.ProbeErr
	}
	return Inputs{Video: m.Video, Audio: m.Audio}, nil
}

// Launch streams null packets into out until ctx is cancelled.
func (m *MockBackend) Launch(ctx context.Context, in Inputs, out io.Writer) (func() error, error) {
	if m.LaunchErr != nil {
		return nil, m.LaunchErr
	}
	m.mu.Lock()
	m.launches++
	m.mu.Unlock()

	chunk := nullPackets(m.PacketsPerTick)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				if m.Flush > 0 {
					if _, err := out.Write(nullPackets(m.Flush)); err != nil {
						debug.Error(err)
					}
				}
				return
			case <-t.C:
				if _, err := out.Write(chunk); err != nil {
					debug.Error(err)
					return
				}
			}
		}
	}()
	debug.Trace("mock camera streaming from %s", in.Video)
	return func() error { <-done; return nil }, nil
}

// Launches returns how many pipelines were launched.
func (m *MockBackend) Launches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.launches
}

// nullPackets builds n MPEG-TS null packets (PID 0x1FFF).
func nullPackets(n int) []byte {
	if n < 1 {
		n = 1
	}
	buf := make([]byte, n*segment.TSPacketSize)
	for i := 0; i < n; i++ {
		p := buf[i*segment.TSPacketSize:]
		p[0], p[1], p[2], p[3] = 0x47, 0x1F, 0xFF, 0x10
		for j := 4; j < segment.TSPacketSize; j++ {
			p[j] = 0xFF
		}
	}
	return buf
}
