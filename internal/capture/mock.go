package capture

import (
	"sync"
	"time"

	"github.com/scribelabs/scribe-core/internal/audio"
)

// MockSource is a scripted source for tests and the engine's mock mode. The
// test drives it by emitting frames or injecting a stream fault.
type MockSource struct {
	// StartErr, when set, is returned by Start (e.g. ErrDeviceBusy).
	StartErr error

	mu         sync.Mutex
	frames     chan audio.Frame
	err        error
	seq        uint64
	sampleRate int
	channels   int
	started    bool
	closed     bool
}

func NewMockSource() *MockSource {
	return &MockSource{}
}

func (s *MockSource) Start(sampleRate, channels int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StartErr != nil {
		return s.StartErr
	}
	if s.started {
		return ErrDeviceBusy
	}
	s.frames = make(chan audio.Frame, 64)
	s.err = nil
	s.seq = 0
	s.sampleRate = sampleRate
	s.channels = channels
	s.started = true
	s.closed = false
	return nil
}

func (s *MockSource) Frames() <-chan audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *MockSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *MockSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

// Emit pushes one frame with the next sequence number. Returns false once the
// source is stopped or failed.
func (s *MockSource) Emit(samples []int16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.closed {
		return false
	}
	frame := audio.Frame{
		Samples:    samples,
		Seq:        s.seq,
		SampleRate: s.sampleRate,
		Channels:   s.channels,
		Captured:   time.Now(),
	}
	s.seq++
	select {
	case s.frames <- frame:
		return true
	default:
		return false
	}
}

// Fail terminates the frame stream with a device fault, as a real source does
// when the hardware disappears mid-session.
func (s *MockSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.closed {
		return
	}
	s.err = err
	s.closed = true
	close(s.frames)
}
