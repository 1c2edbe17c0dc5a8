package capture

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/scribelabs/scribe-core/internal/audio"
	"github.com/scribelabs/scribe-core/internal/config"
)

// defaultClaim guards the host's default input device, shared by every
// PortAudioSource opened against it.
var defaultClaim DeviceClaim

// PortAudioSource captures from the default input device via PortAudio's
// blocking-read API. The read loop runs on its own goroutine and does nothing
// but copy the device buffer into a frame and hand it off; everything
// downstream of the frame channel is the consumer's problem.
type PortAudioSource struct {
	cfg   config.AudioConfig
	log   *slog.Logger
	claim *DeviceClaim

	mu      sync.Mutex
	stream  *portaudio.Stream
	frames  chan audio.Frame
	err     error
	stopped chan struct{}
	started bool
	wg      sync.WaitGroup
}

// NewPortAudioSource creates a source bound to the default input device.
func NewPortAudioSource(cfg config.AudioConfig, log *slog.Logger) *PortAudioSource {
	return &PortAudioSource{
		cfg:   cfg,
		log:   log.With(slog.String("component", "capture")),
		claim: &defaultClaim,
	}
}

func (s *PortAudioSource) Start(sampleRate, channels int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrDeviceBusy
	}
	if !s.claim.TryAcquire() {
		return ErrDeviceBusy
	}

	if err := portaudio.Initialize(); err != nil {
		s.claim.Release()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	framesPerBuffer := sampleRate * s.cfg.FrameDurationMS / 1000
	buf := make([]int16, framesPerBuffer*channels)
	stream, err := s.openStream(sampleRate, channels, framesPerBuffer, buf)
	if err != nil {
		portaudio.Terminate()
		s.claim.Release()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		s.claim.Release()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s.stream = stream
	s.frames = make(chan audio.Frame, 8)
	s.stopped = make(chan struct{})
	s.err = nil
	s.started = true

	s.wg.Add(1)
	go s.readLoop(stream, buf, sampleRate, channels)

	s.log.Info("capture started",
		slog.Int("sample_rate", sampleRate),
		slog.Int("channels", channels),
		slog.Int("frames_per_buffer", framesPerBuffer))
	return nil
}

// openStream opens either the host's default input device or the named one
// from config.
func (s *PortAudioSource) openStream(sampleRate, channels, framesPerBuffer int, buf []int16) (*portaudio.Stream, error) {
	device := strings.TrimSpace(s.cfg.Device)
	if device == "" || device == "default" {
		return portaudio.OpenDefaultStream(channels, 0, float64(sampleRate), framesPerBuffer, buf)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, info := range devices {
		if info.MaxInputChannels < channels {
			continue
		}
		if !strings.Contains(strings.ToLower(info.Name), strings.ToLower(device)) {
			continue
		}
		params := portaudio.StreamParameters{
			Input: portaudio.StreamDeviceParameters{
				Device:   info,
				Channels: channels,
				Latency:  info.DefaultLowInputLatency,
			},
			SampleRate:      float64(sampleRate),
			FramesPerBuffer: framesPerBuffer,
		}
		return portaudio.OpenStream(params, buf)
	}
	return nil, fmt.Errorf("no input device matching %q", device)
}

func (s *PortAudioSource) readLoop(stream *portaudio.Stream, buf []int16, sampleRate, channels int) {
	defer s.wg.Done()
	defer close(s.frames)

	var seq uint64
	for {
		select {
		case <-s.stopped:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			select {
			case <-s.stopped:
				// Read failure caused by our own Stop is not a fault.
				return
			default:
			}
			s.mu.Lock()
			s.err = fmt.Errorf("%w: %v", ErrDeviceInterrupted, err)
			s.mu.Unlock()
			s.log.Warn("capture stream interrupted", slog.String("error", err.Error()))
			return
		}

		samples := make([]int16, len(buf))
		copy(samples, buf)
		frame := audio.Frame{
			Samples:    samples,
			Seq:        seq,
			SampleRate: sampleRate,
			Channels:   channels,
			Captured:   time.Now(),
		}
		seq++

		select {
		case s.frames <- frame:
		case <-s.stopped:
			return
		}
	}
}

func (s *PortAudioSource) Frames() <-chan audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *PortAudioSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop releases the device. Idempotent; the second and later calls return nil
// without touching the hardware.
func (s *PortAudioSource) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	close(s.stopped)
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	var err error
	if stream != nil {
		if stopErr := stream.Stop(); stopErr != nil {
			err = stopErr
		}
		if closeErr := stream.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	s.wg.Wait()
	portaudio.Terminate()
	s.claim.Release()
	s.log.Info("capture stopped")
	return err
}
