package capture

import (
	"errors"
	"sync/atomic"

	"github.com/scribelabs/scribe-core/internal/audio"
)

// Device-level faults. Stream interruptions surface through Err after the
// frame channel closes, never as a silent stall.
var (
	ErrDeviceBusy        = errors.New("capture device already in use")
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	ErrDeviceInterrupted = errors.New("capture stream interrupted")
)

// Source owns a microphone handle and produces the session's frame stream.
//
// Start opens the device and begins emitting frames at the device's callback
// cadence. The frame channel is closed on Stop or on a terminal device fault;
// after it closes, Err reports the fault (nil for a clean Stop). Stop is
// idempotent and releases the device deterministically.
type Source interface {
	Start(sampleRate, channels int) error
	Frames() <-chan audio.Frame
	Err() error
	Stop() error
}

// DeviceClaim models exclusive ownership of one hardware device. Sources
// sharing a claim contend for the same device; a second concurrent Start
// fails with ErrDeviceBusy. Keeping the claim explicit (rather than a
// process-wide flag) lets tests run multiple mock-backed controllers without
// shared state.
type DeviceClaim struct {
	held atomic.Bool
}

// TryAcquire takes the claim, reporting false if another source holds it.
func (c *DeviceClaim) TryAcquire() bool {
	return c.held.CompareAndSwap(false, true)
}

// Release returns the claim. Safe to call when not held.
func (c *DeviceClaim) Release() {
	c.held.Store(false)
}
