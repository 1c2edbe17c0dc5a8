package audio

import "time"

// Frame is a fixed-length block of signed 16-bit PCM captured from the device.
// Seq is assigned by the capture source and is strictly monotonic per session.
type Frame struct {
	Samples    []int16
	Seq        uint64
	SampleRate int
	Channels   int
	Captured   time.Time
}

// Duration returns the wall-clock span the frame covers.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	perChannel := len(f.Samples) / f.Channels
	return time.Duration(perChannel) * time.Second / time.Duration(f.SampleRate)
}
