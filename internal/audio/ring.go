package audio

import "sync"

// Ring is a fixed-capacity circular buffer of frames sitting between the
// capture callback (single producer) and the encoder pump (single consumer).
// Push never blocks and never fails: when the ring is full the oldest unread
// frame is evicted and counted. Any blocking primitive on the producer side
// risks dropped hardware callbacks, so eviction is the only overflow policy.
type Ring struct {
	mu         sync.Mutex
	frames     []Frame
	head       int // index of next write
	length     int // number of unread frames
	dropped    uint64
	overflowed bool
	wake       chan struct{}
}

// DrainStats reports overflow behaviour observed since the ring was created.
type DrainStats struct {
	Dropped    uint64
	Overflowed bool
}

// NewRing creates a ring holding at most capacity frames. Capacity bounds the
// latency the buffer can add; callers size it from config, not a constant.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{
		frames: make([]Frame, capacity),
		wake:   make(chan struct{}, 1),
	}
}

// Push appends a frame, evicting the oldest unread frame when full.
func (r *Ring) Push(frame Frame) {
	r.mu.Lock()
	wasEmpty := r.length == 0
	r.frames[r.head] = frame
	r.head = (r.head + 1) % len(r.frames)
	if r.length < len(r.frames) {
		r.length++
	} else {
		// Head advanced over the oldest unread frame; it is gone.
		r.dropped++
		r.overflowed = true
	}
	r.mu.Unlock()

	if wasEmpty {
		select {
		case r.wake <- struct{}{}:
		default:
		}
	}
}

// Pop removes and returns the oldest unread frame. The second return value is
// false when the ring is empty; Pop never blocks.
func (r *Ring) Pop() (Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.length == 0 {
		return Frame{}, false
	}
	tail := (r.head - r.length + len(r.frames)) % len(r.frames)
	frame := r.frames[tail]
	r.frames[tail] = Frame{}
	r.length--
	return frame, true
}

// Wake returns a channel that receives a signal when the ring transitions
// from empty to non-empty. The consumer selects on it instead of polling.
func (r *Ring) Wake() <-chan struct{} {
	return r.wake
}

// Len returns the number of unread frames.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.length
}

// Cap returns the fixed frame capacity.
func (r *Ring) Cap() int {
	return len(r.frames)
}

// DrainStats returns drop accounting for the ring.
func (r *Ring) DrainStats() DrainStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return DrainStats{Dropped: r.dropped, Overflowed: r.overflowed}
}

// Reset discards all unread frames. Used on cancel, where buffered audio must
// not reach the encoder.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.frames {
		r.frames[i] = Frame{}
	}
	r.head = 0
	r.length = 0
}
