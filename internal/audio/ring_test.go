package audio

import (
	"testing"
	"time"
)

func frameWithSeq(seq uint64) Frame {
	return Frame{
		Samples:    []int16{1, 2, 3, 4},
		Seq:        seq,
		SampleRate: 16000,
		Channels:   1,
		Captured:   time.Now(),
	}
}

func TestPushPopOrder(t *testing.T) {
	ring := NewRing(8)
	for seq := uint64(0); seq < 5; seq++ {
		ring.Push(frameWithSeq(seq))
	}
	if ring.Len() != 5 {
		t.Fatalf("expected 5 frames, got %d", ring.Len())
	}
	for seq := uint64(0); seq < 5; seq++ {
		frame, ok := ring.Pop()
		if !ok {
			t.Fatalf("expected frame %d, ring empty", seq)
		}
		if frame.Seq != seq {
			t.Fatalf("expected seq %d, got %d", seq, frame.Seq)
		}
	}
	if _, ok := ring.Pop(); ok {
		t.Fatal("expected empty ring after draining")
	}
}

func TestOverflowEvictsExactlyOldest(t *testing.T) {
	ring := NewRing(4)
	for seq := uint64(0); seq < 4; seq++ {
		ring.Push(frameWithSeq(seq))
	}
	stats := ring.DrainStats()
	if stats.Dropped != 0 || stats.Overflowed {
		t.Fatalf("unexpected overflow before capacity exceeded: %+v", stats)
	}

	// One more push: oldest frame (seq 0) must be evicted, counter +1,
	// size stays at capacity.
	ring.Push(frameWithSeq(4))
	stats = ring.DrainStats()
	if stats.Dropped != 1 {
		t.Fatalf("expected 1 dropped frame, got %d", stats.Dropped)
	}
	if !stats.Overflowed {
		t.Fatal("expected overflow flag set")
	}
	if ring.Len() != ring.Cap() {
		t.Fatalf("expected ring at capacity %d, got %d", ring.Cap(), ring.Len())
	}

	frame, ok := ring.Pop()
	if !ok || frame.Seq != 1 {
		t.Fatalf("expected oldest surviving frame seq 1, got %d (ok=%v)", frame.Seq, ok)
	}
}

func TestWakeOnEmptyToNonEmpty(t *testing.T) {
	ring := NewRing(4)
	select {
	case <-ring.Wake():
		t.Fatal("wake fired on empty ring")
	default:
	}

	ring.Push(frameWithSeq(0))
	select {
	case <-ring.Wake():
	case <-time.After(time.Second):
		t.Fatal("expected wake signal after empty->non-empty transition")
	}

	// Second push with unread frames pending must not buffer another signal.
	ring.Push(frameWithSeq(1))
	select {
	case <-ring.Wake():
		t.Fatal("unexpected wake signal while ring was already non-empty")
	default:
	}
}

func TestResetDiscardsFrames(t *testing.T) {
	ring := NewRing(4)
	for seq := uint64(0); seq < 3; seq++ {
		ring.Push(frameWithSeq(seq))
	}
	ring.Reset()
	if ring.Len() != 0 {
		t.Fatalf("expected empty ring after reset, got %d", ring.Len())
	}
	if _, ok := ring.Pop(); ok {
		t.Fatal("expected no frames after reset")
	}
	// Reset must not disturb drop accounting.
	if stats := ring.DrainStats(); stats.Dropped != 0 {
		t.Fatalf("reset should not count drops, got %d", stats.Dropped)
	}
}
