package capture

import (
	"errors"
	"testing"
)

func TestDeviceClaimExclusivity(t *testing.T) {
	var claim DeviceClaim

	if !claim.TryAcquire() {
		t.Fatalf("first acquire must succeed")
	}
	if claim.TryAcquire() {
		t.Fatalf("second acquire must fail while held")
	}
	claim.Release()
	if !claim.TryAcquire() {
		t.Fatalf("acquire after release must succeed")
	}
}

func TestMockSourceFrameSequence(t *testing.T) {
	src := NewMockSource()
	if err := src.Start(16000, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 3; i++ {
		if !src.Emit(make([]int16, 160)) {
			t.Fatalf("Emit %d rejected", i)
		}
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	var seqs []uint64
	for frame := range src.Frames() {
		if frame.SampleRate != 16000 || frame.Channels != 1 {
			t.Fatalf("frame format = %d/%d, want 16000/1", frame.SampleRate, frame.Channels)
		}
		seqs = append(seqs, frame.Seq)
	}
	if len(seqs) != 3 {
		t.Fatalf("frames received = %d, want 3", len(seqs))
	}
	for i, seq := range seqs {
		if seq != uint64(i) {
			t.Fatalf("seq[%d] = %d, want %d", i, seq, i)
		}
	}
	if src.Err() != nil {
		t.Fatalf("clean stop must leave no fault, got %v", src.Err())
	}
}

func TestMockSourceRejectsDoubleStart(t *testing.T) {
	src := NewMockSource()
	if err := src.Start(16000, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := src.Start(16000, 1); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("second Start = %v, want ErrDeviceBusy", err)
	}
	_ = src.Stop()
}

func TestMockSourceFaultSurfacesAfterClose(t *testing.T) {
	src := NewMockSource()
	if err := src.Start(16000, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src.Emit(make([]int16, 160))
	src.Fail(ErrDeviceInterrupted)

	n := 0
	for range src.Frames() {
		n++
	}
	if n != 1 {
		t.Fatalf("frames before fault = %d, want 1", n)
	}
	if !errors.Is(src.Err(), ErrDeviceInterrupted) {
		t.Fatalf("Err() = %v, want interrupted", src.Err())
	}
	if src.Emit(make([]int16, 160)) {
		t.Fatalf("Emit accepted after fault")
	}
}

func TestMockSourceStopIdempotentAndRestartable(t *testing.T) {
	src := NewMockSource()
	if err := src.Start(16000, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("redundant Stop: %v", err)
	}
	if err := src.Start(16000, 1); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !src.Emit(make([]int16, 160)) {
		t.Fatalf("restarted source must accept frames")
	}
	if frame, ok := <-src.Frames(); !ok || frame.Seq != 0 {
		t.Fatalf("restart must reset the sequence, got seq=%d ok=%v", frame.Seq, ok)
	}
	_ = src.Stop()
}
