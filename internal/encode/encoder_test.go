package encode

import (
	"testing"

	"github.com/scribelabs/scribe-core/internal/audio"
	"github.com/scribelabs/scribe-core/internal/config"
)

func encoderConfig(windowMS int, overlap float64, rate int) config.EncoderConfig {
	return config.EncoderConfig{
		ChunkWindowMS:    windowMS,
		OverlapRatio:     overlap,
		TargetSampleRate: rate,
	}
}

func monoFrame(seq uint64, samples []int16, rate int) audio.Frame {
	return audio.Frame{Samples: samples, Seq: seq, SampleRate: rate, Channels: 1}
}

func TestRoundTripNoOverlap(t *testing.T) {
	// 16 kHz in and out, 10ms window = 160 samples per chunk.
	enc := New(encoderConfig(10, 0, 16000), 16000, 1)
	if enc.Window() != 160 {
		t.Fatalf("expected window 160, got %d", enc.Window())
	}

	var input []int16
	var output []int16
	for seq := uint64(0); seq < 7; seq++ {
		frame := make([]int16, 100)
		for i := range frame {
			frame[i] = int16(int(seq)*100 + i)
		}
		input = append(input, frame...)
		for _, chunk := range enc.Push(monoFrame(seq, frame, 16000)) {
			output = append(output, chunk.Samples...)
		}
	}
	if final, ok := enc.Flush(); ok {
		if !final.Last {
			t.Fatal("flushed chunk must be marked last")
		}
		output = append(output, final.Samples...)
	}

	if len(output) != len(input) {
		t.Fatalf("round trip length mismatch: in=%d out=%d", len(input), len(output))
	}
	for i := range input {
		if input[i] != output[i] {
			t.Fatalf("sample %d mismatch: in=%d out=%d", i, input[i], output[i])
		}
	}
}

func TestChunkIndicesAndSeqRanges(t *testing.T) {
	enc := New(encoderConfig(10, 0, 16000), 16000, 1)

	var chunks []Chunk
	for seq := uint64(0); seq < 4; seq++ {
		chunks = append(chunks, enc.Push(monoFrame(seq, make([]int16, 160), 16000))...)
	}
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Index != i {
			t.Fatalf("expected index %d, got %d", i, chunk.Index)
		}
		if chunk.FirstSeq != uint64(i) || chunk.LastSeq != uint64(i) {
			t.Fatalf("chunk %d covers seq [%d,%d], expected [%d,%d]",
				i, chunk.FirstSeq, chunk.LastSeq, i, i)
		}
	}
}

func TestOverlappingWindows(t *testing.T) {
	// 50% overlap: step is half a window, consecutive chunks share the tail.
	enc := New(encoderConfig(10, 0.5, 16000), 16000, 1)
	if enc.Step() != 80 {
		t.Fatalf("expected step 80, got %d", enc.Step())
	}

	samples := make([]int16, 320)
	for i := range samples {
		samples[i] = int16(i)
	}
	chunks := enc.Push(monoFrame(0, samples, 16000))
	if len(chunks) != 3 {
		t.Fatalf("expected 3 overlapping chunks from 320 samples, got %d", len(chunks))
	}
	// Second chunk must start where the first chunk's second half began.
	if chunks[1].Samples[0] != chunks[0].Samples[80] {
		t.Fatalf("expected 50%% overlap, got chunk1[0]=%d chunk0[80]=%d",
			chunks[1].Samples[0], chunks[0].Samples[80])
	}
}

func TestRemainderCarriedAcrossPushes(t *testing.T) {
	enc := New(encoderConfig(10, 0, 16000), 16000, 1)

	if chunks := enc.Push(monoFrame(0, make([]int16, 100), 16000)); len(chunks) != 0 {
		t.Fatalf("expected no chunk from 100/160 samples, got %d", len(chunks))
	}
	chunks := enc.Push(monoFrame(1, make([]int16, 100), 16000))
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk after 200/160 samples, got %d", len(chunks))
	}
	if chunks[0].FirstSeq != 0 || chunks[0].LastSeq != 1 {
		t.Fatalf("chunk should span frames 0-1, got [%d,%d]", chunks[0].FirstSeq, chunks[0].LastSeq)
	}

	final, ok := enc.Flush()
	if !ok {
		t.Fatal("expected flushed remainder")
	}
	if len(final.Samples) != 40 {
		t.Fatalf("expected 40 remainder samples, got %d", len(final.Samples))
	}
	if _, ok := enc.Flush(); ok {
		t.Fatal("second flush should report nothing pending")
	}
}

func TestDownmixStereoAverages(t *testing.T) {
	enc := New(encoderConfig(10, 0, 16000), 16000, 2)

	// 160 interleaved stereo pairs: L=100, R=300 → mono 200.
	samples := make([]int16, 320)
	for i := 0; i < 160; i++ {
		samples[2*i] = 100
		samples[2*i+1] = 300
	}
	chunks := enc.Push(monoFrame(0, samples, 16000))
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	for i, s := range chunks[0].Samples {
		if s != 200 {
			t.Fatalf("sample %d: expected downmixed 200, got %d", i, s)
		}
	}
}

func TestResampleHalvesRate(t *testing.T) {
	// 32 kHz source, 16 kHz target: output sample count converges to half
	// the input count.
	enc := New(encoderConfig(10, 0, 16000), 32000, 1)

	total := 0
	for seq := uint64(0); seq < 10; seq++ {
		samples := make([]int16, 320)
		for i := range samples {
			samples[i] = int16(i)
		}
		for _, chunk := range enc.Push(monoFrame(seq, samples, 32000)) {
			total += len(chunk.Samples)
		}
	}
	if final, ok := enc.Flush(); ok {
		total += len(final.Samples)
	}

	// 3200 input samples should give ~1600 output samples, allowing the
	// resampler a sample of slack at each block boundary.
	if total < 1590 || total > 1610 {
		t.Fatalf("expected ~1600 resampled samples, got %d", total)
	}
}

func TestResetDropsCarriedState(t *testing.T) {
	enc := New(encoderConfig(10, 0, 16000), 16000, 1)
	enc.Push(monoFrame(0, make([]int16, 100), 16000))
	enc.Reset()
	if _, ok := enc.Flush(); ok {
		t.Fatal("expected nothing pending after reset")
	}
	chunks := enc.Push(monoFrame(0, make([]int16, 160), 16000))
	if len(chunks) != 1 || chunks[0].Index != 0 {
		t.Fatalf("expected fresh chunk index 0 after reset, got %+v", chunks)
	}
}
