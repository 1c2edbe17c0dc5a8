package encode

import (
	"github.com/scribelabs/scribe-core/internal/audio"
	"github.com/scribelabs/scribe-core/internal/config"
)

// Chunk is a fixed-size window of mono samples at the engine's sample rate,
// plus the capture sequence range it covers. Ownership transfers to the
// engine on submit; the encoder never retains emitted chunks.
type Chunk struct {
	Index      int
	Samples    []int16
	FirstSeq   uint64
	LastSeq    uint64
	SampleRate int
	Last       bool // set on the final flushed chunk of a session
}

// span maps an offset in the pending sample buffer to the capture frame
// sequence number whose samples begin there.
type span struct {
	offset int
	seq    uint64
}

// Encoder converts capture frames into engine chunks: downmix to mono,
// resample to the target rate, then cut fixed windows. The only state carried
// across calls is the remainder of samples not yet filling a window (plus the
// resampler phase); Flush drains it as a final short chunk on session stop.
type Encoder struct {
	srcRate  int
	channels int
	dstRate  int
	window   int // samples per chunk at target rate
	step     int // samples advanced per chunk; < window when overlapping

	pending []int16
	spans   []span
	index   int

	// linear resampler carry
	phase    float64
	prevTail []int16
}

// New builds an encoder for a source format. Window and overlap come from
// config; step is window*(1-overlap_ratio), floored at 1.
func New(cfg config.EncoderConfig, sourceRate, sourceChannels int) *Encoder {
	window := cfg.TargetSampleRate * cfg.ChunkWindowMS / 1000
	if window < 1 {
		window = 1
	}
	step := int(float64(window) * (1 - cfg.OverlapRatio))
	if step < 1 {
		step = 1
	}
	return &Encoder{
		srcRate:  sourceRate,
		channels: sourceChannels,
		dstRate:  cfg.TargetSampleRate,
		window:   window,
		step:     step,
	}
}

// Push feeds one frame through the pipeline and returns every full chunk it
// completes, in order.
func (e *Encoder) Push(frame audio.Frame) []Chunk {
	mono := e.downmix(frame.Samples)
	out := e.resample(mono)
	if len(out) > 0 {
		e.spans = append(e.spans, span{offset: len(e.pending), seq: frame.Seq})
		e.pending = append(e.pending, out...)
	}

	var chunks []Chunk
	for len(e.pending) >= e.window {
		chunks = append(chunks, e.cut(e.window, false))
	}
	return chunks
}

// Flush emits the carried remainder as a final, possibly short chunk.
// Reports false when nothing is pending.
func (e *Encoder) Flush() (Chunk, bool) {
	if len(e.pending) == 0 {
		return Chunk{}, false
	}
	n := len(e.pending)
	chunk := e.cut(n, true)
	e.pending = nil
	e.spans = nil
	return chunk, true
}

// Reset drops all carried state. Used on cancel.
func (e *Encoder) Reset() {
	e.pending = nil
	e.spans = nil
	e.index = 0
	e.phase = 0
	e.prevTail = nil
}

// cut emits the first n pending samples as a chunk and advances by step
// (or by n when flushing).
func (e *Encoder) cut(n int, last bool) Chunk {
	samples := make([]int16, n)
	copy(samples, e.pending[:n])

	first, lastSeq := e.seqRange(n)
	chunk := Chunk{
		Index:      e.index,
		Samples:    samples,
		FirstSeq:   first,
		LastSeq:    lastSeq,
		SampleRate: e.dstRate,
		Last:       last,
	}
	e.index++

	advance := e.step
	if last || advance > len(e.pending) {
		advance = len(e.pending)
	}
	e.pending = e.pending[advance:]
	if len(e.pending) == 0 {
		e.spans = nil
	} else {
		e.advanceSpans(advance)
	}
	return chunk
}

// seqRange reports the first and last frame sequence contributing samples to
// the window [0, n).
func (e *Encoder) seqRange(n int) (uint64, uint64) {
	if len(e.spans) == 0 {
		return 0, 0
	}
	first := e.spans[0].seq
	last := first
	for _, sp := range e.spans {
		if sp.offset >= n {
			break
		}
		last = sp.seq
	}
	return first, last
}

// advanceSpans shifts span offsets after consuming the first `advance`
// pending samples, keeping a span that still covers offset 0.
func (e *Encoder) advanceSpans(advance int) {
	if advance == 0 {
		return
	}
	keep := 0
	for i, sp := range e.spans {
		if sp.offset <= advance {
			keep = i
		} else {
			break
		}
	}
	e.spans = e.spans[keep:]
	for i := range e.spans {
		e.spans[i].offset -= advance
		if e.spans[i].offset < 0 {
			e.spans[i].offset = 0
		}
	}
}

// downmix averages interleaved channels into mono. Single-channel input is
// passed through untouched.
func (e *Encoder) downmix(samples []int16) []int16 {
	if e.channels <= 1 {
		return samples
	}
	n := len(samples) / e.channels
	mono := make([]int16, n)
	for i := 0; i < n; i++ {
		var sum int
		for c := 0; c < e.channels; c++ {
			sum += int(samples[i*e.channels+c])
		}
		mono[i] = int16(sum / e.channels)
	}
	return mono
}

// resample converts mono samples from the source to the target rate by
// linear interpolation, carrying fractional phase and the previous block's
// tail sample so blocks join without discontinuities. Equal rates pass
// through unchanged.
func (e *Encoder) resample(in []int16) []int16 {
	if e.srcRate == e.dstRate {
		return in
	}
	if len(in) == 0 {
		return nil
	}

	combined := in
	if len(e.prevTail) > 0 {
		combined = make([]int16, 0, len(e.prevTail)+len(in))
		combined = append(combined, e.prevTail...)
		combined = append(combined, in...)
	}

	ratio := float64(e.srcRate) / float64(e.dstRate)
	pos := e.phase
	out := make([]int16, 0, int(float64(len(in))/ratio)+1)
	for int(pos)+1 < len(combined) {
		i := int(pos)
		frac := pos - float64(i)
		v := float64(combined[i])*(1-frac) + float64(combined[i+1])*frac
		out = append(out, int16(v))
		pos += ratio
	}

	e.phase = pos - float64(len(combined)-1)
	e.prevTail = []int16{combined[len(combined)-1]}
	return out
}

// Window returns the configured samples-per-chunk at the target rate.
func (e *Encoder) Window() int {
	return e.window
}

// Step returns the samples advanced per emitted chunk.
func (e *Encoder) Step() int {
	return e.step
}
