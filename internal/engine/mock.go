package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/scribelabs/scribe-core/internal/encode"
)

// mockEngine produces deterministic placeholder transcripts: one partial per
// submitted chunk, a final covering the last index on end-of-input, then
// end-of-utterance.
type mockEngine struct {
	mu        sync.Mutex
	results   chan Result
	lastIndex int
	chunks    int
	samples   int
	closed    bool
}

func NewMock() Engine {
	return &mockEngine{
		results:   make(chan Result, 64),
		lastIndex: -1,
	}
}

func (m *mockEngine) Submit(_ context.Context, chunk encode.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrEngineUnavailable
	}
	m.lastIndex = chunk.Index
	m.chunks++
	m.samples += len(chunk.Samples)
	m.emit(Result{Segment: &Segment{
		Index:    chunk.Index,
		Revision: 1,
		Kind:     KindPartial,
		Text:     fmt.Sprintf("[partial chunk=%d samples=%d]", chunk.Index, len(chunk.Samples)),
	}})
	return nil
}

func (m *mockEngine) SignalEndOfInput() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.lastIndex >= 0 {
		m.emit(Result{Segment: &Segment{
			Index:    m.lastIndex,
			Revision: 1,
			Kind:     KindFinal,
			Text:     fmt.Sprintf("[final transcript chunks=%d samples=%d]", m.chunks, m.samples),
		}})
	}
	m.emit(Result{EndOfUtterance: true})
}

func (m *mockEngine) Results() <-chan Result {
	return m.results
}

func (m *mockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.results)
	}
	return nil
}

// emit drops results when the consumer is gone rather than blocking the
// caller. Callers hold m.mu.
func (m *mockEngine) emit(r Result) {
	select {
	case m.results <- r:
	default:
	}
}
