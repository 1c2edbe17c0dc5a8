package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/encode"
)

// ErrEngineUnavailable is the terminal engine fault: the backend cannot
// produce results for this session anymore.
var ErrEngineUnavailable = errors.New("transcription engine unavailable")

// Kind distinguishes provisional from committed transcript text.
type Kind int

const (
	KindPartial Kind = iota
	KindFinal
)

func (k Kind) String() string {
	if k == KindFinal {
		return "final"
	}
	return "partial"
}

// Segment is one transcript span. Index correlates it to the encoded chunk
// range that produced it; partials with the same index but a higher revision
// supersede prior ones.
type Segment struct {
	Index      int
	Revision   int
	Kind       Kind
	Text       string
	Confidence float64
}

// Result is one item on the engine's asynchronous result stream: a segment,
// an end-of-utterance marker, or a terminal error. Results may arrive out of
// strict lock-step with submissions; the session merge restores ordering.
type Result struct {
	Segment        *Segment
	EndOfUtterance bool
	Err            error
}

// Engine consumes encoded audio chunks and asynchronously emits transcript
// segments. Submit transfers chunk ownership to the engine. After
// SignalEndOfInput the engine drains pending work, emits any remaining
// segments, and finishes with an end-of-utterance result.
type Engine interface {
	Submit(ctx context.Context, chunk encode.Chunk) error
	Results() <-chan Result
	SignalEndOfInput()
	Close() error
}

// New builds an engine from config. Modes mirror the recognizer setup:
// "mock" for development and tests, "exec" for an external recognizer
// command.
func New(cfg config.EngineConfig, log *slog.Logger) (Engine, error) {
	switch cfg.Mode {
	case "mock":
		return NewMock(), nil
	case "exec":
		return NewExec(cfg, log)
	default:
		return nil, fmt.Errorf("unknown engine mode %q", cfg.Mode)
	}
}
