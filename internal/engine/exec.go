package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	shellwords "github.com/mattn/go-shellwords"

	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/encode"
)

const execRunTimeout = 45 * time.Second

// execEngine shells out to an external recognizer. Each run feeds the full
// accumulated session audio as a WAV file and reads a JSON transcript from
// stdout, so every run revises the transcript up to the newest chunk index.
// Interim runs are paced by partial_every_ms, at most max_inflight of them
// concurrently; the final run waits until every interim run has drained.
type execEngine struct {
	cmd         []string
	cfg         config.EngineConfig
	log         *slog.Logger
	maxInflight int

	mu           sync.Mutex
	buf          []int16
	sampleRate   int
	lastIndex    int
	revisions    map[int]int
	inflight     int
	pendingFinal bool
	lastPartial  time.Time
	results      chan Result
	closed       bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type execOutput struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewExec(cfg config.EngineConfig, log *slog.Logger) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command is empty")
	}
	maxInflight := cfg.MaxInflight
	if maxInflight <= 0 {
		maxInflight = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &execEngine{
		cmd:         args,
		cfg:         cfg,
		log:         log.With(slog.String("component", "engine")),
		maxInflight: maxInflight,
		lastIndex:   -1,
		revisions:   make(map[int]int),
		results:     make(chan Result, 64),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

func (e *execEngine) Submit(_ context.Context, chunk encode.Chunk) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineUnavailable
	}
	e.buf = append(e.buf, chunk.Samples...)
	e.sampleRate = chunk.SampleRate
	e.lastIndex = chunk.Index

	schedule := false
	if e.cfg.PublishInterim && e.inflight < e.maxInflight {
		interval := time.Duration(e.cfg.PartialEveryMS) * time.Millisecond
		if e.lastPartial.IsZero() || (interval > 0 && time.Since(e.lastPartial) >= interval) {
			e.lastPartial = time.Now()
			schedule = true
		}
	}
	e.mu.Unlock()

	if schedule {
		e.schedule(false)
	}
	return nil
}

func (e *execEngine) SignalEndOfInput() {
	e.schedule(true)
}

func (e *execEngine) Results() <-chan Result {
	return e.results
}

func (e *execEngine) Close() error {
	e.cancel()
	e.wg.Wait()
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.results)
	}
	return nil
}

func (e *execEngine) schedule(final bool) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if final && e.inflight > 0 {
		// The final run must see the results of every interim run
		// settled, so it waits for the last one to drain.
		e.pendingFinal = true
		e.mu.Unlock()
		return
	}
	if !final && e.inflight >= e.maxInflight {
		e.mu.Unlock()
		return
	}
	if final && e.lastIndex < 0 {
		// Nothing was submitted; an empty session still terminates.
		e.emitLocked(Result{EndOfUtterance: true})
		e.mu.Unlock()
		return
	}
	pcm := append([]int16(nil), e.buf...)
	index := e.lastIndex
	e.revisions[index]++
	revision := e.revisions[index]
	sampleRate := e.sampleRate
	e.inflight++
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(e.ctx, execRunTimeout)
		defer cancel()

		out, err := e.run(ctx, pcm, sampleRate)

		e.mu.Lock()
		e.inflight--
		runFinal := false
		if !final && e.pendingFinal && e.inflight == 0 {
			e.pendingFinal = false
			runFinal = true
		}
		if !final {
			e.lastPartial = time.Now()
		}

		switch {
		case err != nil && final:
			e.emitLocked(Result{Err: fmt.Errorf("%w: %v", ErrEngineUnavailable, err)})
		case err != nil:
			// A failed interim run is recoverable; the next run covers
			// the same audio again.
			e.log.Warn("engine interim run failed", slog.String("error", err.Error()))
		default:
			kind := KindPartial
			if final {
				kind = KindFinal
			}
			e.emitLocked(Result{Segment: &Segment{
				Index:      index,
				Revision:   revision,
				Kind:       kind,
				Text:       out.Text,
				Confidence: out.Confidence,
			}})
		}
		if final && err == nil {
			e.emitLocked(Result{EndOfUtterance: true})
		}
		e.mu.Unlock()

		if runFinal {
			e.schedule(true)
		}
	}()
}

func (e *execEngine) run(ctx context.Context, pcm []int16, sampleRate int) (execOutput, error) {
	file, err := os.CreateTemp("", "scribe_engine_*.wav")
	if err != nil {
		return execOutput{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writeWAV(file, pcm, sampleRate); err != nil {
		return execOutput{}, err
	}

	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if e.cfg.ModelPath != "" {
		args = append(args, "--model", e.cfg.ModelPath)
	}
	if e.cfg.Language != "" {
		args = append(args, "--language", e.cfg.Language)
	}

	command := exec.CommandContext(ctx, e.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return execOutput{}, fmt.Errorf("engine command failed: %w: %s", err, stderr.String())
	}

	var out execOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return execOutput{}, fmt.Errorf("decode engine response: %w", err)
	}
	return out, nil
}

// emitLocked requires e.mu held. Results are dropped once the consumer is
// gone rather than wedging the run goroutine.
func (e *execEngine) emitLocked(r Result) {
	if e.closed {
		return
	}
	select {
	case e.results <- r:
	default:
	}
}

func writeWAV(file *os.File, pcm []int16, sampleRate int) error {
	data := make([]int, len(pcm))
	for i, s := range pcm {
		data[i] = int(s)
	}
	buf := &gaudio.IntBuffer{
		Format: &gaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:   data,
	}
	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
