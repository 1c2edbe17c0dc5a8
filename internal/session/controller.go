package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scribelabs/scribe-core/internal/audio"
	"github.com/scribelabs/scribe-core/internal/capture"
	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/encode"
	"github.com/scribelabs/scribe-core/internal/engine"
	"github.com/scribelabs/scribe-core/internal/permission"
)

// ErrNotIdle is returned by Start when the controller already ran a session.
// A controller is single-use; back-to-back recordings get fresh controllers
// so the previous session's resources are fully torn down first.
var ErrNotIdle = errors.New("session controller already started")

// Controller owns one recording session end to end: it acquires the
// microphone through the capture source, pumps frames through the ring
// buffer and encoder into the transcription engine, merges the engine's
// asynchronous results into an ordered transcript, and emits the transcript
// stream consumed by the UI layer.
//
// All state transitions and merge decisions happen under one mutex, so
// transcript updates never race user-initiated Stop or Cancel.
type Controller struct {
	id      string
	source  capture.Source
	eng     engine.Engine
	perm    permission.Provider
	log     *slog.Logger
	metrics *pipelineMetrics

	sampleRate   int
	channels     int
	flushTimeout time.Duration

	ring *audio.Ring
	enc  *encode.Encoder

	archiveMu sync.Mutex
	archive   *audio.WAVWriter

	ctx context.Context

	mu            sync.Mutex
	state         State
	startedAt     time.Time
	tx            *transcript
	fault         FaultKind
	err           error
	degraded      bool
	eventsClosed  bool
	eventsDropped uint64

	events      chan Event
	done        chan struct{}
	captureDone chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

// NewController wires a session from config and collaborators. The encoder
// and ring buffer are sized from config; nothing is acquired until Start.
func NewController(cfg config.Config, source capture.Source, eng engine.Engine, perm permission.Provider, log *slog.Logger) *Controller {
	return &Controller{
		id:           uuid.NewString(),
		source:       source,
		eng:          eng,
		perm:         perm,
		log:          log.With(slog.String("component", "session")),
		metrics:      getMetrics(),
		sampleRate:   cfg.Audio.SampleRate,
		channels:     cfg.Audio.Channels,
		flushTimeout: time.Duration(cfg.Session.FlushTimeoutMS) * time.Millisecond,
		ring:         audio.NewRing(cfg.Audio.BufferCapacityFrames),
		enc:          encode.New(cfg.Encoder, cfg.Audio.SampleRate, cfg.Audio.Channels),
		state:        StateIdle,
		tx:           newTranscript(),
		events:       make(chan Event, 256),
		done:         make(chan struct{}),
		captureDone:  make(chan struct{}),
	}
}

// AttachArchive tees the session's encoded audio into a WAV archive. Must be
// called before Start.
func (c *Controller) AttachArchive(w *audio.WAVWriter) {
	c.archiveMu.Lock()
	c.archive = w
	c.archiveMu.Unlock()
}

func (c *Controller) ID() string { return c.id }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) StartedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt
}

// Err returns the terminal fault, nil unless the session ended in Error.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) Fault() FaultKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fault
}

// Degraded reports whether finalize was forced by the flush timeout.
func (c *Controller) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Events is the transcript stream. It is closed exactly once, after the
// terminal SessionError or SessionEnded event (or silently on cancel).
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Done is closed when the session reaches a terminal state.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Transcript renders the merged text accumulated so far. It remains readable
// after an error.
func (c *Controller) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx.text()
}

// CorrelationErrors counts segments dropped for regressing below the last
// committed final index.
func (c *Controller) CorrelationErrors() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx.correlationErrors
}

// DrainStats reports ring buffer overflow accounting.
func (c *Controller) DrainStats() audio.DrainStats {
	return c.ring.DrainStats()
}

// EventsDropped counts transcript events discarded because the stream's
// consumer fell behind its buffer.
func (c *Controller) EventsDropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eventsDropped
}

// Start drives Idle → RequestingPermission → Recording. It returns an error
// when permission is denied or the device cannot be opened; in both cases the
// session is terminal and the event stream has carried one SessionError.
func (c *Controller) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrNotIdle
	}
	c.state = StateRequestingPermission
	c.mu.Unlock()

	status := c.perm.Check(ctx)
	if status == permission.NotDetermined {
		requested, err := c.perm.Request(ctx)
		if err != nil {
			return c.fail(FaultPermissionDenied, fmt.Errorf("request microphone permission: %w", err))
		}
		status = requested
	}
	if status != permission.Granted {
		return c.fail(FaultPermissionDenied, errors.New("microphone permission denied"))
	}

	if cancelled := c.abortIfNotRequesting(); cancelled != nil {
		return cancelled
	}

	if err := c.source.Start(c.sampleRate, c.channels); err != nil {
		kind := FaultDeviceUnavailable
		if errors.Is(err, capture.ErrDeviceBusy) {
			kind = FaultDeviceBusy
		}
		return c.fail(kind, err)
	}

	c.mu.Lock()
	if c.state != StateRequestingPermission {
		c.mu.Unlock()
		_ = c.source.Stop()
		return errors.New("session cancelled during start")
	}
	c.ctx = ctx
	c.state = StateRecording
	c.startedAt = time.Now()
	c.mu.Unlock()

	c.wg.Add(3)
	go c.captureLoop()
	go c.encodeLoop()
	go c.resultLoop()

	c.log.Info("session recording",
		slog.String("session_id", c.id),
		slog.Int("sample_rate", c.sampleRate),
		slog.Int("channels", c.channels))
	return nil
}

func (c *Controller) abortIfNotRequesting() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRequestingPermission {
		return errors.New("session cancelled during start")
	}
	return nil
}

// Stop drives Recording → Flushing: the device is released immediately,
// buffered audio is drained through the encoder, and the session finalizes
// when the engine signals end-of-utterance or the flush timeout elapses,
// whichever comes first. No-op in any other state.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return
	}
	c.state = StateFlushing
	c.mu.Unlock()

	c.log.Info("session flushing", slog.String("session_id", c.id))
	_ = c.source.Stop()

	go func() {
		select {
		case <-c.done:
		case <-time.After(c.flushTimeout):
			c.finalize(true)
		}
	}()
}

// Cancel discards the session: device released, buffers dropped, no further
// transcript events. All resources are freed before Cancel returns.
// Idempotent; Stop after Cancel is a no-op.
func (c *Controller) Cancel() {
	c.mu.Lock()
	switch c.state {
	case StateRequestingPermission, StateRecording, StateFlushing:
	default:
		c.mu.Unlock()
		return
	}
	wasRecording := c.state == StateRecording || c.state == StateFlushing
	c.state = StateCancelled
	c.closeEventsLocked()
	close(c.done)
	c.mu.Unlock()

	c.teardown()
	if wasRecording {
		c.wg.Wait()
	}
	// The encode loop has exited; the encoder is single-owner again.
	c.enc.Reset()
	c.log.Info("session cancelled", slog.String("session_id", c.id))
}

// captureLoop pumps the source's frame stream into the ring buffer. It does
// nothing else: the ring absorbs jitter between the device cadence and the
// encoder's consumption cadence.
func (c *Controller) captureLoop() {
	defer c.wg.Done()
	defer close(c.captureDone)

	for frame := range c.source.Frames() {
		c.ring.Push(frame)
		c.metrics.add(c.metrics.framesCaptured, 1)
	}
	if err := c.source.Err(); err != nil {
		kind := FaultDeviceInterrupted
		if errors.Is(err, capture.ErrDeviceUnavailable) {
			kind = FaultDeviceUnavailable
		}
		_ = c.fail(kind, err)
	}
}

// encodeLoop is the single consumer of the ring buffer. It waits on the wake
// signal, drains frames through the encoder, and submits completed chunks.
// When capture finishes cleanly it flushes the encoder remainder and signals
// end-of-input to the engine.
func (c *Controller) encodeLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case <-c.ring.Wake():
			if !c.drainRing() {
				return
			}
		case <-c.captureDone:
			if !c.drainRing() {
				return
			}
			c.finishInput()
			return
		}
	}
}

// drainRing pops every buffered frame, reporting false when submission hit a
// terminal engine fault.
func (c *Controller) drainRing() bool {
	for {
		frame, ok := c.ring.Pop()
		if !ok {
			return true
		}
		for _, chunk := range c.enc.Push(frame) {
			if !c.submit(chunk) {
				return false
			}
		}
	}
}

func (c *Controller) submit(chunk encode.Chunk) bool {
	c.archiveMu.Lock()
	if c.archive != nil {
		if err := c.archive.WriteSamples(chunk.Samples); err != nil {
			c.log.Warn("audio archive write failed", slog.String("error", err.Error()))
			c.archive = nil
		}
	}
	c.archiveMu.Unlock()
	if err := c.eng.Submit(c.ctx, chunk); err != nil {
		_ = c.fail(FaultEngineUnavailable, err)
		return false
	}
	c.metrics.add(c.metrics.chunksSubmitted, 1)
	return true
}

// finishInput runs once capture has ended. Only a flushing session submits
// the encoder remainder; an errored or cancelled one discards it.
func (c *Controller) finishInput() {
	if c.State() != StateFlushing {
		return
	}
	if chunk, ok := c.enc.Flush(); ok {
		if !c.submit(chunk) {
			return
		}
	}
	c.eng.SignalEndOfInput()
}

// resultLoop consumes the engine's asynchronous result stream. The merge
// step is the synchronization point that restores chunk ordering no matter
// how responses interleave.
func (c *Controller) resultLoop() {
	defer c.wg.Done()

	for res := range c.eng.Results() {
		switch {
		case res.Err != nil:
			_ = c.fail(FaultEngineUnavailable, res.Err)
		case res.EndOfUtterance:
			c.finalize(false)
		case res.Segment != nil:
			c.merge(*res.Segment)
		}
	}
}

func (c *Controller) merge(seg engine.Segment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording && c.state != StateFlushing {
		// Late engine responses after a terminal transition are dropped.
		return
	}

	before := c.tx.correlationErrors
	if seg.Kind == engine.KindFinal {
		for _, evt := range c.tx.applyFinal(seg) {
			c.emitLocked(evt)
			c.metrics.add(c.metrics.finalsCommitted, 1)
		}
	} else {
		if c.tx.applyPartial(seg) {
			c.emitLocked(Event{Type: EventReplacePartial, Index: seg.Index, Text: seg.Text})
			c.metrics.add(c.metrics.partialsMerged, 1)
		}
	}
	if dropped := c.tx.correlationErrors - before; dropped > 0 {
		c.metrics.add(c.metrics.correlationErrors, int64(dropped))
		c.log.Warn("transcript segment regressed below committed index",
			slog.String("session_id", c.id),
			slog.Int("index", seg.Index),
			slog.String("kind", seg.Kind.String()))
	}
}

// finalize seals the transcript from the Flushing state. The degraded path
// (flush timeout) promotes remaining partials to final; that is a best-effort
// close, recorded on SessionEnded, never an error.
func (c *Controller) finalize(degraded bool) {
	c.mu.Lock()
	if c.state != StateFlushing {
		c.mu.Unlock()
		return
	}
	if degraded {
		for _, evt := range c.tx.promotePending() {
			c.emitLocked(evt)
			c.metrics.add(c.metrics.finalsCommitted, 1)
		}
	}
	c.degraded = degraded
	c.state = StateFinalized
	c.emitLocked(Event{Type: EventSessionEnded, Degraded: degraded})
	c.closeEventsLocked()
	close(c.done)
	stats := c.ring.DrainStats()
	c.mu.Unlock()

	go c.teardown()
	c.log.Info("session finalized",
		slog.String("session_id", c.id),
		slog.Bool("degraded", degraded),
		slog.Uint64("frames_dropped", stats.Dropped))
}

// fail records the single terminal fault, surfaces it once on the event
// stream, and tears the session down. Faults never auto-retry here; a caller
// wanting a retry starts a new session.
func (c *Controller) fail(kind FaultKind, err error) error {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return err
	}
	c.state = StateError
	c.fault = kind
	c.err = err
	c.emitLocked(Event{Type: EventSessionError, Fault: kind})
	c.closeEventsLocked()
	close(c.done)
	c.mu.Unlock()

	go c.teardown()
	c.log.Error("session failed",
		slog.String("session_id", c.id),
		slog.String("fault", kind.String()),
		slog.String("error", err.Error()))
	return err
}

// teardown releases the device, the engine, and buffered audio exactly once.
func (c *Controller) teardown() {
	c.closeOnce.Do(func() {
		_ = c.source.Stop()
		_ = c.eng.Close()
		if stats := c.ring.DrainStats(); stats.Dropped > 0 {
			c.metrics.add(c.metrics.framesDropped, int64(stats.Dropped))
		}
		c.ring.Reset()
		c.archiveMu.Lock()
		if c.archive != nil {
			if err := c.archive.Close(); err != nil {
				c.log.Warn("audio archive close failed", slog.String("error", err.Error()))
			}
			c.archive = nil
		}
		c.archiveMu.Unlock()
	})
}

// emitLocked requires c.mu held. A full stream drops the event rather than
// blocking the merge path; the UI always receives the terminal event because
// the channel buffer is far larger than a session's trailing event burst.
func (c *Controller) emitLocked(evt Event) {
	if c.eventsClosed {
		return
	}
	select {
	case c.events <- evt:
	default:
		c.eventsDropped++
	}
}

func (c *Controller) closeEventsLocked() {
	if !c.eventsClosed {
		c.eventsClosed = true
		close(c.events)
		if c.eventsDropped > 0 {
			c.log.Warn("transcript events dropped on a saturated stream",
				slog.String("session_id", c.id),
				slog.Uint64("dropped", c.eventsDropped))
		}
	}
}
