// Package control exposes the dictation lifecycle on the message bus. The
// desktop shell publishes start/stop/cancel commands and consumes the
// transcript stream; this service owns the single active session between
// them.
package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/scribelabs/scribe-core/internal/audio"
	"github.com/scribelabs/scribe-core/internal/bus"
	"github.com/scribelabs/scribe-core/internal/capture"
	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/engine"
	"github.com/scribelabs/scribe-core/internal/permission"
	"github.com/scribelabs/scribe-core/internal/protocol"
	"github.com/scribelabs/scribe-core/internal/session"
	"github.com/scribelabs/scribe-core/internal/transcriptstore"
)

// ControllerFactory builds a fresh controller per session. Controllers are
// single-use, so every start command gets a new one.
type ControllerFactory func() (*session.Controller, error)

type Service struct {
	cfg    config.Config
	bus    *bus.Client
	store  *transcriptstore.Store
	logger *slog.Logger

	newController ControllerFactory

	subStart  *nats.Subscription
	subStop   *nats.Subscription
	subCancel *nats.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active *session.Controller
}

func NewService(parent context.Context, cfg config.Config, busClient *bus.Client, store *transcriptstore.Store, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:    cfg,
		bus:    busClient,
		store:  store,
		logger: logger.With(slog.String("component", "control")),
		ctx:    ctx,
		cancel: cancel,
	}
	s.newController = s.defaultFactory
	return s
}

func (s *Service) defaultFactory() (*session.Controller, error) {
	eng, err := engine.New(s.cfg.Engine, s.logger)
	if err != nil {
		return nil, err
	}
	src := capture.NewPortAudioSource(s.cfg.Audio, s.logger)
	perm := permission.NewStatic(s.cfg.Permission.Mode)
	return session.NewController(s.cfg, src, eng, perm, s.logger), nil
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectControlStart, s.handleStart)
	if err != nil {
		return err
	}
	s.subStart = sub

	subStop, err := s.bus.Conn().Subscribe(protocol.SubjectControlStop, s.handleStop)
	if err != nil {
		s.subStart.Drain()
		return err
	}
	s.subStop = subStop

	subCancel, err := s.bus.Conn().Subscribe(protocol.SubjectControlCancel, s.handleCancel)
	if err != nil {
		s.subStart.Drain()
		s.subStop.Drain()
		return err
	}
	s.subCancel = subCancel
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range []*nats.Subscription{s.subStart, s.subStop, s.subCancel} {
		if sub != nil {
			_ = sub.Drain()
		}
	}

	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active != nil && !active.State().Terminal() {
		active.Cancel()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.subStart != nil && s.subStop != nil && s.subCancel != nil
}

// ActiveSessionID reports the current session, empty when idle.
func (s *Service) ActiveSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.State().Terminal() {
		return ""
	}
	return s.active.ID()
}

func (s *Service) handleStart(_ *nats.Msg) {
	s.mu.Lock()
	if s.active != nil && !s.active.State().Terminal() {
		s.mu.Unlock()
		s.logger.Warn("start command ignored, a session is already active")
		return
	}

	ctrl, err := s.newController()
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("failed to build session", slog.String("error", err.Error()))
		return
	}
	s.active = ctrl
	s.mu.Unlock()

	if s.cfg.Archive.Enabled {
		w, err := audio.NewWAVWriter(s.cfg.Archive.Directory, ctrl.ID(), s.cfg.Encoder.TargetSampleRate, 1)
		if err != nil {
			s.logger.Warn("audio archive disabled for this session", slog.String("error", err.Error()))
		} else {
			ctrl.AttachArchive(w)
		}
	}

	// The pump must be consuming before Start so a start failure's error
	// event reaches the bus.
	s.wg.Add(1)
	go s.pump(ctrl)

	if err := s.store.BeginSession(s.ctx, ctrl.ID(), time.Now()); err != nil {
		s.logger.Warn("failed to record session start", slog.String("error", err.Error()))
	}

	if err := ctrl.Start(s.ctx); err != nil {
		s.logger.Warn("session failed to start",
			slog.String("session_id", ctrl.ID()),
			slog.String("error", err.Error()))
		return
	}

	s.publish(protocol.SubjectSessionStarted, protocol.SessionStarted{
		SessionID:  ctrl.ID(),
		SampleRate: s.cfg.Audio.SampleRate,
		Channels:   s.cfg.Audio.Channels,
		Timestamp:  time.Now().UTC(),
	})
}

func (s *Service) handleStop(_ *nats.Msg) {
	if ctrl := s.activeController(); ctrl != nil {
		ctrl.Stop()
	}
}

func (s *Service) handleCancel(_ *nats.Msg) {
	if ctrl := s.activeController(); ctrl != nil {
		ctrl.Cancel()
	}
}

func (s *Service) activeController() *session.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// pump republishes one controller's event stream on the bus and archives
// committed spans. It exits when the controller closes its stream.
func (s *Service) pump(ctrl *session.Controller) {
	defer s.wg.Done()

	for evt := range ctrl.Events() {
		switch evt.Type {
		case session.EventReplacePartial:
			s.publish(protocol.SubjectTranscriptUpdate, protocol.TranscriptSegment{
				SessionID: ctrl.ID(),
				Index:     evt.Index,
				Text:      evt.Text,
				Final:     false,
				Timestamp: time.Now().UTC(),
			})
		case session.EventCommitFinal:
			s.publish(protocol.SubjectTranscriptFinal, protocol.TranscriptSegment{
				SessionID: ctrl.ID(),
				Index:     evt.Index,
				Text:      evt.Text,
				Final:     true,
				Timestamp: time.Now().UTC(),
			})
			if err := s.store.AppendFinal(s.ctx, ctrl.ID(), evt.Index, evt.Text, 0); err != nil {
				s.logger.Warn("failed to archive segment", slog.String("error", err.Error()))
			}
		case session.EventSessionError:
			s.publish(protocol.SubjectSessionError, protocol.SessionError{
				SessionID: ctrl.ID(),
				Fault:     evt.Fault.String(),
				Message:   errorMessage(ctrl.Err()),
				Timestamp: time.Now().UTC(),
			})
			s.finishArchive(ctrl, evt.Fault.String())
		case session.EventSessionEnded:
			s.publish(protocol.SubjectSessionEnded, protocol.SessionEnded{
				SessionID:  ctrl.ID(),
				Degraded:   evt.Degraded,
				Transcript: ctrl.Transcript(),
				DurationMS: sessionDurationMS(ctrl),
				Timestamp:  time.Now().UTC(),
			})
			s.finishArchive(ctrl, "")
		}
	}
}

func (s *Service) finishArchive(ctrl *session.Controller, fault string) {
	if err := s.store.FinishSession(s.ctx, ctrl.ID(), ctrl.Transcript(), ctrl.Degraded(), fault); err != nil {
		s.logger.Warn("failed to archive session outcome", slog.String("error", err.Error()))
	}
}

func (s *Service) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to encode bus message", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}

func sessionDurationMS(ctrl *session.Controller) int64 {
	started := ctrl.StartedAt()
	if started.IsZero() {
		return 0
	}
	return time.Since(started).Milliseconds()
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
