package transcriptstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/scribelabs/scribe-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeralTouchesNothing(t *testing.T) {
	cfg := config.StoreConfig{RetentionMode: "ephemeral"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.BeginSession(context.Background(), "s1", time.Now()); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := s.AppendFinal(context.Background(), "s1", 0, "hello", 0.9); err != nil {
		t.Fatalf("append final: %v", err)
	}
	segments, err := s.ListSegments(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	if segments != nil {
		t.Fatalf("ephemeral store must retain nothing, got %d segments", len(segments))
	}
}

func TestArchiveAndReadBack(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.StoreConfig{Path: filepath.Join(tmp, "transcripts.db"), RetentionMode: "session"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open transcript store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	sessionID := "session-123"
	if err := s.BeginSession(context.Background(), sessionID, time.Now()); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := s.AppendFinal(context.Background(), sessionID, 0, "hello", 0.95); err != nil {
		t.Fatalf("append final: %v", err)
	}
	if err := s.AppendFinal(context.Background(), sessionID, 1, "world", 0.90); err != nil {
		t.Fatalf("append final: %v", err)
	}
	if err := s.FinishSession(context.Background(), sessionID, "hello world", false, ""); err != nil {
		t.Fatalf("finish session: %v", err)
	}

	segments, err := s.ListSegments(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].Index != 0 || segments[0].Text != "hello" {
		t.Fatalf("segment 0 = %+v", segments[0])
	}
	if segments[1].Index != 1 || segments[1].Text != "world" {
		t.Fatalf("segment 1 = %+v", segments[1])
	}

	sess, ok, err := s.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !ok {
		t.Fatalf("session not found")
	}
	if sess.Transcript != "hello world" || sess.Degraded || sess.Fault != "" {
		t.Fatalf("unexpected session row: %+v", sess)
	}
	if sess.EndedAt.IsZero() {
		t.Fatalf("ended_at not recorded")
	}
}

func TestAppendFinalOverwritesReplayedIndex(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.StoreConfig{Path: filepath.Join(tmp, "transcripts.db"), RetentionMode: "session"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open transcript store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.BeginSession(context.Background(), "s1", time.Now()); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := s.AppendFinal(context.Background(), "s1", 0, "first", 0.5); err != nil {
		t.Fatalf("append final: %v", err)
	}
	if err := s.AppendFinal(context.Background(), "s1", 0, "replayed", 0.8); err != nil {
		t.Fatalf("replayed append: %v", err)
	}

	segments, err := s.ListSegments(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	if len(segments) != 1 || segments[0].Text != "replayed" {
		t.Fatalf("expected single overwritten segment, got %+v", segments)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.StoreConfig{
		Path:          filepath.Join(tmp, "transcripts.db"),
		RetentionMode: "persistent",
		RetentionDays: 1,
		MaxSessions:   1,
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open transcript store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	s.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.BeginSession(context.Background(), "old-session", s.clock()); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := s.AppendFinal(context.Background(), "old-session", 0, "stale", 0); err != nil {
		t.Fatalf("append final: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.BeginSession(context.Background(), "new-session", s.clock()); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	segments, err := s.ListSegments(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	if len(segments) != 0 {
		t.Fatalf("expected the old session's segments pruned")
	}
	if _, ok, err := s.GetSession(context.Background(), "old-session"); err != nil || ok {
		t.Fatalf("expected the old session row pruned, ok=%v err=%v", ok, err)
	}
	if _, ok, err := s.GetSession(context.Background(), "new-session"); err != nil || !ok {
		t.Fatalf("expected the new session retained, ok=%v err=%v", ok, err)
	}
}
