package transcriptstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scribelabs/scribe-core/internal/config"
)

// Session is one archived dictation session.
type Session struct {
	SessionID  string
	StartedAt  time.Time
	EndedAt    time.Time
	Degraded   bool
	Fault      string
	Transcript string
}

// Segment is one committed final span of a session's transcript.
type Segment struct {
	ID         int64
	SessionID  string
	Index      int
	Text       string
	Confidence float64
	CreatedAt  time.Time
}

// Store archives finalized transcripts in SQLite. In ephemeral retention
// mode every call is a no-op and nothing touches disk.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the transcript store according to config.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("transcript store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("transcript store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    ended_at TIMESTAMP,
    degraded INTEGER NOT NULL DEFAULT 0,
    fault TEXT NOT NULL DEFAULT '',
    transcript TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS segments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    idx INTEGER NOT NULL,
    text TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_segments_session_idx ON segments(session_id, idx);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BeginSession records a session the moment recording starts.
func (s *Store) BeginSession(ctx context.Context, sessionID string, startedAt time.Time) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	if startedAt.IsZero() {
		startedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, started_at) VALUES(?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, startedAt.UTC())
	return err
}

// AppendFinal stores one committed span. Commits arrive in index order, so a
// duplicate index means a replayed write and is overwritten in place.
func (s *Store) AppendFinal(ctx context.Context, sessionID string, index int, text string, confidence float64) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO segments(session_id, idx, text, confidence, created_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, idx) DO UPDATE SET text=excluded.text, confidence=excluded.confidence`,
		sessionID, index, text, confidence, s.clock().UTC())
	return err
}

// FinishSession seals the archived session with its outcome.
func (s *Store) FinishSession(ctx context.Context, sessionID, transcript string, degraded bool, fault string) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, degraded = ?, fault = ?, transcript = ? WHERE session_id = ?`,
		s.clock().UTC(), degraded, fault, transcript, sessionID)
	return err
}

// GetSession retrieves one archived session.
func (s *Store) GetSession(ctx context.Context, sessionID string) (Session, bool, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return Session{}, false, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, started_at, ended_at, degraded, fault, transcript
		 FROM sessions WHERE session_id = ?`, sessionID)

	var sess Session
	var started string
	var ended sql.NullString
	if err := row.Scan(&sess.SessionID, &started, &ended, &sess.Degraded, &sess.Fault, &sess.Transcript); err != nil {
		if err == sql.ErrNoRows {
			return Session{}, false, nil
		}
		return Session{}, false, err
	}
	sess.StartedAt = parseTimestamp(started)
	if ended.Valid {
		sess.EndedAt = parseTimestamp(ended.String)
	}
	return sess, true, nil
}

// ListSegments retrieves up to limit committed spans for a session in index
// order.
func (s *Store) ListSegments(ctx context.Context, sessionID string, limit int) ([]Segment, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, idx, text, confidence, created_at
		 FROM segments WHERE session_id = ? ORDER BY idx ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		var seg Segment
		var created string
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.Index, &seg.Text, &seg.Confidence, &created); err != nil {
			return nil, err
		}
		seg.CreatedAt = parseTimestamp(created)
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM segments WHERE session_id IN (
			SELECT session_id FROM sessions WHERE started_at < ?
		)`, cutoff.UTC()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE started_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM segments WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

func parseTimestamp(raw string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return time.Time{}
}
