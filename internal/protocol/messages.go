package protocol

import "time"

// ControlCommand drives the dictation lifecycle from the desktop shell.
// Start opens a new session; stop and cancel address the active one.
type ControlCommand struct {
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionStarted acknowledges a start command with the session identity the
// shell uses to correlate subsequent transcript traffic.
type SessionStarted struct {
	SessionID  string    `json:"session_id"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	Timestamp  time.Time `json:"timestamp"`
}

// TranscriptSegment is one transcript span broadcast on the bus. A partial
// at (Index, Revision) replaces any earlier partial for the same index; a
// final commits the index permanently.
type TranscriptSegment struct {
	SessionID  string    `json:"session_id"`
	Index      int       `json:"index"`
	Revision   int       `json:"revision,omitempty"`
	Text       string    `json:"text"`
	Final      bool      `json:"final"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// SessionEnded closes a session's transcript traffic. Degraded marks a
// finalize forced by the flush deadline; Transcript carries the full merged
// text so the shell does not have to reassemble it.
type SessionEnded struct {
	SessionID  string    `json:"session_id"`
	Degraded   bool      `json:"degraded"`
	Transcript string    `json:"transcript"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// SessionError reports the single terminal fault of a failed session.
type SessionError struct {
	SessionID string    `json:"session_id"`
	Fault     string    `json:"fault"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectControlStart  = "dictation.control.start"
	SubjectControlStop   = "dictation.control.stop"
	SubjectControlCancel = "dictation.control.cancel"

	SubjectSessionStarted   = "dictation.session.started"
	SubjectTranscriptUpdate = "dictation.transcript.partial"
	SubjectTranscriptFinal  = "dictation.transcript.final"
	SubjectSessionEnded     = "dictation.session.ended"
	SubjectSessionError     = "dictation.session.error"
)
