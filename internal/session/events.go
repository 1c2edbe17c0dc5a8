package session

// State is the session lifecycle position. Transitions are owned exclusively
// by the Controller.
type State int

const (
	StateIdle State = iota
	StateRequestingPermission
	StateRecording
	StateFlushing
	StateFinalized
	StateCancelled
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequestingPermission:
		return "requesting_permission"
	case StateRecording:
		return "recording"
	case StateFlushing:
		return "flushing"
	case StateFinalized:
		return "finalized"
	case StateCancelled:
		return "cancelled"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateCancelled || s == StateError
}

// FaultKind classifies session-fatal errors surfaced on the event stream.
type FaultKind int

const (
	FaultNone FaultKind = iota
	FaultPermissionDenied
	FaultDeviceUnavailable
	FaultDeviceBusy
	FaultDeviceInterrupted
	FaultEngineUnavailable
)

func (k FaultKind) String() string {
	switch k {
	case FaultPermissionDenied:
		return "permission_denied"
	case FaultDeviceUnavailable:
		return "device_unavailable"
	case FaultDeviceBusy:
		return "device_busy"
	case FaultDeviceInterrupted:
		return "device_interrupted"
	case FaultEngineUnavailable:
		return "engine_unavailable"
	default:
		return "none"
	}
}

// EventType enumerates the transcript stream events consumed by the UI layer.
type EventType int

const (
	// EventReplacePartial replaces the provisional text at Index.
	EventReplacePartial EventType = iota
	// EventCommitFinal commits immutable text at Index.
	EventCommitFinal
	// EventSessionError reports the single terminal fault of a failed session.
	EventSessionError
	// EventSessionEnded closes the stream; Degraded marks a timeout-forced
	// finalize.
	EventSessionEnded
)

func (t EventType) String() string {
	switch t {
	case EventReplacePartial:
		return "replace_partial"
	case EventCommitFinal:
		return "commit_final"
	case EventSessionError:
		return "session_error"
	case EventSessionEnded:
		return "session_ended"
	default:
		return "unknown"
	}
}

// Event is one transcript stream item. The stream is ordered: partial
// replacements and final commits arrive in merge order, and exactly one
// SessionError or SessionEnded terminates it.
type Event struct {
	Type     EventType
	Index    int
	Text     string
	Fault    FaultKind
	Degraded bool
}
