// Package permission abstracts the host environment's microphone
// authorization. The desktop shell supplies a real provider; the runtime's
// static provider covers hosts without a permission broker.
package permission

import "context"

// Status is the host's answer about microphone access.
type Status int

const (
	NotDetermined Status = iota
	Granted
	Denied
)

func (s Status) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "not_determined"
	}
}

// Provider checks and requests microphone permission. Request may suspend
// while the host prompts the user.
type Provider interface {
	Check(ctx context.Context) Status
	Request(ctx context.Context) (Status, error)
}

// Static always answers with a fixed status. Mode "prompt" models a host
// that starts undetermined and grants on request.
type Static struct {
	status Status
	onAsk  Status
}

// NewStatic builds a provider from a config mode string.
func NewStatic(mode string) *Static {
	switch mode {
	case "denied":
		return &Static{status: Denied, onAsk: Denied}
	case "prompt":
		return &Static{status: NotDetermined, onAsk: Granted}
	default:
		return &Static{status: Granted, onAsk: Granted}
	}
}

func (s *Static) Check(_ context.Context) Status {
	return s.status
}

func (s *Static) Request(_ context.Context) (Status, error) {
	s.status = s.onAsk
	return s.status, nil
}

// Mock is a scripted provider for tests.
type Mock struct {
	CheckStatus   Status
	RequestStatus Status
	RequestErr    error
	CheckCalls    int
	RequestCalls  int
}

func (m *Mock) Check(_ context.Context) Status {
	m.CheckCalls++
	return m.CheckStatus
}

func (m *Mock) Request(_ context.Context) (Status, error) {
	m.RequestCalls++
	return m.RequestStatus, m.RequestErr
}
