// Package mock provides a scriptable VAD engine for tests.
package mock

import (
	"errors"

	"github.com/mkarols/notula/pkg/provider/vad"
)

// Engine implements vad.Engine and hands out *Session values that tests can
// drive directly.
type Engine struct {
	// NewSessionErr, when non-nil, is returned by NewSession to simulate an
	// initialization failure.
	NewSessionErr error

	// Last is the most recently created session.
	Last *Session
}

// NewSession returns a fresh scriptable session, or NewSessionErr if set.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	e.Last = &Session{}
	return e.Last, nil
}

// Session is a test double whose speech state is set by the test via
// SetActive. Process reports edges when the scripted state flips between
// calls, mirroring a real edge-triggered detector.
type Session struct {
	active     bool
	lastActive bool

	ProcessCalls int
	ResetCalls   int
	Closed       bool

	// ProcessErr, when non-nil, is returned by every Process call.
	ProcessErr error
}

// SetActive scripts the speech state reported for subsequent frames.
func (s *Session) SetActive(active bool) { s.active = active }

// Process returns an event derived from the scripted state.
func (s *Session) Process(frame []float32) (vad.Event, error) {
	if s.Closed {
		return vad.Event{}, errors.New("mock vad: session is closed")
	}
	if s.ProcessErr != nil {
		return vad.Event{}, s.ProcessErr
	}
	s.ProcessCalls++

	ev := vad.Event{Type: vad.Silence}
	switch {
	case s.active && !s.lastActive:
		ev.Type = vad.SpeechStart
	case s.active && s.lastActive:
		ev.Type = vad.SpeechContinue
	case !s.active && s.lastActive:
		ev.Type = vad.SpeechEnd
	}
	s.lastActive = s.active
	return ev, nil
}

// Active reports the scripted speech state.
func (s *Session) Active() bool { return s.active }

// Reset clears the scripted state.
func (s *Session) Reset() {
	s.ResetCalls++
	s.active = false
	s.lastActive = false
}

// Close marks the session closed.
func (s *Session) Close() error {
	s.Closed = true
	return nil
}
