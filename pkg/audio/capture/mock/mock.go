// Package mock provides a scriptable capture source for tests.
package mock

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"sync"

	"github.com/mkarols/notula/pkg/audio/capture"
)

// Source implements capture.Source, producing sessions that replay scripted
// samples.
type Source struct {
	// StartErr, when non-nil, is returned by Start.
	StartErr error

	// Samples is the f32 audio replayed by every session.
	Samples []float32

	mu   sync.Mutex
	last *Session
}

var _ capture.Source = (*Source)(nil)

// Start returns a session replaying the scripted samples, or StartErr.
func (s *Source) Start(ctx context.Context, cfg capture.Config) (capture.Session, error) {
	if s.StartErr != nil {
		return nil, s.StartErr
	}

	buf := make([]byte, len(s.Samples)*4)
	for i, v := range s.Samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	sess := &Session{data: buf}
	s.mu.Lock()
	s.last = sess
	s.mu.Unlock()
	return sess, nil
}

// Last returns the most recently started session, or nil.
func (s *Source) Last() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Session replays a fixed byte stream and records Stop calls. After the
// stream is exhausted Read returns io.EOF.
type Session struct {
	mu      sync.Mutex
	data    []byte
	off     int
	stopped bool
}

// Read implements capture.Session.
func (s *Session) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.off >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.off:])
	s.off += n
	return n, nil
}

// Stop implements capture.Session.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

// Stopped reports whether Stop has been called.
func (s *Session) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
