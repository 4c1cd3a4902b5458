// Package mock provides an in-memory STT provider for tests.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/mkarols/notula/pkg/provider/stt"
)

// Provider implements stt.Provider. Each StartStream returns a fresh
// *Session; the most recent one is exposed via Last.
type Provider struct {
	// StartErr, when non-nil, is returned by StartStream.
	StartErr error

	mu   sync.Mutex
	last *Session
}

// StartStream returns a new scriptable session, or StartErr if set.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	s := &Session{
		Config: cfg,
		msgs:   make(chan stt.Message, 64),
	}
	p.mu.Lock()
	p.last = s
	p.mu.Unlock()
	return s, nil
}

// Last returns the most recently started session, or nil.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Session records the audio it receives and lets tests push inbound messages.
type Session struct {
	Config stt.StreamConfig

	mu     sync.Mutex
	chunks [][]byte
	ended  int
	closed bool

	// SendErr, when non-nil, is returned by every SendAudio call.
	SendErr error

	msgs      chan stt.Message
	closeOnce sync.Once
}

// SendAudio records the chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock stt: session is closed")
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)
	s.chunks = append(s.chunks, c)
	return nil
}

// EndAudio counts end-of-utterance signals.
func (s *Session) EndAudio() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock stt: session is closed")
	}
	s.ended++
	return nil
}

// Messages returns the inbound message channel.
func (s *Session) Messages() <-chan stt.Message { return s.msgs }

// Push delivers a message to the session's consumer.
func (s *Session) Push(msg stt.Message) { s.msgs <- msg }

// Close marks the session closed and closes the message channel.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.msgs) })
	return nil
}

// Chunks returns a copy of all recorded audio chunks in send order.
func (s *Session) Chunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// EndCount returns how many times EndAudio was called.
func (s *Session) EndCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}
