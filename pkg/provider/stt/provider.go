// Package stt defines the Provider interface for streaming Speech-to-Text
// backends.
//
// An STT provider wraps a transcription service (a WhisperLive-compatible
// socket server, or a local whisper.cpp model) and exposes a uniform
// streaming interface. The central abstraction is SessionHandle: once opened,
// a session accepts 16-bit little-endian PCM audio chunks and emits parsed
// transcription messages, each carrying zero or more text segments marked
// completed (final) or interim.
//
// Sessions deliver messages strictly in backend order; no client-side
// reordering is performed. Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"
)

// StreamConfig describes the audio format and recognition options for a new
// transcription session.
type StreamConfig struct {
	// SampleRate is the PCM sample rate in Hz of audio passed to SendAudio.
	// Commonly 16000.
	SampleRate int

	// Language is the language code for recognition (e.g., "en"). Empty lets
	// the backend auto-detect, if supported.
	Language string

	// Task selects the backend task, e.g. "transcribe" or "translate".
	Task string

	// Model names the backend model (e.g., "small", "large-v3").
	Model string

	// UseVAD asks the backend to run its own voice-activity filtering in
	// addition to any client-side gating.
	UseVAD bool

	// MaxConnectionTime caps the server-side session length. Zero selects the
	// provider default.
	MaxConnectionTime time.Duration
}

// SessionHandle represents an open streaming transcription session. It is an
// interface so that test code can provide mock implementations without a live
// backend.
//
// Callers must call Close when the session is no longer needed; failing to do
// so may leak goroutines and connections inside the provider.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw 16-bit little-endian PCM mono audio.
	// Ownership of the chunk transfers to the session; callers must not reuse
	// it. Returns an error when the session is not connected or closed.
	SendAudio(chunk []byte) error

	// EndAudio signals end-of-utterance so the backend flushes and finalizes
	// pending audio. Returns an error when the session is not connected.
	EndAudio() error

	// Messages returns a read-only channel of parsed transcription messages
	// in backend delivery order. The channel is closed when the session ends.
	Messages() <-chan Message

	// Close terminates the session and releases all associated resources.
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
type Provider interface {
	// StartStream opens a new transcription session with the given
	// configuration. The returned SessionHandle is ready to accept audio
	// immediately. Returns an error if the session cannot be established.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
