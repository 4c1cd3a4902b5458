// Package vad defines the Engine interface for Voice Activity Detection
// backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session maintains its own internal state
// (smoothing history, hysteresis counters) so that multiple concurrent audio
// streams can be processed independently.
//
// VAD is synchronous by design: Process returns immediately with a detection
// result, making it suitable for low-latency pipeline stages that gate STT
// input. Beyond the edge events, a session exposes Active — the latest frame
// classification — which the segmenter queries on every audio frame rather
// than only at edges.
//
// Implementations must be safe for concurrent use across different sessions.
// A single Session must not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// frames passed to Process. Common values: 8000, 16000, 48000.
	SampleRate int

	// SpeechThreshold is the level above which a frame counts toward a
	// speech-start edge. Range and scale are engine-specific; for the energy
	// engine this is an RMS amplitude in [0, 1].
	SpeechThreshold float64

	// SilenceThreshold is the level below which a frame counts toward a
	// speech-end edge. Must be ≤ SpeechThreshold so the hysteresis band
	// suppresses flicker.
	SilenceThreshold float64

	// StartFrames is the number of consecutive speech-classified frames
	// required before a SpeechStart edge fires. Zero selects the engine
	// default.
	StartFrames int

	// EndFrames is the number of consecutive silence-classified frames
	// required before a SpeechEnd edge fires. Zero selects the engine default.
	EndFrames int
}

// Event is the detection result for a single audio frame.
type Event struct {
	// Type is the detection result.
	Type EventType

	// Probability is the speech score for the frame (0.0–1.0).
	Probability float64
}

// EventType enumerates VAD detection states.
type EventType int

const (
	// Silence indicates no speech detected.
	Silence EventType = iota

	// SpeechStart indicates speech has just begun (edge-triggered).
	SpeechStart

	// SpeechContinue indicates ongoing speech.
	SpeechContinue

	// SpeechEnd indicates speech has just ended (edge-triggered).
	SpeechEnd
)

// Session is an active VAD session for a single audio stream. Each session
// maintains its own detection state; Reset clears this state without closing
// the session.
type Session interface {
	// Process analyses a single mono frame and returns the detection result.
	// Designed to be called synchronously in the audio pipeline loop; it must
	// not block. Returns an error after Close or on internal engine failure.
	Process(frame []float32) (Event, error)

	// Active reports whether the most recently processed frame was classified
	// as speech. It reflects steady state, not edges.
	Active() bool

	// Reset clears all accumulated detection state without closing the
	// session. Use when the audio stream is interrupted or restarted so stale
	// state from the previous segment cannot affect subsequent frames.
	Reset()

	// Close releases the session's resources. Process returns an error after
	// Close. Calling Close more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions, implemented by each backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a session with the given configuration, immediately
	// ready to accept frames. Returns an error if the configuration is
	// invalid or resources cannot be allocated — initialization failure must
	// surface to the caller, never be swallowed.
	NewSession(cfg Config) (Session, error)
}
