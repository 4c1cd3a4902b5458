// Package energy provides an RMS-energy Voice Activity Detection engine.
//
// The detector classifies each frame by its root-mean-square amplitude and
// applies hysteresis: a SpeechStart edge requires several consecutive frames
// above the speech threshold, and a SpeechEnd edge requires several
// consecutive frames below the silence threshold. The two-threshold band
// keeps the state from flickering on breathy or trailing audio.
//
// It runs entirely in-process with no model assets, making it the default
// engine for the capture pipeline.
package energy

import (
	"errors"
	"fmt"
	"math"

	"github.com/mkarols/notula/pkg/provider/vad"
)

const (
	defaultSpeechThreshold  = 0.015
	defaultSilenceThreshold = 0.008
	defaultStartFrames      = 3
	defaultEndFrames        = 25
)

// Engine implements vad.Engine using RMS energy levels.
type Engine struct{}

// New returns a ready-to-use energy VAD engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg and creates an independent detection session.
// Zero thresholds and frame counts select the package defaults.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	if cfg.SpeechThreshold == 0 {
		cfg.SpeechThreshold = defaultSpeechThreshold
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = defaultSilenceThreshold
	}
	if cfg.StartFrames <= 0 {
		cfg.StartFrames = defaultStartFrames
	}
	if cfg.EndFrames <= 0 {
		cfg.EndFrames = defaultEndFrames
	}

	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: speech threshold %v out of range [0, 1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy: silence threshold %v must be in [0, speech threshold %v]",
			cfg.SilenceThreshold, cfg.SpeechThreshold)
	}

	return &session{cfg: cfg}, nil
}

var errClosed = errors.New("energy: session is closed")

// session holds the hysteresis state for one audio stream. Not safe for
// concurrent use; the pipeline goroutine that owns the stream drives it.
type session struct {
	cfg vad.Config

	inSpeech     bool
	speechCount  int
	silenceCount int
	closed       bool
}

// Process classifies one frame and advances the hysteresis state machine.
func (s *session) Process(frame []float32) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, errClosed
	}

	level := rms(frame)
	ev := vad.Event{Probability: probability(level, s.cfg.SpeechThreshold)}

	if s.inSpeech {
		ev.Type = vad.SpeechContinue
		if level < s.cfg.SilenceThreshold {
			s.silenceCount++
			s.speechCount = 0
			if s.silenceCount >= s.cfg.EndFrames {
				s.inSpeech = false
				s.silenceCount = 0
				ev.Type = vad.SpeechEnd
			}
		} else {
			s.silenceCount = 0
		}
		return ev, nil
	}

	ev.Type = vad.Silence
	if level >= s.cfg.SpeechThreshold {
		s.speechCount++
		s.silenceCount = 0
		if s.speechCount >= s.cfg.StartFrames {
			s.inSpeech = true
			s.speechCount = 0
			ev.Type = vad.SpeechStart
		}
	} else {
		s.speechCount = 0
	}
	return ev, nil
}

// Active reports the latest frame classification.
func (s *session) Active() bool { return s.inSpeech }

// Reset clears hysteresis state without closing the session.
func (s *session) Reset() {
	s.inSpeech = false
	s.speechCount = 0
	s.silenceCount = 0
}

// Close marks the session unusable. Safe to call repeatedly.
func (s *session) Close() error {
	s.closed = true
	return nil
}

// rms computes the root-mean-square amplitude of a float32 frame.
func rms(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, v := range frame {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// probability maps an RMS level to a rough speech score in [0, 1] relative to
// the speech threshold. Purely informational; the hysteresis logic decides.
func probability(level, threshold float64) float64 {
	if threshold <= 0 {
		return 0
	}
	p := level / (threshold * 2)
	if p > 1 {
		p = 1
	}
	return p
}
