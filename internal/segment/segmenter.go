// Package segment implements the real-time speech-segmentation pipeline that
// sits between the microphone capture loop and the transcription backend.
//
// The Segmenter consumes raw audio frames at the device's native sample rate,
// feeds every frame into a pre-speech ring buffer, gates forwarding on a VAD
// session, and assembles transmission chunks in two phases:
//
//  1. Onset: a speech-start edge opens a confirmation window. Frames arriving
//     during the window accumulate in a temp buffer. When the window elapses
//     with speech still active, the ring-buffer lookback snapshot taken at
//     the edge is flushed together with the temp buffer — recovering the
//     utterance onset that precedes VAD confirmation. When speech ends before
//     the window elapses, the same flush happens immediately and the window
//     is cancelled.
//  2. Post-delay: after confirmation, frames accumulate in a batch buffer
//     that is flushed when it reaches the batch window worth of audio or when
//     the batch window has elapsed since the last flush, whichever comes
//     first. A speech-end edge flushes whatever remains so the utterance
//     tail is never stranded.
//
// Each flush is resampled from the native rate to the configured target rate
// and encoded as 16-bit little-endian PCM before being handed to the sink.
// Chunks reach the sink in strict capture order.
//
// A Segmenter is owned by a single goroutine — the capture loop driving
// Process — and is not safe for concurrent use. Time is read through an
// injectable clock so the window and batch deadlines are deterministic under
// test.
package segment

import (
	"errors"
	"fmt"
	"time"

	"github.com/mkarols/notula/pkg/audio"
	"github.com/mkarols/notula/pkg/provider/vad"
)

const (
	// DefaultLookback is the pre-speech ring buffer length.
	DefaultLookback = 3 * time.Second

	// DefaultConfirmWindow is the delay between a speech-start edge and the
	// onset flush, during which the detection must hold.
	DefaultConfirmWindow = 500 * time.Millisecond

	// DefaultBatchWindow is both the post-delay buffer size threshold and the
	// maximum interval between post-delay flushes.
	DefaultBatchWindow = 600 * time.Millisecond

	// DefaultTargetRate is the transmission sample rate expected by common
	// STT backends.
	DefaultTargetRate = 16000
)

// ErrNotStarted is returned by Process when the segmenter has not been
// started or has been stopped.
var ErrNotStarted = errors.New("segment: not started")

// FlushReason records which trigger produced a chunk.
type FlushReason int

const (
	// FlushOnset is the confirmation flush: lookback plus confirmation-window
	// audio.
	FlushOnset FlushReason = iota

	// FlushBatch is a post-delay flush triggered by accumulated duration.
	FlushBatch

	// FlushInterval is a post-delay flush triggered by elapsed wall-clock
	// time since the previous flush.
	FlushInterval

	// FlushTail is the final flush at a speech-end edge.
	FlushTail
)

// String returns the reason name used in logs and metric attributes.
func (r FlushReason) String() string {
	switch r {
	case FlushOnset:
		return "onset"
	case FlushBatch:
		return "batch"
	case FlushInterval:
		return "interval"
	case FlushTail:
		return "tail"
	default:
		return "unknown"
	}
}

// Chunk is a transmission-ready block of encoded audio. Ownership transfers
// to the sink on delivery; the segmenter never reuses it.
type Chunk struct {
	// PCM is 16-bit little-endian mono audio at the target rate.
	PCM []byte

	// Reason records the flush trigger.
	Reason FlushReason

	// At is the flush time per the segmenter's clock.
	At time.Time
}

// Sink receives flushed chunks. A non-nil error aborts the Process call that
// produced the chunk, which lets the capture loop react to a dead backend.
type Sink func(Chunk) error

// Config holds the tunable parameters of a Segmenter. The zero value selects
// all defaults.
type Config struct {
	// TargetRate is the outbound sample rate. Default 16000.
	TargetRate int

	// Lookback is the pre-speech ring buffer duration. Default 3 s.
	Lookback time.Duration

	// ConfirmWindow is the onset confirmation delay. Default 500 ms.
	ConfirmWindow time.Duration

	// BatchWindow is the post-delay size/interval threshold. Default 600 ms.
	BatchWindow time.Duration

	// VAD configures the detector session; SampleRate is filled in from the
	// native rate passed to Start.
	VAD vad.Config

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

func (c *Config) applyDefaults() {
	if c.TargetRate <= 0 {
		c.TargetRate = DefaultTargetRate
	}
	if c.Lookback <= 0 {
		c.Lookback = DefaultLookback
	}
	if c.ConfirmWindow <= 0 {
		c.ConfirmWindow = DefaultConfirmWindow
	}
	if c.BatchWindow <= 0 {
		c.BatchWindow = DefaultBatchWindow
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// episode is the per-utterance state between a speech-start edge and the
// matching speech-end. The generation counter guards against a stale
// confirmation deadline acting on a newer episode after rapid stop/start.
type episode struct {
	gen            uint64
	confirmPending bool
	confirmAt      time.Time // deadline for the onset flush
	lookback       []float32 // ring snapshot taken at the start edge
	temp           []float32 // frames during the confirmation window
	post           []float32 // frames after confirmation, pre-flush
	lastFlush      time.Time
}

// Segmenter is the capture-pipeline state machine. Construct one per
// recording session; it must not be shared across sessions (no hidden global
// state survives Stop).
type Segmenter struct {
	cfg    Config
	engine vad.Engine
	sink   Sink

	started    bool
	nativeRate int
	ring       *audio.RingBuffer
	vadSession vad.Session

	ep     *episode
	epGen  uint64
	stream time.Duration // total audio consumed, for diagnostics
}

// New creates a Segmenter that classifies frames with sessions from engine
// and delivers chunks to sink.
func New(cfg Config, engine vad.Engine, sink Sink) (*Segmenter, error) {
	if engine == nil {
		return nil, errors.New("segment: vad engine must not be nil")
	}
	if sink == nil {
		return nil, errors.New("segment: sink must not be nil")
	}
	cfg.applyDefaults()
	return &Segmenter{cfg: cfg, engine: engine, sink: sink}, nil
}

// Start initializes the ring buffer at the device's native sample rate and
// opens a VAD session. A VAD initialization failure propagates to the caller
// with no partial state left behind. Start on a running segmenter is an
// error; Stop first.
func (s *Segmenter) Start(nativeRate int) error {
	if s.started {
		return errors.New("segment: already started")
	}
	if nativeRate <= 0 {
		return fmt.Errorf("segment: invalid native sample rate %d", nativeRate)
	}

	vadCfg := s.cfg.VAD
	vadCfg.SampleRate = nativeRate
	session, err := s.engine.NewSession(vadCfg)
	if err != nil {
		return fmt.Errorf("segment: init vad: %w", err)
	}

	s.nativeRate = nativeRate
	s.ring = audio.NewRingBuffer(nativeRate, s.cfg.Lookback)
	s.vadSession = session
	s.ep = nil
	s.stream = 0
	s.started = true
	return nil
}

// Process handles one captured frame. It copies what it needs from the frame
// before returning; callers may reuse the backing array.
//
// Per-frame behavior: the frame is always appended to the ring buffer, then
// classified. Forwarding toward the sink happens only while speech is active,
// via the onset or post-delay path described in the package documentation.
func (s *Segmenter) Process(frame audio.Frame) error {
	if !s.started {
		return ErrNotStarted
	}
	now := s.cfg.Clock()
	s.stream += frame.Duration()

	// Lookback is always fed, regardless of speech state.
	s.ring.Append(frame.Samples)

	ev, err := s.vadSession.Process(frame.Samples)
	if err != nil {
		return fmt.Errorf("segment: vad: %w", err)
	}

	switch ev.Type {
	case vad.SpeechStart:
		// The edge frame itself is already covered by the lookback snapshot.
		s.beginEpisode(now)
		return nil
	case vad.SpeechEnd:
		return s.endEpisode(now)
	}

	if !s.vadSession.Active() || s.ep == nil {
		return nil
	}

	ep := s.ep
	if ep.confirmPending {
		if now.Before(ep.confirmAt) {
			ep.temp = append(ep.temp, frame.Samples...)
			return nil
		}
		// Window elapsed with speech still active: onset flush, then the
		// current frame opens the post-delay phase.
		if err := s.confirm(now); err != nil {
			return err
		}
		ep.post = append(ep.post, frame.Samples...)
		return nil
	}

	ep.post = append(ep.post, frame.Samples...)
	return s.maybeFlushPost(now)
}

// beginEpisode resets episode state at a speech-start edge: fresh buffers,
// cleared last-flush time, and a new confirmation deadline. Any leftover
// state from an improperly closed previous episode is discarded.
func (s *Segmenter) beginEpisode(now time.Time) {
	s.epGen++
	s.ep = &episode{
		gen:       s.epGen,
		confirmAt: now.Add(s.cfg.ConfirmWindow),

		confirmPending: true,
		lookback:       s.ring.Read(),
	}
}

// confirm performs the onset flush — lookback snapshot plus everything that
// accumulated during the confirmation window — and switches the episode into
// its post-delay phase.
func (s *Segmenter) confirm(now time.Time) error {
	ep := s.ep
	ep.confirmPending = false

	combined := make([]float32, 0, len(ep.lookback)+len(ep.temp))
	combined = append(combined, ep.lookback...)
	combined = append(combined, ep.temp...)
	ep.lookback = nil
	ep.temp = nil
	ep.lastFlush = now

	return s.flush(combined, FlushOnset, now)
}

// maybeFlushPost applies the two post-delay triggers. They are mutually
// exclusive per flush: the size path wins when both are due.
func (s *Segmenter) maybeFlushPost(now time.Time) error {
	ep := s.ep
	threshold := int(int64(s.nativeRate) * int64(s.cfg.BatchWindow) / int64(time.Second))

	switch {
	case len(ep.post) >= threshold:
		return s.flushPost(FlushBatch, now)
	case now.Sub(ep.lastFlush) >= s.cfg.BatchWindow && len(ep.post) > 0:
		return s.flushPost(FlushInterval, now)
	}
	return nil
}

// flushPost drains the post-delay buffer through the sink and records the
// flush time.
func (s *Segmenter) flushPost(reason FlushReason, now time.Time) error {
	ep := s.ep
	samples := ep.post
	ep.post = nil
	ep.lastFlush = now
	return s.flush(samples, reason, now)
}

// endEpisode handles a speech-end edge. A still-pending confirmation window
// is cancelled and its flush performed immediately with whatever the temp
// buffer holds; otherwise any residual post-delay audio is flushed so the
// utterance tail is never stranded.
func (s *Segmenter) endEpisode(now time.Time) error {
	ep := s.ep
	if ep == nil {
		return nil
	}
	defer func() { s.ep = nil }()

	if ep.confirmPending {
		return s.confirm(now)
	}
	if len(ep.post) > 0 {
		return s.flushPost(FlushTail, now)
	}
	return nil
}

// flush resamples, encodes, and delivers one chunk. Empty input is a no-op.
func (s *Segmenter) flush(samples []float32, reason FlushReason, now time.Time) error {
	if len(samples) == 0 {
		return nil
	}
	resampled := audio.Resample(samples, s.nativeRate, s.cfg.TargetRate)
	pcm := audio.EncodePCM16(resampled)
	if len(pcm) == 0 {
		return nil
	}
	return s.sink(Chunk{PCM: pcm, Reason: reason, At: now})
}

// Active reports whether the VAD currently classifies the stream as speech.
func (s *Segmenter) Active() bool {
	return s.started && s.vadSession.Active()
}

// Stop tears the pipeline down and resets all buffer state to the
// pre-Start condition so a subsequent Start is not contaminated: the pending
// confirmation window is cancelled (its deadline can never act on a later
// episode thanks to the generation counter), the VAD session is closed, and
// the ring, episode buffers, and detected native rate are cleared.
func (s *Segmenter) Stop() error {
	if !s.started {
		return nil
	}
	s.started = false
	s.ep = nil

	var err error
	if s.vadSession != nil {
		err = s.vadSession.Close()
		s.vadSession = nil
	}
	s.ring = nil
	s.nativeRate = 0
	s.stream = 0
	return err
}
