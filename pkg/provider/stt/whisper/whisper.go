// Package whisper provides a local whisper.cpp-backed STT provider using the
// CGO bindings. The whisper.cpp static library (libwhisper.a) and headers
// must be available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
//
// whisper.cpp is a batch engine, so the provider simulates streaming: it
// buffers incoming PCM, applies an energy-based silence detector to segment
// utterances, and runs inference on each committed utterance. Every inferred
// utterance is emitted as a message holding completed segments — the provider
// cannot produce true low-latency interim text. It exists so the pipeline can
// run fully offline with no socket backend.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/mkarols/notula/pkg/audio"
	"github.com/mkarols/notula/pkg/provider/stt"
)

const (
	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000

	// rmsSilenceThreshold is the RMS level (in 16-bit PCM units, max 32767)
	// below which buffered audio counts as silence.
	rmsSilenceThreshold = 300.0
)

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language code for transcription (e.g., "en", "de").
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSilenceThresholdMs sets the consecutive-silence duration (ms) that
// triggers a flush of the accumulated speech buffer to the model. Defaults to
// 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.silenceThresholdMs = ms }
}

// WithMaxBufferDurationMs sets the maximum buffered audio duration (ms)
// before a forced flush. Defaults to 10 000 ms.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) { p.maxBufferDurationMs = ms }
}

// Provider implements stt.Provider on top of the whisper.cpp Go bindings.
// The model is loaded once at construction and shared across all sessions.
type Provider struct {
	model    whisperlib.Model
	language string

	silenceThresholdMs  int
	maxBufferDurationMs int
}

// New loads the whisper.cpp model from modelPath. The caller must call Close
// when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Provider{
		model:               model,
		language:            defaultLanguage,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// StartStream opens a new transcription session. Each session creates its own
// whisper context per inference, so multiple sessions can run concurrently
// against the shared model.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}

	s := &session{
		model:               p.model,
		language:            lang,
		sampleRate:          sr,
		silenceThresholdMs:  p.silenceThresholdMs,
		maxBufferDurationMs: p.maxBufferDurationMs,

		audioCh: make(chan []byte, 256),
		flushCh: make(chan struct{}, 1),
		msgs:    make(chan stt.Message, 64),
		done:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.processLoop(ctx)

	return s, nil
}

// session is a live local transcription session. All mutable state driving
// silence detection and buffering is confined to the processLoop goroutine.
type session struct {
	model               whisperlib.Model
	language            string
	sampleRate          int
	silenceThresholdMs  int
	maxBufferDurationMs int

	audioCh chan []byte
	flushCh chan struct{}
	msgs    chan stt.Message

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a chunk of 16-bit little-endian PCM for buffering and
// silence analysis.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("whisper: session is closed")
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return errors.New("whisper: session is closed")
	}
}

// EndAudio forces a flush of all buffered speech audio through inference.
func (s *session) EndAudio() error {
	select {
	case <-s.done:
		return errors.New("whisper: session is closed")
	case s.flushCh <- struct{}{}:
	default:
		// A flush is already pending.
	}
	return nil
}

// Messages returns the channel of inferred transcription messages.
func (s *session) Messages() <-chan stt.Message { return s.msgs }

// Close terminates the session, flushing any pending speech audio first.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// processLoop is the single goroutine responsible for silence detection,
// buffering, and inference dispatch.
func (s *session) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.msgs)

	var (
		buffer    []byte
		hadSpeech bool
		silenceMs int
	)

	bytesPerMs := s.sampleRate * 2 / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32
	}
	maxBufferBytes := s.maxBufferDurationMs * bytesPerMs

	doFlush := func() {
		if len(buffer) == 0 || !hadSpeech {
			buffer = nil
			hadSpeech = false
			silenceMs = 0
			return
		}

		pcm := buffer
		buffer = nil
		hadSpeech = false
		silenceMs = 0

		text, err := s.infer(pcm)
		if err != nil {
			slog.Error("whisper inference failed", "err", err)
			return
		}
		if text == "" {
			return
		}
		select {
		case s.msgs <- stt.Message{Segments: []stt.Segment{{Text: text, Completed: true}}}:
		default:
			slog.Warn("whisper: dropping transcription, message channel full")
		}
	}

	for {
		select {
		case <-ctx.Done():
			doFlush()
			return
		case <-s.done:
			doFlush()
			return
		case <-s.flushCh:
			doFlush()

		case chunk := <-s.audioCh:
			level := pcmRMS(chunk)
			chunkMs := len(chunk) / bytesPerMs

			if level < rmsSilenceThreshold {
				if hadSpeech {
					silenceMs += chunkMs
					buffer = append(buffer, chunk...)
					if silenceMs >= s.silenceThresholdMs {
						doFlush()
					}
				}
			} else {
				hadSpeech = true
				silenceMs = 0
				buffer = append(buffer, chunk...)
				if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes {
					doFlush()
				}
			}
		}
	}
}

// infer runs whisper.cpp inference on buffered PCM using a fresh context.
// Contexts are not thread-safe, but the model can be shared.
func (s *session) infer(pcm []byte) (string, error) {
	samples := audio.DecodePCM16(pcm)

	wctx, err := s.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(s.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", s.language, "err", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// pcmRMS computes the RMS amplitude of 16-bit little-endian PCM in native
// 16-bit units.
func pcmRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

var _ stt.SessionHandle = (*session)(nil)
