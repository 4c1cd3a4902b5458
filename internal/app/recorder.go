package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mkarols/notula/internal/observe"
	"github.com/mkarols/notula/internal/segment"
	"github.com/mkarols/notula/internal/transcript"
	"github.com/mkarols/notula/pkg/audio/capture"
	"github.com/mkarols/notula/pkg/provider/stt"
	"github.com/mkarols/notula/pkg/provider/vad"
)

// ErrAlreadyRecording is returned by Start while a session is live.
var ErrAlreadyRecording = errors.New("app: recording already in progress")

// ErrBackendDisconnected reports that the transcription backend dropped the
// session mid-recording. The recording is forced off; audio buffered but not
// yet sent is discarded.
var ErrBackendDisconnected = errors.New("app: transcription backend disconnected")

// endAudioGrace is how long the end-of-audio sentinel is given to produce
// late finalizations before the session is torn down.
const endAudioGrace = 200 * time.Millisecond

// RecorderConfig assembles the pieces of one recording pipeline.
type RecorderConfig struct {
	// Source provides microphone audio.
	Source capture.Source

	// STT opens streaming transcription sessions.
	STT stt.Provider

	// VAD gates which audio reaches the backend.
	VAD vad.Engine

	// Log receives reconciled transcript updates.
	Log *transcript.Log

	// Capture describes the audio stream to request from Source.
	Capture capture.Config

	// FrameDuration is the capture frame length. Zero selects 10 ms.
	FrameDuration time.Duration

	// Segment tunes the speech segmentation state machine.
	Segment segment.Config

	// Stream configures each transcription session. SampleRate is filled in
	// from Segment.TargetRate.
	Stream stt.StreamConfig

	// OnSegment, when non-nil, is invoked from the message consumer goroutine
	// for every newly finalized transcript segment, in append order.
	OnSegment func(transcript.Segment)

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Recorder manages the lifecycle of a single live recording: capture source,
// frame loop, segmenter, transcription session, and reconciler. At most one
// recording is active at a time; a mid-recording backend disconnect forces
// the recording off.
type Recorder struct {
	cfg        RecorderConfig
	reconciler *transcript.Reconciler
	metrics    *observe.Metrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// NewRecorder validates cfg and returns a stopped Recorder.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Source == nil {
		return nil, errors.New("app: capture source must not be nil")
	}
	if cfg.STT == nil {
		return nil, errors.New("app: stt provider must not be nil")
	}
	if cfg.VAD == nil {
		return nil, errors.New("app: vad engine must not be nil")
	}
	if cfg.Log == nil {
		return nil, errors.New("app: transcript log must not be nil")
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Recorder{
		cfg:        cfg,
		reconciler: transcript.NewReconciler(cfg.Log),
		metrics:    m,
	}, nil
}

// Running reports whether a recording session is currently live.
func (r *Recorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start acquires the capture device, opens a transcription session, and spins
// up the pipeline goroutines. If any stage fails, resources acquired so far
// are released before the error is reported.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyRecording
	}

	runCtx, cancel := context.WithCancel(ctx)

	capSess, err := r.cfg.Source.Start(runCtx, r.cfg.Capture)
	if err != nil {
		cancel()
		return fmt.Errorf("app: start capture: %w", err)
	}

	streamCfg := r.cfg.Stream
	streamCfg.SampleRate = r.cfg.Segment.TargetRate
	if streamCfg.SampleRate == 0 {
		streamCfg.SampleRate = segment.DefaultTargetRate
	}
	sttSess, err := r.cfg.STT.StartStream(runCtx, streamCfg)
	if err != nil {
		_ = capSess.Stop()
		cancel()
		return fmt.Errorf("app: open transcription session: %w", err)
	}

	seg, err := segment.New(r.cfg.Segment, r.cfg.VAD, func(c segment.Chunk) error {
		if err := sttSess.SendAudio(c.PCM); err != nil {
			return err
		}
		r.metrics.RecordChunk(runCtx, c.Reason.String(), len(c.PCM))
		r.metrics.RecordFlush(runCtx, time.Since(c.At))
		return nil
	})
	if err == nil {
		err = seg.Start(captureRate(r.cfg.Capture))
	}
	if err != nil {
		_ = sttSess.Close()
		_ = capSess.Stop()
		cancel()
		return fmt.Errorf("app: start segmenter: %w", err)
	}

	r.reconciler.Reset()

	done := make(chan struct{})
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return r.captureLoop(gctx, capSess, seg) })
	g.Go(func() error { return r.consumeLoop(gctx, sttSess) })
	g.Go(func() error {
		// Unblock both loops when the group winds down. The end-of-audio
		// sentinel lets the backend flush buffered tail audio; late
		// finalizations are picked up by the consumer's drain before Close
		// shuts the message channel.
		<-gctx.Done()
		_ = capSess.Stop()
		if err := sttSess.EndAudio(); err == nil {
			time.Sleep(endAudioGrace)
		}
		_ = sttSess.Close()
		return nil
	})

	go func() {
		err := g.Wait()
		_ = seg.Stop()
		r.metrics.ActiveRecordings.Add(context.Background(), -1)
		r.mu.Lock()
		r.running = false
		r.lastErr = err
		r.mu.Unlock()
		if err != nil {
			slog.Error("recording stopped", "error", err)
		} else {
			slog.Info("recording stopped")
		}
		close(done)
	}()

	r.running = true
	r.cancel = cancel
	r.done = done
	r.metrics.ActiveRecordings.Add(runCtx, 1)
	slog.Info("recording started",
		"sample_rate", captureRate(r.cfg.Capture),
		"target_rate", streamCfg.SampleRate,
	)
	return nil
}

// Stop ends the live recording, waits for the pipeline to wind down, and
// returns the error that terminated it, if any. Stopping a stopped recorder
// is a no-op.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.running {
		err := r.lastErr
		r.lastErr = nil
		r.mu.Unlock()
		return err
	}
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.lastErr
	r.lastErr = nil
	return err
}

// captureLoop reads frames from the capture session and feeds the segmenter.
// It owns all segmenter state.
func (r *Recorder) captureLoop(ctx context.Context, sess capture.Session, seg *segment.Segmenter) error {
	fr, err := capture.NewFrameReader(sess, captureRate(r.cfg.Capture), r.cfg.FrameDuration)
	if err != nil {
		return fmt.Errorf("app: frame reader: %w", err)
	}
	for {
		frame, err := fr.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("app: read capture frame: %w", err)
		}
		if err := seg.Process(frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("app: process frame: %w", err)
		}
	}
}

// consumeLoop drains backend messages into the reconciler. A closed message
// channel while the recording is still supposed to be live is a disconnect,
// which forces the recording off. On shutdown it keeps applying messages
// until the session closes the channel, so finalizations produced by the
// end-of-audio sentinel still land in the transcript.
func (r *Recorder) consumeLoop(ctx context.Context, sess stt.SessionHandle) error {
	for {
		select {
		case msg, ok := <-sess.Messages():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				r.metrics.RecordDisconnect(ctx)
				return ErrBackendDisconnected
			}
			r.applyMessage(ctx, msg)
		case <-ctx.Done():
			for msg := range sess.Messages() {
				r.applyMessage(ctx, msg)
			}
			return nil
		}
	}
}

// applyMessage feeds one backend message through the reconciler and notifies
// OnSegment for every segment it finalized.
func (r *Recorder) applyMessage(ctx context.Context, msg stt.Message) {
	r.metrics.RecordSTTMessage(ctx, "ok")
	before := r.cfg.Log.Len()
	r.reconciler.Apply(msg)
	if after := r.cfg.Log.Len(); after > before {
		for _, s := range r.cfg.Log.Segments()[before:after] {
			r.metrics.RecordSegment(ctx)
			if r.cfg.OnSegment != nil {
				r.cfg.OnSegment(s)
			}
		}
	}
}

func captureRate(cfg capture.Config) int {
	if cfg.SampleRate > 0 {
		return cfg.SampleRate
	}
	return 48000
}
