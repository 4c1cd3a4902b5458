// Package app wires the notula pipeline together: capture, segmentation,
// streaming transcription, transcript reconciliation, suggestion scheduling,
// optional persistence, and the HTTP sidecar.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mkarols/notula/internal/config"
	"github.com/mkarols/notula/internal/observe"
	"github.com/mkarols/notula/internal/resilience"
	"github.com/mkarols/notula/internal/segment"
	"github.com/mkarols/notula/internal/server"
	"github.com/mkarols/notula/internal/store"
	"github.com/mkarols/notula/internal/store/postgres"
	"github.com/mkarols/notula/internal/suggest"
	"github.com/mkarols/notula/internal/transcript"
	"github.com/mkarols/notula/pkg/audio/capture"
	"github.com/mkarols/notula/pkg/provider/embeddings"
	"github.com/mkarols/notula/pkg/provider/llm"
	"github.com/mkarols/notula/pkg/provider/stt"
	"github.com/mkarols/notula/pkg/provider/vad"
)

// defaultEmbeddingDimensions matches OpenAI text-embedding-3-small.
const defaultEmbeddingDimensions = 1536

// Deps bundles the runtime dependencies of an [App]. [BuildDeps] assembles
// them from configuration and a provider registry; tests inject mocks
// directly.
type Deps struct {
	Source   capture.Source
	STT      stt.Provider
	VAD      vad.Engine
	LLM      llm.Provider        // nil disables suggestions
	Embedder embeddings.Provider // nil disables semantic recall
	Store    store.Store         // nil disables persistence
	Metrics  *observe.Metrics    // nil selects observe.DefaultMetrics
}

// BuildDeps instantiates providers named in cfg through reg, wrapping STT and
// LLM in failover groups when fallbacks are configured.
func BuildDeps(ctx context.Context, cfg *config.Config, reg *config.Registry) (Deps, error) {
	var deps Deps

	backend := cfg.Capture.Backend
	if backend == "" {
		backend = "ffmpeg"
	}
	source, err := reg.CreateCapture(backend, cfg.Capture)
	if err != nil {
		return Deps{}, fmt.Errorf("app: capture source: %w", err)
	}
	deps.Source = source

	sttPrimary, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return Deps{}, fmt.Errorf("app: stt provider: %w", err)
	}
	deps.STT = sttPrimary
	if len(cfg.Providers.STTFallbacks) > 0 {
		fb := resilience.NewSTTFallback(sttPrimary, cfg.Providers.STT.Name, resilience.FallbackConfig{})
		for _, entry := range cfg.Providers.STTFallbacks {
			p, err := reg.CreateSTT(entry)
			if err != nil {
				return Deps{}, fmt.Errorf("app: stt fallback %q: %w", entry.Name, err)
			}
			fb.AddFallback(entry.Name, p)
		}
		deps.STT = fb
	}

	vadEntry := cfg.Providers.VAD
	if vadEntry.Name == "" {
		vadEntry.Name = "energy"
	}
	engine, err := reg.CreateVAD(vadEntry)
	if err != nil {
		return Deps{}, fmt.Errorf("app: vad engine: %w", err)
	}
	deps.VAD = engine

	if cfg.Providers.LLM.Name != "" {
		primary, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return Deps{}, fmt.Errorf("app: llm provider: %w", err)
		}
		deps.LLM = primary
		if len(cfg.Providers.LLMFallbacks) > 0 {
			fb := resilience.NewLLMFallback(primary, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
			for _, entry := range cfg.Providers.LLMFallbacks {
				p, err := reg.CreateLLM(entry)
				if err != nil {
					return Deps{}, fmt.Errorf("app: llm fallback %q: %w", entry.Name, err)
				}
				fb.AddFallback(entry.Name, p)
			}
			deps.LLM = fb
		}
	}

	if cfg.Providers.Embeddings.Name != "" {
		emb, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return Deps{}, fmt.Errorf("app: embeddings provider: %w", err)
		}
		deps.Embedder = emb
	}

	if cfg.Store.PostgresDSN != "" {
		dims := cfg.Store.EmbeddingDimensions
		if dims <= 0 {
			if deps.Embedder != nil {
				dims = deps.Embedder.Dimensions()
			} else {
				dims = defaultEmbeddingDimensions
			}
		}
		st, err := postgres.New(ctx, cfg.Store.PostgresDSN, dims)
		if err != nil {
			return Deps{}, fmt.Errorf("app: meeting store: %w", err)
		}
		deps.Store = st
	}

	return deps, nil
}

// App is the assembled notula service: one recorder, one transcript, and the
// supporting machinery around them.
type App struct {
	cfg       *config.Config
	deps      Deps
	metrics   *observe.Metrics
	log       *transcript.Log
	recorder  *Recorder
	scheduler *suggest.Scheduler
	srv       *server.Server

	meetingID string
	meeting   store.Meeting
	persistCh chan transcript.Segment
}

// New assembles an App from cfg and deps. Source, STT, and VAD are required;
// the rest of deps is optional.
func New(cfg *config.Config, deps Deps) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	a := &App{
		cfg:       cfg,
		deps:      deps,
		metrics:   metrics,
		log:       transcript.NewLog(),
		meetingID: uuid.NewString(),
	}
	if deps.Store != nil {
		a.persistCh = make(chan transcript.Segment, 64)
	}

	p := cfg.Pipeline
	recCfg := RecorderConfig{
		Source: deps.Source,
		STT:    deps.STT,
		VAD:    deps.VAD,
		Log:    a.log,
		Capture: capture.Config{
			SampleRate: cfg.Capture.SampleRate,
			Format:     cfg.Capture.Format,
			Device:     cfg.Capture.Device,
		},
		FrameDuration: time.Duration(cfg.Capture.FrameMs) * time.Millisecond,
		Segment: segment.Config{
			TargetRate:    p.TargetSampleRate,
			Lookback:      time.Duration(p.LookbackMs) * time.Millisecond,
			ConfirmWindow: time.Duration(p.ConfirmWindowMs) * time.Millisecond,
			BatchWindow:   time.Duration(p.BatchWindowMs) * time.Millisecond,
			VAD: vad.Config{
				SpeechThreshold:  p.SpeechThreshold,
				SilenceThreshold: p.SilenceThreshold,
				StartFrames:      p.StartFrames,
				EndFrames:        p.EndFrames,
			},
		},
		Stream:  streamConfig(cfg.Providers.STT),
		Metrics: metrics,
	}
	if deps.Store != nil {
		recCfg.OnSegment = a.enqueueSegment
	}

	rec, err := NewRecorder(recCfg)
	if err != nil {
		return nil, err
	}
	a.recorder = rec

	if deps.LLM != nil {
		sched, err := suggest.NewScheduler(suggest.Config{
			Interval:         time.Duration(cfg.Suggest.IntervalSec) * time.Second,
			SummaryInterval:  time.Duration(cfg.Suggest.SummaryIntervalSec) * time.Second,
			MinNewWords:      cfg.Suggest.MinNewWords,
			SuggestionPrompt: cfg.Suggest.SuggestionPrompt,
			SummaryPrompt:    cfg.Suggest.SummaryPrompt,
			MaxTokens:        cfg.Suggest.MaxTokens,
			Metrics:          metrics,
		}, a.log, deps.LLM)
		if err != nil {
			return nil, err
		}
		a.scheduler = sched
	}

	if cfg.Server.ListenAddr != "" {
		var probes []server.Probe
		if pinger, ok := deps.Store.(interface{ Ping(context.Context) error }); ok {
			probes = append(probes, server.Probe{Name: "store", Check: pinger.Ping})
		}
		a.srv = server.New(cfg.Server.ListenAddr, metrics, probes...)
	}

	return a, nil
}

// streamConfig maps the STT provider entry onto a session configuration.
// SampleRate is filled in by the recorder from the segmenter target rate.
func streamConfig(entry config.ProviderEntry) stt.StreamConfig {
	cfg := stt.StreamConfig{
		Model: entry.Model,
		Task:  "transcribe",
	}
	if v, ok := entry.Options["language"].(string); ok {
		cfg.Language = v
	}
	if v, ok := entry.Options["task"].(string); ok {
		cfg.Task = v
	}
	if v, ok := entry.Options["use_vad"].(bool); ok {
		cfg.UseVAD = v
	}
	return cfg
}

// Transcript exposes the live transcript log, e.g. for export on shutdown.
func (a *App) Transcript() *transcript.Log { return a.log }

// MeetingID returns the identifier under which this run's segments are
// persisted.
func (a *App) MeetingID() string { return a.meetingID }

// Recorder exposes the recording lifecycle manager.
func (a *App) Recorder() *Recorder { return a.recorder }

// Run starts every configured component and the recording itself, then
// blocks until ctx is cancelled or a component fails fatally. A mid-recording
// backend disconnect turns the recording off but keeps the service running.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if a.srv != nil {
		g.Go(func() error { return a.srv.Run(gctx) })
	}
	if a.scheduler != nil {
		g.Go(func() error { return a.scheduler.Run(gctx) })
		g.Go(func() error {
			for s := range a.scheduler.Suggestions() {
				slog.Info("assistant output", "kind", s.Kind, "text", s.Text)
			}
			return nil
		})
	}
	if a.deps.Store != nil {
		started := time.Now()
		a.meeting = store.Meeting{
			ID:        a.meetingID,
			Title:     "Meeting " + started.Format("2006-01-02 15:04"),
			StartedAt: started,
		}
		if err := a.deps.Store.SaveMeeting(gctx, a.meeting); err != nil {
			return fmt.Errorf("app: save meeting: %w", err)
		}
		g.Go(func() error { return a.persistLoop(gctx) })
	}

	if err := a.recorder.Start(gctx); err != nil {
		// Wind down the already-started components before reporting.
		cancel()
		_ = g.Wait()
		return err
	}

	<-gctx.Done()
	if err := a.recorder.Stop(); err != nil && !errors.Is(err, ErrBackendDisconnected) {
		slog.Error("recorder shutdown", "error", err)
	}

	err := g.Wait()
	a.finalizeMeeting()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// enqueueSegment hands a finalized segment to the persistence worker without
// blocking the reconciler. Overflow drops the segment with a warning.
func (a *App) enqueueSegment(seg transcript.Segment) {
	select {
	case a.persistCh <- seg:
	default:
		slog.Warn("persistence queue full, dropping segment", "segment_id", seg.ID)
	}
}

// persistLoop embeds and stores finalized segments in append order.
func (a *App) persistLoop(ctx context.Context) error {
	for {
		select {
		case seg := <-a.persistCh:
			a.persistSegment(ctx, seg)
		case <-ctx.Done():
			return nil
		}
	}
}

func (a *App) persistSegment(ctx context.Context, seg transcript.Segment) {
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rec := store.Segment{
		ID:         seg.ID,
		MeetingID:  a.meetingID,
		Text:       seg.Text,
		CreatedAt:  seg.CreatedAt,
		Confidence: seg.Confidence,
	}
	if a.deps.Embedder != nil {
		vec, err := a.deps.Embedder.Embed(pctx, seg.Text)
		if err != nil {
			slog.Warn("embedding failed, storing segment without vector",
				"segment_id", seg.ID, "error", err)
		} else {
			rec.Embedding = vec
		}
	}
	if err := a.deps.Store.AppendSegment(pctx, rec); err != nil {
		slog.Warn("segment persistence failed", "segment_id", seg.ID, "error", err)
	}
}

// finalizeMeeting stamps the meeting's end time. Uses a fresh context because
// the run context is already cancelled during shutdown.
func (a *App) finalizeMeeting() {
	if a.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	meeting := a.meeting
	meeting.EndedAt = time.Now()
	if err := a.deps.Store.SaveMeeting(ctx, meeting); err != nil {
		slog.Warn("meeting finalization failed", "meeting_id", a.meetingID, "error", err)
	}
}
