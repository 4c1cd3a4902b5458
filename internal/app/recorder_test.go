package app_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/mkarols/notula/internal/app"
	"github.com/mkarols/notula/internal/observe"
	"github.com/mkarols/notula/internal/segment"
	"github.com/mkarols/notula/internal/transcript"
	"github.com/mkarols/notula/pkg/audio/capture"
	capturemock "github.com/mkarols/notula/pkg/audio/capture/mock"
	"github.com/mkarols/notula/pkg/provider/stt"
	sttmock "github.com/mkarols/notula/pkg/provider/stt/mock"
	"github.com/mkarols/notula/pkg/provider/stt/whisperlive"
	"github.com/mkarols/notula/pkg/provider/vad"
	"github.com/mkarols/notula/pkg/provider/vad/energy"
	vadmock "github.com/mkarols/notula/pkg/provider/vad/mock"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

// speechSamples builds a 16 kHz stream: leading silence, a burst of loud
// frames, trailing silence long enough to trip the end-of-speech hysteresis.
func speechSamples() []float32 {
	const frame = 160 // 10 ms at 16 kHz
	var out []float32
	out = append(out, make([]float32, 5*frame)...)
	for range 10 * frame {
		out = append(out, 0.5)
	}
	out = append(out, make([]float32, 5*frame)...)
	return out
}

func testRecorderConfig(source capture.Source, provider stt.Provider, engine vad.Engine, log *transcript.Log) app.RecorderConfig {
	return app.RecorderConfig{
		Source:  source,
		STT:     provider,
		VAD:     engine,
		Log:     log,
		Capture: capture.Config{SampleRate: 16000},
		Segment: segment.Config{
			TargetRate: 16000,
			VAD: vad.Config{
				SpeechThreshold:  0.1,
				SilenceThreshold: 0.05,
				StartFrames:      2,
				EndFrames:        2,
			},
		},
	}
}

func TestRecorder_StartAndStop(t *testing.T) {
	t.Parallel()

	source := &capturemock.Source{Samples: make([]float32, 16000)}
	provider := &sttmock.Provider{}
	log := transcript.NewLog()

	rec, err := app.NewRecorder(testRecorderConfig(source, provider, &vadmock.Engine{}, log))
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !rec.Running() {
		t.Fatal("recorder not running after Start")
	}
	if err := rec.Start(context.Background()); !errors.Is(err, app.ErrAlreadyRecording) {
		t.Fatalf("second Start = %v, want ErrAlreadyRecording", err)
	}

	if err := rec.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.Running() {
		t.Fatal("recorder still running after Stop")
	}
	if !source.Last().Stopped() {
		t.Error("capture session not stopped")
	}
	if got := provider.Last().EndCount(); got != 1 {
		t.Errorf("end-of-audio signals sent = %d, want 1", got)
	}

	// Stopping again is a no-op.
	if err := rec.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestRecorder_PartialSetupFailureReleasesCapture(t *testing.T) {
	t.Parallel()

	source := &capturemock.Source{Samples: make([]float32, 1600)}
	provider := &sttmock.Provider{StartErr: errors.New("backend unreachable")}

	rec, err := app.NewRecorder(testRecorderConfig(source, provider, &vadmock.Engine{}, transcript.NewLog()))
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	if err := rec.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded with a dead backend")
	}
	if rec.Running() {
		t.Fatal("recorder running after failed Start")
	}
	if !source.Last().Stopped() {
		t.Error("capture session leaked after failed setup")
	}
}

func TestRecorder_SpeechReachesBackend(t *testing.T) {
	t.Parallel()

	source := &capturemock.Source{Samples: speechSamples()}
	provider := &sttmock.Provider{}

	rec, err := app.NewRecorder(testRecorderConfig(source, provider, energy.New(), transcript.NewLog()))
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rec.Stop()

	waitFor(t, 2*time.Second, func() bool {
		sess := provider.Last()
		return sess != nil && len(sess.Chunks()) > 0
	})

	chunks := provider.Last().Chunks()
	var total int
	for _, c := range chunks {
		total += len(c)
	}
	// The flushed audio covers at least the loud burst (1600 samples, 2 bytes
	// each at the target rate).
	if total < 1600*2 {
		t.Errorf("backend received %d bytes, want >= %d", total, 1600*2)
	}
}

func TestRecorder_MessagesUpdateTranscript(t *testing.T) {
	t.Parallel()

	source := &capturemock.Source{Samples: make([]float32, 1600)}
	provider := &sttmock.Provider{}
	log := transcript.NewLog()

	var notified []transcript.Segment
	cfg := testRecorderConfig(source, provider, &vadmock.Engine{}, log)
	cfg.OnSegment = func(s transcript.Segment) { notified = append(notified, s) }

	rec, err := app.NewRecorder(cfg)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rec.Stop()

	provider.Last().Push(stt.Message{Segments: []stt.Segment{
		{Text: "hello everyone", Completed: true, Confidence: 0.9},
		{Text: "let's get", Completed: false},
	}})

	waitFor(t, 2*time.Second, func() bool { return log.Len() == 1 })

	if got := log.Text(); got != "hello everyone" {
		t.Errorf("transcript = %q, want %q", got, "hello everyone")
	}
	if got := log.Interim(); got != "let's get" {
		t.Errorf("interim = %q, want %q", got, "let's get")
	}

	if err := rec.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(notified) != 1 || notified[0].Text != "hello everyone" {
		t.Errorf("OnSegment calls = %+v, want one for 'hello everyone'", notified)
	}
}

// histCount sums the data-point counts of the named float64 histogram.
func histCount(t *testing.T, reader *sdkmetric.ManualReader, name string) uint64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("%s is not a float64 histogram", name)
			}
			var n uint64
			for _, dp := range hist.DataPoints {
				n += dp.Count
			}
			return n
		}
	}
	return 0
}

func TestRecorder_RecordsFlushLatency(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	source := &capturemock.Source{Samples: speechSamples()}
	provider := &sttmock.Provider{}
	cfg := testRecorderConfig(source, provider, energy.New(), transcript.NewLog())
	cfg.Metrics = metrics

	rec, err := app.NewRecorder(cfg)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rec.Stop()

	waitFor(t, 2*time.Second, func() bool {
		sess := provider.Last()
		return sess != nil && len(sess.Chunks()) > 0
	})

	if got := histCount(t, reader, "notula.flush.duration"); got == 0 {
		t.Error("no flush latency recorded despite delivered chunks")
	}
}

func TestRecorder_DisconnectForcesRecordingOff(t *testing.T) {
	t.Parallel()

	source := &capturemock.Source{Samples: make([]float32, 1600)}
	provider := &sttmock.Provider{}

	rec, err := app.NewRecorder(testRecorderConfig(source, provider, &vadmock.Engine{}, transcript.NewLog()))
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Simulate the backend dropping the session.
	_ = provider.Last().Close()

	waitFor(t, 2*time.Second, func() bool { return !rec.Running() })

	if err := rec.Stop(); !errors.Is(err, app.ErrBackendDisconnected) {
		t.Fatalf("Stop = %v, want ErrBackendDisconnected", err)
	}
	if !source.Last().Stopped() {
		t.Error("capture session not released after disconnect")
	}
}

func TestRecorder_BackendDropForcesRecordingOff(t *testing.T) {
	t.Parallel()

	// A real socket backend that accepts one session and lets the test drop
	// it from the server side.
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	provider, err := whisperlive.New("ws" + strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	source := &capturemock.Source{Samples: make([]float32, 1600)}
	rec, err := app.NewRecorder(testRecorderConfig(source, provider, &vadmock.Engine{}, transcript.NewLog()))
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	conn := <-conns
	_ = conn.Close(websocket.StatusGoingAway, "backend restarting")

	waitFor(t, 2*time.Second, func() bool { return !rec.Running() })
	if err := rec.Stop(); !errors.Is(err, app.ErrBackendDisconnected) {
		t.Fatalf("Stop = %v, want ErrBackendDisconnected", err)
	}
	if !source.Last().Stopped() {
		t.Error("capture session not released after backend drop")
	}
}

func TestNewRecorder_RequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := app.NewRecorder(app.RecorderConfig{}); err == nil {
		t.Fatal("NewRecorder accepted empty config")
	}
}
