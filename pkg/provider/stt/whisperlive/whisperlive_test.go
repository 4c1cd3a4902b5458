package whisperlive_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/mkarols/notula/pkg/provider/stt"
	"github.com/mkarols/notula/pkg/provider/stt/whisperlive"
)

// inboundFrame records one frame received by the test backend.
type inboundFrame struct {
	typ  websocket.MessageType
	data []byte
}

// backend is a minimal WhisperLive-shaped test server. Every accepted
// connection forwards its inbound frames to the frames channel and writes
// whatever the test pushes into send.
type backend struct {
	srv      *httptest.Server
	frames   chan inboundFrame
	send     chan []byte
	conns    chan *websocket.Conn
	accepted atomic.Int32
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{
		frames: make(chan inboundFrame, 64),
		send:   make(chan []byte, 16),
		conns:  make(chan *websocket.Conn, 4),
	}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		b.accepted.Add(1)
		b.conns <- conn
		ctx := r.Context()

		go func() {
			for payload := range b.send {
				if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
					return
				}
			}
		}()

		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			b.frames <- inboundFrame{typ: typ, data: data}
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

// nextFrame waits for one inbound frame at the backend.
func (b *backend) nextFrame(t *testing.T) inboundFrame {
	t.Helper()
	select {
	case f := <-b.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame at the backend")
		return inboundFrame{}
	}
}

func newClient(t *testing.T, b *backend) *whisperlive.Client {
	t.Helper()
	c, err := whisperlive.NewClient(whisperlive.Config{
		URL:      b.url(),
		Language: "en",
		Task:     "transcribe",
		Model:    "small",
		UseVAD:   true,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_HandshakeSentOncePerConnection(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	c := newClient(t, b)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// Second connect while live must be a no-op.
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("idempotent Connect: %v", err)
	}

	f := b.nextFrame(t)
	if f.typ != websocket.MessageText {
		t.Fatalf("first frame type = %v, want text handshake", f.typ)
	}
	var hs map[string]any
	if err := json.Unmarshal(f.data, &hs); err != nil {
		t.Fatalf("handshake is not JSON: %v", err)
	}
	for _, key := range []string{"uid", "language", "task", "model", "use_vad", "max_connection_time"} {
		if _, ok := hs[key]; !ok {
			t.Errorf("handshake missing %q field: %s", key, f.data)
		}
	}
	if hs["uid"] != c.UID() {
		t.Errorf("handshake uid = %v, want %v", hs["uid"], c.UID())
	}

	// Send some audio and verify no second handshake precedes it.
	if err := c.SendAudio([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	f = b.nextFrame(t)
	if f.typ != websocket.MessageBinary {
		t.Fatalf("frame after handshake = %v %q, want binary audio (duplicate handshake?)", f.typ, f.data)
	}
	if got := b.accepted.Load(); got != 1 {
		t.Fatalf("backend accepted %d connections, want 1", got)
	}
}

func TestClient_SendAudioWhenDisconnected(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	c := newClient(t, b)

	if err := c.SendAudio([]byte{1, 2}); err == nil {
		t.Fatal("SendAudio before Connect succeeded, want ErrNotConnected")
	}
	if err := c.EndAudio(); err == nil {
		t.Fatal("EndAudio before Connect succeeded, want ErrNotConnected")
	}
}

func TestClient_EndAudioSendsSentinel(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	c := newClient(t, b)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	b.nextFrame(t) // handshake

	if err := c.EndAudio(); err != nil {
		t.Fatalf("EndAudio: %v", err)
	}
	f := b.nextFrame(t)
	if f.typ != websocket.MessageBinary || string(f.data) != "END_OF_AUDIO" {
		t.Fatalf("sentinel frame = %v %q, want binary END_OF_AUDIO", f.typ, f.data)
	}
}

func TestClient_CloseSendsNotificationAndIsIdempotent(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	c := newClient(t, b)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	b.nextFrame(t) // handshake

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	f := b.nextFrame(t)
	var note map[string]string
	if err := json.Unmarshal(f.data, &note); err != nil || note["type"] != "close" {
		t.Fatalf("close notification = %q, want {\"type\":\"close\",...}", f.data)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if c.State() != whisperlive.Disconnected {
		t.Fatalf("state after Close = %v, want disconnected", c.State())
	}
	if _, ok := <-c.Messages(); ok {
		t.Fatal("Messages channel still open after Close")
	}
}

func TestClient_ServerDropTerminatesClient(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	c := newClient(t, b)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	b.nextFrame(t) // handshake

	// The server drops the session without the client calling Close.
	conn := <-b.conns
	_ = conn.Close(websocket.StatusGoingAway, "restarting")

	select {
	case _, ok := <-c.Messages():
		if ok {
			t.Fatal("got a message after the server dropped the session")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Messages channel still open after server drop")
	}
	if c.State() != whisperlive.Disconnected {
		t.Fatalf("state after drop = %v, want disconnected", c.State())
	}
	if err := c.Connect(context.Background()); !errors.Is(err, whisperlive.ErrClosed) {
		t.Fatalf("Connect after drop = %v, want ErrClosed", err)
	}
}

func TestClient_ConnectAfterCloseFails(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	c := newClient(t, b)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Connect(context.Background()); !errors.Is(err, whisperlive.ErrClosed) {
		t.Fatalf("Connect after Close = %v, want ErrClosed", err)
	}
}

func TestClient_ParsesSegmentMessages(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	c := newClient(t, b)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Malformed and status messages must be dropped without killing the
	// session; the segment message that follows must still arrive.
	b.send <- []byte(`{not json`)
	b.send <- []byte(`{"uid":"x","message":"SERVER_READY"}`)
	b.send <- []byte(`{"uid":"x","segments":[` +
		`{"text":"hello","completed":true,"confidence":0.92},` +
		`{"text":"wor","completed":false}]}`)

	var msg stt.Message
	select {
	case msg = <-c.Messages():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a parsed message")
	}

	if len(msg.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(msg.Segments))
	}
	if msg.Segments[0].Text != "hello" || !msg.Segments[0].Completed || msg.Segments[0].Confidence != 0.92 {
		t.Errorf("segment 0 = %+v, want completed hello @0.92", msg.Segments[0])
	}
	if msg.Segments[1].Text != "wor" || msg.Segments[1].Completed {
		t.Errorf("segment 1 = %+v, want interim wor", msg.Segments[1])
	}
}

func TestClient_ParsesFlatTranscriptionShape(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	c := newClient(t, b)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	b.send <- []byte(`{"type":"transcription","text":"flat shape text"}`)

	select {
	case msg := <-c.Messages():
		if len(msg.Segments) != 1 {
			t.Fatalf("got %d segments, want 1", len(msg.Segments))
		}
		if s := msg.Segments[0]; s.Text != "flat shape text" || !s.Completed {
			t.Fatalf("segment = %+v, want completed flat shape text", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flat-shape message")
	}
}

func TestClient_DisconnectNotificationOnlyAfterConnected(t *testing.T) {
	t.Parallel()

	var disconnects atomic.Int32
	c, err := whisperlive.NewClient(whisperlive.Config{
		URL:         "ws://127.0.0.1:1", // nothing listens here
		DialTimeout: 500 * time.Millisecond,
		OnDisconnect: func(code int, reason string) {
			disconnects.Add(1)
		},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("Connect to dead endpoint succeeded, want error")
	}
	if got := disconnects.Load(); got != 0 {
		t.Fatalf("dial failure fired %d disconnect notifications, want 0 (reported synchronously instead)", got)
	}
	if c.State() != whisperlive.Disconnected {
		t.Fatalf("state after failed dial = %v, want disconnected", c.State())
	}
}

func TestProvider_StartStream(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	p, err := whisperlive.New(b.url(), whisperlive.WithModel("large-v3"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sess, err := p.StartStream(context.Background(), stt.StreamConfig{
		SampleRate: 16000,
		Language:   "de",
		UseVAD:     true,
	})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer sess.Close()

	f := b.nextFrame(t)
	var hs map[string]any
	if err := json.Unmarshal(f.data, &hs); err != nil {
		t.Fatalf("handshake is not JSON: %v", err)
	}
	if hs["language"] != "de" {
		t.Errorf("handshake language = %v, want de (stream config wins)", hs["language"])
	}
	if hs["model"] != "large-v3" {
		t.Errorf("handshake model = %v, want large-v3 (provider default)", hs["model"])
	}
}
