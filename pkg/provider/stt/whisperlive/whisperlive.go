// Package whisperlive provides an STT provider speaking the WhisperLive
// socket protocol. It implements the stt.Provider interface.
//
// Protocol summary:
//
//   - On open the client sends a one-time JSON configuration message
//     {uid, language, task, model, use_vad, max_connection_time}.
//   - Audio is transmitted as raw binary frames of 16-bit little-endian PCM
//     mono samples at the configured sample rate.
//   - End-of-utterance is signalled by a distinguished binary sentinel
//     ("END_OF_AUDIO"). The sentinel carries no framing that distinguishes it
//     from an identical-looking audio payload; the ambiguity is a property of
//     the wire protocol, inherited as-is.
//   - Inbound messages are JSON text frames: either a segment list
//     {segments: [{text, completed, confidence}]} or a flat fallback
//     {type: "transcription", text}. Binary inbound frames are accepted and
//     ignored. Malformed or unrecognised messages are logged and dropped,
//     never terminating the session.
//
// The client keeps no outbound queue: chunks in flight when the connection
// drops are lost. Callers that need gapless coverage across reconnects must
// open a new Client and layer their own replay buffer on top.
package whisperlive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/mkarols/notula/pkg/provider/stt"
)

const (
	defaultDialTimeout       = 10 * time.Second
	defaultMaxConnectionTime = 600 * time.Second
	defaultTask              = "transcribe"
	defaultModel             = "small"
	defaultLanguage          = "en"

	// endOfAudioSentinel is the application-level end-of-stream marker,
	// encoded as a binary frame by backend-side convention.
	endOfAudioSentinel = "END_OF_AUDIO"

	writeTimeout = 5 * time.Second
)

// ErrNotConnected is returned by SendAudio and EndAudio when the client has
// no live connection.
var ErrNotConnected = errors.New("whisperlive: not connected")

// ErrClosed is returned by Connect once the client's session has ended, by
// Close or by the server dropping the connection. A closed client cannot be
// reused; open a new one.
var ErrClosed = errors.New("whisperlive: client closed")

// State is the connection lifecycle state of a Client.
type State int

const (
	// Disconnected means no socket is open.
	Disconnected State = iota

	// Connecting means a dial is in progress.
	Connecting

	// Connected means the socket is open and the session is live.
	Connected
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config holds the connection parameters for a Client.
type Config struct {
	// URL is the websocket endpoint, e.g. "wss://stt.example.com:9090".
	URL string

	// Language, Task, Model and UseVAD are forwarded in the initial
	// configuration message. Empty values select package defaults.
	Language string
	Task     string
	Model    string
	UseVAD   bool

	// MaxConnectionTime caps the server-side session length. Zero selects the
	// 600 s default.
	MaxConnectionTime time.Duration

	// DialTimeout bounds connection establishment. Zero selects 10 s.
	DialTimeout time.Duration

	// OnConnect is invoked once each time the client reaches Connected.
	OnConnect func()

	// OnDisconnect is invoked with the close code and reason when a
	// previously Connected session ends. It is not invoked for dial failures,
	// which are reported synchronously by Connect — a failure during
	// Connecting never double-reports through both paths.
	OnDisconnect func(code int, reason string)

	// OnError is invoked for steady-state transport errors that have no
	// synchronous caller (e.g. a write failure detected by the read loop).
	// A close event must not be assumed to follow.
	OnError func(err error)
}

// Client is one session with a WhisperLive backend. It implements
// stt.SessionHandle. A failed dial may be retried, but once a session has
// ended — through Close or a server-initiated disconnect — the Messages
// channel is closed, the client is terminal, and Connect returns ErrClosed;
// reconnecting means creating a new Client. The uid is generated once at
// construction and identifies the client for its lifetime (a best-effort
// correlation token, not an enforced uniqueness guarantee).
//
// All exported methods are safe for concurrent use.
type Client struct {
	cfg Config
	uid string

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	configSent bool
	readCancel context.CancelFunc
	closed     bool

	msgs      chan stt.Message
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient creates a Client for the given endpoint. The client starts
// Disconnected; call Connect before streaming audio.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("whisperlive: URL must not be empty")
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	if cfg.Task == "" {
		cfg.Task = defaultTask
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxConnectionTime <= 0 {
		cfg.MaxConnectionTime = defaultMaxConnectionTime
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	return &Client{
		cfg:  cfg,
		uid:  uuid.NewString(),
		msgs: make(chan stt.Message, 64),
	}, nil
}

// UID returns the client identifier sent in the configuration handshake.
func (c *Client) UID() string { return c.uid }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// configMessage is the one-time outbound handshake payload.
type configMessage struct {
	UID               string `json:"uid"`
	Language          string `json:"language"`
	Task              string `json:"task"`
	Model             string `json:"model"`
	UseVAD            bool   `json:"use_vad"`
	MaxConnectionTime int    `json:"max_connection_time"`
}

// Connect establishes the socket session. It is idempotent: when the client
// is already Connecting or Connected it returns nil immediately without
// opening a second socket or re-sending the configuration handshake. Once
// the session has ended it returns ErrClosed.
//
// The dial is bounded by the configured DialTimeout; on timeout the attempt
// is abandoned and an error returned.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != Disconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = Connecting
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, nil)
	if err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		return fmt.Errorf("whisperlive: dial %s: %w", c.cfg.URL, err)
	}
	// Inbound audio transcripts can be large for long utterances.
	conn.SetReadLimit(1 << 22)

	readCtx, readCancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.state = Connected
	c.configSent = false
	c.readCancel = readCancel
	c.mu.Unlock()

	if err := c.ensureConfigSent(); err != nil {
		readCancel()
		conn.Close(websocket.StatusInternalError, "handshake failed")
		c.mu.Lock()
		c.conn = nil
		c.state = Disconnected
		c.mu.Unlock()
		return fmt.Errorf("whisperlive: send config: %w", err)
	}

	c.wg.Add(1)
	go c.readLoop(readCtx, conn)

	if c.cfg.OnConnect != nil {
		c.cfg.OnConnect()
	}
	return nil
}

// ensureConfigSent sends the initial configuration message exactly once per
// connection. Safe to call from multiple paths; the configSent flag is the
// idempotence guard.
func (c *Client) ensureConfigSent() error {
	c.mu.Lock()
	conn := c.conn
	sent := c.configSent
	if conn != nil && !sent {
		c.configSent = true
	}
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	if sent {
		return nil
	}

	payload, err := json.Marshal(configMessage{
		UID:               c.uid,
		Language:          c.cfg.Language,
		Task:              c.cfg.Task,
		Model:             c.cfg.Model,
		UseVAD:            c.cfg.UseVAD,
		MaxConnectionTime: int(c.cfg.MaxConnectionTime / time.Second),
	})
	if err != nil {
		return err
	}
	return c.write(conn, websocket.MessageText, payload)
}

// SendAudio transmits a binary audio chunk. If the configuration handshake
// has not gone out yet — audio can be ready before the open notification
// lands — it is sent first. Returns ErrNotConnected when the client is not
// Connected.
func (c *Client) SendAudio(chunk []byte) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}
	if err := c.ensureConfigSent(); err != nil {
		return err
	}
	if err := c.write(conn, websocket.MessageBinary, chunk); err != nil {
		return fmt.Errorf("whisperlive: send audio: %w", err)
	}
	return nil
}

// EndAudio sends the end-of-stream sentinel so the backend flushes and
// finalizes pending audio. Returns ErrNotConnected when not connected.
func (c *Client) EndAudio() error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}
	if err := c.write(conn, websocket.MessageBinary, []byte(endOfAudioSentinel)); err != nil {
		return fmt.Errorf("whisperlive: send end-of-audio: %w", err)
	}
	return nil
}

// closeNotification is the optional polite outbound close payload.
type closeNotification struct {
	Type string `json:"type"`
	UID  string `json:"uid"`
}

// Close sends a polite close notification, closes the socket with a normal
// closure code, and clears local connection state. Idempotent — calling it
// when already closed is a no-op. The Messages channel is closed once the
// read loop has drained; the client is terminal afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	readCancel := c.readCancel
	c.conn = nil
	c.state = Disconnected
	c.configSent = false
	c.readCancel = nil
	c.closed = true
	c.mu.Unlock()

	if conn != nil {
		if payload, err := json.Marshal(closeNotification{Type: "close", UID: c.uid}); err == nil {
			_ = c.write(conn, websocket.MessageText, payload)
		}
		_ = conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	if readCancel != nil {
		readCancel()
	}

	c.wg.Wait()
	c.closeOnce.Do(func() { close(c.msgs) })
	return nil
}

// Messages returns the inbound transcription message channel. Messages are
// delivered in socket order; the channel closes when the session ends,
// whether through Close or a server-initiated disconnect.
func (c *Client) Messages() <-chan stt.Message { return c.msgs }

// write performs a deadline-bounded websocket write.
func (c *Client) write(conn *websocket.Conn, typ websocket.MessageType, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return conn.Write(ctx, typ, payload)
}

// readLoop receives inbound frames until the connection ends, parsing JSON
// text frames into stt.Message values. It is the sole writer to the message
// channel for its connection.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			c.handleReadEnd(conn, err)
			return
		}
		if typ != websocket.MessageText {
			// Binary inbound frames are reserved; ignore.
			continue
		}
		msg, ok := parseInbound(data)
		if !ok {
			continue
		}
		select {
		case c.msgs <- msg:
		case <-ctx.Done():
			c.handleReadEnd(conn, ctx.Err())
			return
		}
	}
}

// handleReadEnd transitions to Disconnected after the read loop stops and
// fires the disconnect notification exactly once — and only if this
// connection had actually reached Connected. A server-initiated end closes
// the message channel so consumers see the session is over without having
// to call Close first.
func (c *Client) handleReadEnd(conn *websocket.Conn, err error) {
	c.mu.Lock()
	wasLive := c.conn == conn
	if wasLive {
		c.conn = nil
		c.state = Disconnected
		c.configSent = false
		c.readCancel = nil
		c.closed = true
	}
	c.mu.Unlock()

	if !wasLive {
		// Close already tore the state down; it closes the channel itself.
		return
	}

	code := int(websocket.CloseStatus(err))
	reason := ""
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		reason = ce.Reason
	}
	if code < 0 {
		// Not a close frame — a transport error with no close to follow.
		if c.cfg.OnError != nil && !errors.Is(err, context.Canceled) {
			c.cfg.OnError(err)
		}
		code = int(websocket.StatusAbnormalClosure)
	}
	if c.cfg.OnDisconnect != nil {
		c.cfg.OnDisconnect(code, reason)
	}

	// The read loop is this connection's sole sender, and it has returned.
	c.closeOnce.Do(func() { close(c.msgs) })
}

// inboundMessage is the superset of JSON shapes the backend may send.
type inboundMessage struct {
	UID      string           `json:"uid"`
	Status   string           `json:"status"`
	Note     json.RawMessage  `json:"message"` // string or number depending on status
	Type     string           `json:"type"`
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []inboundSegment `json:"segments"`
}

type inboundSegment struct {
	Text       string  `json:"text"`
	Completed  bool    `json:"completed"`
	Confidence float64 `json:"confidence"`
}

// parseInbound matches the two known transcription shapes and rejects
// everything else. Status and language-detection notices are informational
// and produce no message.
func parseInbound(data []byte) (stt.Message, bool) {
	var in inboundMessage
	if err := json.Unmarshal(data, &in); err != nil {
		slog.Warn("whisperlive: dropping malformed message", "err", err)
		return stt.Message{}, false
	}

	switch {
	case len(in.Segments) > 0:
		segs := make([]stt.Segment, 0, len(in.Segments))
		for _, s := range in.Segments {
			segs = append(segs, stt.Segment{
				Text:       s.Text,
				Completed:  s.Completed,
				Confidence: s.Confidence,
			})
		}
		return stt.Message{Segments: segs}, true

	case in.Type == "transcription" && in.Text != "":
		// Flat fallback shape: treat the text as a completed segment.
		return stt.Message{Segments: []stt.Segment{{Text: in.Text, Completed: true}}}, true

	case in.Status != "" || len(in.Note) > 0:
		// Server readiness / wait notices, e.g. {"message": "SERVER_READY"}.
		slog.Debug("whisperlive: server status", "status", in.Status, "message", string(in.Note))
		return stt.Message{}, false

	case in.Language != "":
		slog.Debug("whisperlive: detected language", "language", in.Language)
		return stt.Message{}, false

	default:
		slog.Warn("whisperlive: dropping unknown message shape", "payload", string(data))
		return stt.Message{}, false
	}
}

// ---- Provider ----------------------------------------------------------------

// Compile-time assertions.
var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*Client)(nil)
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithLanguage sets the default recognition language (e.g., "en").
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithTask sets the backend task, e.g. "transcribe" or "translate".
func WithTask(task string) Option {
	return func(p *Provider) { p.task = task }
}

// WithModel sets the backend model name (e.g., "small", "large-v3").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithDialTimeout overrides the 10 s connection timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(p *Provider) { p.dialTimeout = d }
}

// Provider implements stt.Provider by opening one Client per stream.
type Provider struct {
	url         string
	language    string
	task        string
	model       string
	dialTimeout time.Duration
}

// New creates a WhisperLive Provider for the given websocket endpoint.
func New(url string, opts ...Option) (*Provider, error) {
	if url == "" {
		return nil, errors.New("whisperlive: url must not be empty")
	}
	p := &Provider{url: url}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream connects a new Client configured from cfg. Provider-level
// defaults apply where cfg fields are empty.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	task := cfg.Task
	if task == "" {
		task = p.task
	}
	model := cfg.Model
	if model == "" {
		model = p.model
	}

	client, err := NewClient(Config{
		URL:               p.url,
		Language:          lang,
		Task:              task,
		Model:             model,
		UseVAD:            cfg.UseVAD,
		MaxConnectionTime: cfg.MaxConnectionTime,
		DialTimeout:       p.dialTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}
