package chatsync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures a RealtimeSource.
type RealtimeConfig struct {
	// URL is the websocket endpoint. http and https URLs are rewritten to
	// ws and wss.
	URL                  string
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int // zero means no limit
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	HandshakeTimeout     time.Duration
	HTTPClient           *http.Client // must not set Timeout; dials are bounded by ctx
	Logger               *slog.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// EventSink receives decoded events. *Client is the usual sink.
type EventSink interface {
	HandleEvent(ctx context.Context, e Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, e Event)

func (f EventSinkFunc) HandleEvent(ctx context.Context, e Event) { f(ctx, e) }

// ============================================================================
// Reconnector
// ============================================================================

// reconnector computes exponential backoff with jitter. The attempt count
// resets once a connection has stayed up for a minute.
type reconnector struct {
	mu          sync.Mutex
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() (time.Duration, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	r.connectedAt = time.Time{}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay, r.attempt
}

// ============================================================================
// RealtimeSource
// ============================================================================

// RealtimeSource reads events from the chat websocket and hands each one to
// a sink. The first frame of a connection must be a connection.connected
// event. Connection changes are reported to the sink as ConnectingEvent,
// ConnectedEvent and DisconnectedEvent, so a Client sink tracks them in its
// global state.
type RealtimeSource struct {
	config *RealtimeConfig
	sink   EventSink
	logger *slog.Logger
	recon  *reconnector

	mu               sync.Mutex
	state            ConnectionState
	conn             *websocket.Conn
	cancelFn         context.CancelFunc
	intentionalClose bool
}

func NewRealtimeSource(config RealtimeConfig, sink EventSink) *RealtimeSource {
	cfg := config
	cfg.defaults()
	return &RealtimeSource{
		config: &cfg,
		sink:   sink,
		logger: cfg.Logger,
		recon:  newReconnector(&cfg),
		state:  ConnectionOffline,
	}
}

func (s *RealtimeSource) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect dials and waits for the connected event. Events are then read in
// the background until Disconnect or until ctx is done.
func (s *RealtimeSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == ConnectionOnline || s.state == ConnectionConnecting {
		s.mu.Unlock()
		return nil
	}
	s.state = ConnectionConnecting
	s.intentionalClose = false
	s.mu.Unlock()

	s.emit(ctx, ConnectingEvent{EventBase: EventBase{CreatedAt: time.Now()}})

	conn, connected, err := s.handshake(ctx)
	if err != nil {
		s.setState(ConnectionOffline)
		s.emit(ctx, DisconnectedEvent{
			EventBase: EventBase{CreatedAt: time.Now()},
			Reason:    err.Error(),
		})
		return err
	}

	connCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.conn = conn
	s.state = ConnectionOnline
	s.cancelFn = cancel
	s.mu.Unlock()
	s.recon.markConnected()

	s.emit(ctx, connected)
	s.logger.Info("realtime connected", "connection_id", connected.ConnectionID)

	go s.readLoop(connCtx, conn)
	go s.heartbeatLoop(connCtx, conn)
	return nil
}

func (s *RealtimeSource) handshake(ctx context.Context) (*websocket.Conn, ConnectedEvent, error) {
	wsURL, err := s.endpoint()
	if err != nil {
		return nil, ConnectedEvent{}, err
	}
	header := http.Header{}
	if s.config.Token != "" {
		header.Set("Authorization", "Bearer "+s.config.Token)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: s.config.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, ConnectedEvent{}, fmt.Errorf("websocket dial: %w", err)
	}

	readCtx, cancel := context.WithTimeout(ctx, s.config.HandshakeTimeout)
	defer cancel()
	_, data, err := conn.Read(readCtx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, ConnectedEvent{}, fmt.Errorf("read connected event: %w", err)
	}
	e, err := DecodeEvent(data)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, ConnectedEvent{}, err
	}
	connected, ok := e.(ConnectedEvent)
	if !ok {
		conn.Close(websocket.StatusPolicyViolation, "expected connection.connected")
		return nil, ConnectedEvent{}, fmt.Errorf("expected %q, got %q", EventConnected, e.Type())
	}
	return conn, connected, nil
}

func (s *RealtimeSource) endpoint() (string, error) {
	u, err := url.Parse(s.config.URL)
	if err != nil {
		return "", fmt.Errorf("invalid realtime url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid realtime url %q: unsupported scheme", s.config.URL)
	}
	if s.config.Token != "" {
		q := u.Query()
		q.Set("token", s.config.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Disconnect closes the connection without reconnecting.
func (s *RealtimeSource) Disconnect() error {
	s.mu.Lock()
	s.intentionalClose = true
	cancel := s.cancelFn
	s.cancelFn = nil
	conn := s.conn
	s.conn = nil
	s.state = ConnectionOffline
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if cancel != nil {
		cancel()
	}
	s.emit(context.Background(), DisconnectedEvent{
		EventBase: EventBase{CreatedAt: time.Now()},
		Reason:    "client disconnect",
	})
	return err
}

func (s *RealtimeSource) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			intentional := s.intentionalClose
			if !intentional {
				s.state = ConnectionOffline
				s.conn = nil
			}
			s.mu.Unlock()
			if intentional {
				return
			}

			s.logger.Warn("realtime connection lost", "err", err)
			s.emit(context.WithoutCancel(ctx), DisconnectedEvent{
				EventBase: EventBase{CreatedAt: time.Now()},
				Reason:    err.Error(),
			})
			if s.config.AutoReconnect && ctx.Err() == nil {
				s.reconnect(ctx)
			}
			return
		}

		e, err := DecodeEvent(data)
		if err != nil {
			s.logger.Warn("dropping undecodable event", "err", err)
			continue
		}
		s.emit(ctx, e)
	}
}

func (s *RealtimeSource) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				}
				return
			}
		}
	}
}

func (s *RealtimeSource) reconnect(ctx context.Context) {
	for s.recon.shouldReconnect() {
		delay, attempt := s.recon.nextDelay()
		s.logger.Info("realtime reconnecting", "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.mu.Lock()
		stopped := s.intentionalClose
		s.mu.Unlock()
		if stopped {
			return
		}

		err := s.Connect(ctx)
		if err == nil {
			return
		}
		s.logger.Warn("realtime reconnect failed", "attempt", attempt, "err", err)
	}
	s.setState(ConnectionOffline)
	s.logger.Error("realtime reconnect attempts exhausted")
}

func (s *RealtimeSource) setState(state ConnectionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *RealtimeSource) emit(ctx context.Context, e Event) {
	if s.sink != nil {
		s.sink.HandleEvent(ctx, e)
	}
}

// RealtimeURL derives the websocket endpoint from a REST base URL.
func RealtimeURL(baseURL string) string {
	base := strings.Replace(baseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return strings.TrimRight(base, "/") + "/ws"
}
