package genesys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// SocketClient maintains the persistent Genesys notification websocket.
//
// Behavior:
// - Dials with a bearer token; a dial failure before the first successful open
//   is returned to the caller (Connect surfaces initial-auth failures).
// - On open it immediately starts a heartbeat ping ticker and sends one
//   subscription message for the configured topics.
// - On an unexpected close it runs exactly one reconnect loop: an immediate
//   redial, then fixed-delay retries until one succeeds or the client is
//   closed. A second close while the loop runs schedules nothing.
// - Inbound frames are parsed and handed to the frame handler only when they
//   carry both a topic name and an event body; malformed frames are logged
//   and dropped.
// - Asynchronous failures go to the error callback, never into a caller stack.

type SocketConfig struct {
	URL   string
	Token string

	Topics []string

	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration

	// Dial is overridable for tests; defaults to gorilla's DefaultDialer.
	Dial func(ctx context.Context, url string, header http.Header) (socketConn, error)
}

// socketConn is the subset of *websocket.Conn the client uses.
type socketConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

var errSocketClosed = errors.New("genesys socket: client closed")

type frame struct {
	TopicName string          `json:"topicName"`
	EventBody json.RawMessage `json:"eventBody"`
}

type subscribeMessage struct {
	Message string   `json:"message"`
	Topics  []string `json:"topics"`
}

type SocketClient struct {
	cfg     SocketConfig
	log     *slog.Logger
	onFrame func(topic string, body json.RawMessage)
	onError func(err error)

	mu               sync.Mutex
	conn             socketConn
	closed           bool
	reconnectPending bool
	heartbeatStop    chan struct{}
}

func NewSocketClient(cfg SocketConfig, log *slog.Logger, onFrame func(topic string, body json.RawMessage), onError func(err error)) *SocketClient {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 25 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.Dial == nil {
		cfg.Dial = defaultDial
	}
	if log == nil {
		log = slog.Default()
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &SocketClient{cfg: cfg, log: log, onFrame: onFrame, onError: onError}
}

func defaultDial(ctx context.Context, url string, header http.Header) (socketConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Connect dials the socket, subscribes and starts the read/heartbeat loops.
// The initial dial error is returned; later failures reconnect in the
// background and surface through the error callback.
func (s *SocketClient) Connect(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.cfg.Token)

	conn, err := s.cfg.Dial(ctx, s.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("genesys socket dial: %w", err)
	}

	sub, _ := json.Marshal(subscribeMessage{Message: "subscribe", Topics: s.cfg.Topics})
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		_ = conn.Close()
		return fmt.Errorf("genesys socket subscribe: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return errSocketClosed
	}
	s.conn = conn
	stop := make(chan struct{})
	s.heartbeatStop = stop
	s.mu.Unlock()

	go s.heartbeatLoop(conn, stop)
	go s.readLoop(conn, stop)

	s.log.Info("genesys socket connected", "topics", len(s.cfg.Topics))
	return nil
}

// Close tears the socket down for good; no reconnect is scheduled afterwards.
// Safe to call repeatedly.
func (s *SocketClient) Close() {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	stop := s.heartbeatStop
	s.heartbeatStop = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

func (s *SocketClient) heartbeatLoop(conn socketConn, stop chan struct{}) {
	t := time.NewTicker(s.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			// Detects half-open connections; a write failure wakes the read
			// loop via the closed conn.
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				s.log.Warn("genesys socket heartbeat failed", "err", err)
				_ = conn.Close()
				return
			}
		}
	}
}

func (s *SocketClient) readLoop(conn socketConn, stop chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stop:
				// Deliberate Close; do not reconnect.
				return
			default:
			}
			s.log.Warn("genesys socket closed", "err", err)
			s.scheduleReconnect()
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.log.Warn("genesys socket: malformed frame dropped", "err", err)
			continue
		}
		if f.TopicName == "" || len(f.EventBody) == 0 {
			// Heartbeat echoes and subscription acks arrive without a body.
			continue
		}
		s.onFrame(f.TopicName, f.EventBody)
	}
}

// scheduleReconnect starts at most one reconnect loop. The guard prevents
// reconnect storms when close and error events arrive together.
func (s *SocketClient) scheduleReconnect() {
	s.mu.Lock()
	if s.closed || s.reconnectPending {
		s.mu.Unlock()
		return
	}
	s.reconnectPending = true
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
	s.conn = nil
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.reconnectPending = false
			s.mu.Unlock()
		}()

		// Fixed delay, not exponential: reconnects stay bounded and predictable.
		// The pending flag holds for the whole retry loop, so concurrent close
		// and error events never stack a second loop.
		policy := backoff.NewConstantBackOff(s.cfg.ReconnectDelay)
		_ = backoff.Retry(func() error {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return backoff.Permanent(errSocketClosed)
			}
			if err := s.Connect(context.Background()); err != nil {
				s.onError(err)
				return err
			}
			return nil
		}, policy)
	}()
}

// ReconnectPending reports whether a reconnect attempt is scheduled. Exposed
// for the adapter's status reporting and for tests.
func (s *SocketClient) ReconnectPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnectPending
}
