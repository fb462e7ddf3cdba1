package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"futures_go/internal/domain"
	"futures_go/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	streamHandshakeTimeout = 10 * time.Second
	streamPingInterval     = 30 * time.Second
	streamReadTimeout      = 90 * time.Second
)

// Stream is one websocket connection to the broker's quote feed. It is
// single-use: the feed client creates a fresh Stream per connect attempt
// and owns all reconnection policy.
type Stream struct {
	wsURL  string
	quotes chan<- *domain.Quote

	mu      sync.RWMutex
	writeMu sync.Mutex
	conn    *websocket.Conn

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// NewStream creates a stream publishing parsed quotes to the given channel.
func NewStream(wsURL string, quotes chan<- *domain.Quote) *Stream {
	return &Stream{
		wsURL:  wsURL,
		quotes: quotes,
		done:   make(chan struct{}),
	}
}

// Connect dials the feed for an authenticated session and starts the read
// and keepalive loops.
func (s *Stream) Connect(ctx context.Context, token, sessionID string) error {
	u, err := url.Parse(s.wsURL)
	if err != nil {
		return domain.NewFatalNetworkError("parse ws url", err)
	}
	q := u.Query()
	q.Set("sessionId", sessionID)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: streamHandshakeTimeout}

	header := make(http.Header)
	header.Set("User-Agent", infra.DefaultUserAgent)
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return domain.NewNetworkError("dial", err)
	}

	conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		return nil
	})

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.wg.Add(2)
	go s.readLoop(ctx)
	go s.pingLoop(ctx)

	return nil
}

// SendSubscribe sends the fallback in-band subscription message for the
// given contract codes over the open transport.
func (s *Stream) SendSubscribe(symbols []string) error {
	msg := map[string]any{
		"op":      "subscribe",
		"type":    "quote",
		"symbols": symbols,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, data)
}

func (s *Stream) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn == nil {
		return domain.ErrNotConnected
	}
	return conn.WriteMessage(messageType, data)
}

// Done is closed when the transport has terminated for any reason.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer s.signalDone()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("stream read error", slog.Any("error", err))
			}
			s.closeConn()
			return
		}

		s.handleMessage(message)
	}
}

func (s *Stream) handleMessage(message []byte) {
	quote, err := ParseQuote(message)
	if err != nil {
		// Non-quote frames (acks, heartbeats) land here.
		slog.Debug("stream message skipped", slog.Any("error", err))
		return
	}

	select {
	case s.quotes <- quote:
	default:
		slog.Warn("quote channel full, dropping update", slog.String("symbol", quote.Symbol))
		infra.GlobalMetrics.RecordError()
	}
}

func (s *Stream) pingLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Stream) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Stream) signalDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Close tears the transport down and waits for the loops to exit.
func (s *Stream) Close() {
	s.closeConn()
	s.signalDone()
	s.wg.Wait()
}
