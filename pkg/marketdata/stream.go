package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Print is a single live price observation from the streaming feed.
type Print struct {
	Security  string    `json:"security"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// PrintHandler receives live prints as they arrive.
type PrintHandler func(Print)

// StreamClient subscribes to the platform's live price feed over
// websocket. It feeds the intraday monitor; the daily computation path
// never depends on it.
type StreamClient struct {
	url       string
	apiKey    string
	conn      *websocket.Conn
	mu        sync.Mutex
	connected bool
	handler   PrintHandler
	logger    *logrus.Logger
}

type wsEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type wsSubscribe struct {
	Type       string   `json:"type"`
	Securities []string `json:"securities"`
	APIKey     string   `json:"api_key"`
}

func NewStreamClient(url, apiKey string, logger *logrus.Logger) *StreamClient {
	return &StreamClient{url: url, apiKey: apiKey, logger: logger}
}

// OnPrint registers the handler invoked for every live print.
func (s *StreamClient) OnPrint(h PrintHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *StreamClient) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to price feed: %w", err)
	}

	s.conn = conn
	s.connected = true

	go s.readLoop(ctx)
	go s.keepAlive(ctx)

	return nil
}

// Subscribe requests live prints for the given securities.
func (s *StreamClient) Subscribe(securities []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return fmt.Errorf("price feed not connected")
	}

	return s.conn.WriteJSON(wsSubscribe{
		Type:       "subscribe",
		Securities: securities,
		APIKey:     s.apiKey,
	})
}

func (s *StreamClient) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}
	s.connected = false
	return s.conn.Close()
}

func (s *StreamClient) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			connected := s.connected
			s.mu.Unlock()
			if connected {
				s.logger.WithError(err).Warn("Price feed read failed, closing stream")
				s.Close()
			}
			return
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.WithError(err).Debug("Skipping malformed feed message")
			continue
		}
		if env.Type != "print" {
			continue
		}

		var p Print
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.logger.WithError(err).Debug("Skipping malformed print payload")
			continue
		}

		s.mu.Lock()
		handler := s.handler
		s.mu.Unlock()
		if handler != nil {
			handler(p)
		}
	}
}

func (s *StreamClient) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if !s.connected {
				s.mu.Unlock()
				return
			}
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			s.mu.Unlock()
			if err != nil {
				s.logger.WithError(err).Debug("Price feed ping failed")
			}
		}
	}
}
