package location

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketSource reads JSON fixes from a websocket provider, one fix per
// text message, same payload shape as the TCP line protocol.
type WebSocketSource struct {
	url    string
	retry  RetryConfig
	logger *logrus.Logger
}

// NewWebSocketSource creates a source reading from a ws:// or wss:// URL.
func NewWebSocketSource(url string, logger *logrus.Logger) *WebSocketSource {
	return &WebSocketSource{
		url:    url,
		retry:  DefaultRetryConfig(),
		logger: logger,
	}
}

// Run implements Source.
func (s *WebSocketSource) Run(ctx context.Context, fn Handler) error {
	for {
		var conn *websocket.Conn
		err := RetryWithBackoff(ctx, s.retry, func() error {
			dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
			c, _, err := dialer.DialContext(ctx, s.url, nil)
			if err != nil {
				s.logger.Warnf("websocket dial %s failed: %v", s.url, err)
				return err
			}
			conn = c
			return nil
		})
		if err != nil {
			return fmt.Errorf("websocket provider unreachable: %w", err)
		}

		s.logger.Infof("connected to websocket provider at %s", s.url)

		readErr := s.readLoop(ctx, conn, fn)
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warnf("websocket provider connection lost: %v", readErr)
	}
}

func (s *WebSocketSource) readLoop(ctx context.Context, conn *websocket.Conn, fn Handler) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		fix, err := DecodeFix(payload)
		if err != nil {
			s.logger.Debugf("skipping malformed fix message: %v", err)
			continue
		}
		fn(fix)
	}
}
