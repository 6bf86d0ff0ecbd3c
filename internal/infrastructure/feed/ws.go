package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"stockwatch/internal/domain/interfaces"
)

// WSConfig holds the WebSocket transport settings. Symbols are subscribed
// one frame each right after the dial, provider style.
type WSConfig struct {
	URL     string
	Symbols []string
}

type subscribeFrame struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// WSFeed streams price frames over a WebSocket connection. Like the AMQP
// transport, the Updates channel closes when the connection dies.
type WSFeed struct {
	cfg    WSConfig
	logger *logrus.Entry

	mu        sync.Mutex
	conn      *websocket.Conn
	updates   chan interfaces.PriceUpdate
	connected bool
}

func NewWSFeed(cfg WSConfig, logger *logrus.Logger) (*WSFeed, error) {
	if cfg.URL == "" {
		return nil, errors.New("websocket url is required")
	}
	return &WSFeed{
		cfg:    cfg,
		logger: logger.WithField("component", "ws_feed"),
	}, nil
}

func (f *WSFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		return nil
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.cfg.URL, err)
	}
	for _, symbol := range f.cfg.Symbols {
		if err := conn.WriteJSON(subscribeFrame{Type: "subscribe", Symbol: symbol}); err != nil {
			conn.Close()
			return fmt.Errorf("subscribe %s: %w", symbol, err)
		}
	}

	f.conn = conn
	f.updates = make(chan interfaces.PriceUpdate, updateBuffer)
	f.connected = true

	go f.readLoop(ctx, conn, f.updates)
	f.logger.WithField("url", f.cfg.URL).Info("price feed connected")
	return nil
}

func (f *WSFeed) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil
	}
	f.connected = false
	if f.conn != nil {
		_ = f.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = f.conn.Close()
		f.conn = nil
	}
	return nil
}

func (f *WSFeed) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *WSFeed) Updates() <-chan interfaces.PriceUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates
}

func (f *WSFeed) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- interfaces.PriceUpdate) {
	defer func() {
		f.markDisconnected()
		close(out)
	}()
	for {
		_, body, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				f.logger.WithError(err).Warn("read failed, closing stream")
			}
			return
		}
		update, err := decodeUpdate(body)
		if err != nil {
			f.logger.WithError(err).Warn("dropping malformed frame")
			continue
		}
		select {
		case out <- update:
		case <-ctx.Done():
			return
		}
	}
}

func (f *WSFeed) markDisconnected() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}
