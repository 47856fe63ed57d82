// Package exchanges holds the long-lived websocket client for the upstream
// tick-level equity trade feed (spec.md §1 "a long-lived websocket"),
// adapted from the teacher's BinanceConnector: same dial/ping/reconnect
// shape, generalized from a Binance-specific combined-stream protocol to a
// feed-agnostic one since spec.md does not name a specific vendor.
package exchanges

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"marketfusion/pkg/events"
)

// TradeFeedConnector maintains a websocket connection to the trade feed and
// decodes inbound frames into events.Trade records.
type TradeFeedConnector struct {
	url    string
	logger *zap.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool

	tradeCh chan events.Trade
	errCh   chan error
	closeCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func NewTradeFeedConnector(url string, logger *zap.Logger) *TradeFeedConnector {
	ctx, cancel := context.WithCancel(context.Background())
	return &TradeFeedConnector{
		url:     url,
		logger:  logger,
		tradeCh: make(chan events.Trade, 20000),
		errCh:   make(chan error, 16),
		closeCh: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Connect dials the feed.
func (c *TradeFeedConnector) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
	headers := http.Header{}
	headers.Set("User-Agent", "marketfusion-priceingestor/1.0")

	conn, _, err := dialer.Dial(c.url, headers)
	if err != nil {
		return fmt.Errorf("dial trade feed: %w", err)
	}

	c.conn = conn
	c.connected = true
	c.conn.SetReadLimit(655350)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	c.logger.Info("connected to trade feed", zap.String("url", c.url))
	return nil
}

// Start connects and launches the read/ping loops.
func (c *TradeFeedConnector) Start() error {
	if err := c.Connect(); err != nil {
		return err
	}
	go c.readMessages()
	go c.pingLoop()
	return nil
}

func (c *TradeFeedConnector) readMessages() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
		close(c.closeCh)
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			c.errCh <- fmt.Errorf("trade feed read error: %w", err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		trade, ok := c.parseTrade(message)
		if !ok {
			continue
		}

		select {
		case c.tradeCh <- trade:
		default:
			c.logger.Warn("trade channel full, dropping message")
		}
	}
}

// parseTrade decodes a single wire frame into events.Trade. Frames carrying
// no recognizable trade fields are heartbeats and are forwarded as a
// zero-value Trade so the caller's IsHeartbeat check can drop them
// (cmd/priceingestor does so before publishing; spec.md §4.2 "not-a-trade
// messages").
func (c *TradeFeedConnector) parseTrade(message []byte) (events.Trade, bool) {
	var t events.Trade
	if err := json.Unmarshal(message, &t); err != nil {
		c.logger.Debug("could not decode trade frame", zap.Error(err))
		return events.Trade{}, false
	}
	return t, true
}

func (c *TradeFeedConnector) pingLoop() {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			if c.connected && c.conn != nil {
				if err := c.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
					c.logger.Warn("failed to send ping", zap.Error(err))
				}
			}
			c.mu.RUnlock()
		}
	}
}

// Trades returns the channel of decoded trades.
func (c *TradeFeedConnector) Trades() <-chan events.Trade { return c.tradeCh }

// Errors returns the channel of terminal connection errors.
func (c *TradeFeedConnector) Errors() <-chan error { return c.errCh }

// Closed is closed when the read loop exits.
func (c *TradeFeedConnector) Closed() <-chan struct{} { return c.closeCh }

// IsConnected reports the current connection state.
func (c *TradeFeedConnector) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Close tears down the connection.
func (c *TradeFeedConnector) Close() error {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	return nil
}
