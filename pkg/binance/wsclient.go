package binance

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"footprint/config"
	"footprint/internal/market"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// WSClient keeps one WebSocket connection to the market stream endpoint,
// re-subscribing its topics after every reconnect.
type WSClient struct {
	cfg    config.WSConfig
	dialer *websocket.Dialer
	logger *zap.Logger

	handler func([]byte)
	onState func(connected bool, err error)

	connMu  sync.Mutex // serialises Connect and Close
	mu      sync.Mutex // guards conn, topics, done and writes
	conn    *websocket.Conn
	topics  map[string]struct{}
	done    chan struct{}
	running bool

	reqID     atomic.Int64
	connected atomic.Bool
	wg        sync.WaitGroup
}

// NewWSClient creates a WebSocket client for the given stream endpoint.
func NewWSClient(cfg config.WSConfig, logger *zap.Logger) *WSClient {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 20 * time.Second
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = cfg.ReconnectDelay
	}
	return &WSClient{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		logger: logger,
		topics: make(map[string]struct{}),
	}
}

// SetMessageHandler sets the function to handle incoming messages.
// It is called from the read goroutine in arrival order and must not block.
func (c *WSClient) SetMessageHandler(h func([]byte)) {
	c.handler = h
}

// SetStateHandler sets a callback for connection state changes. Disconnects
// carry a TransportError.
func (c *WSClient) SetStateHandler(h func(connected bool, err error)) {
	c.onState = h
}

func (c *WSClient) IsConnected() bool {
	return c.connected.Load()
}

// Subscribe adds topics. They are sent immediately when connected and on every reconnect.
func (c *WSClient) Subscribe(topics ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var added []string
	for _, t := range topics {
		if _, ok := c.topics[t]; ok {
			continue
		}
		c.topics[t] = struct{}{}
		added = append(added, t)
	}
	if c.conn == nil || len(added) == 0 {
		return nil
	}
	return c.send("SUBSCRIBE", added)
}

// Unsubscribe removes topics.
func (c *WSClient) Unsubscribe(topics ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []string
	for _, t := range topics {
		if _, ok := c.topics[t]; !ok {
			continue
		}
		delete(c.topics, t)
		removed = append(removed, t)
	}
	if c.conn == nil || len(removed) == 0 {
		return nil
	}
	return c.send("UNSUBSCRIBE", removed)
}

// send writes a control request. c.mu must be held.
func (c *WSClient) send(method string, topics []string) error {
	req := StreamRequest{Method: method, Params: topics, ID: c.reqID.Add(1)}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout()))
	if err := c.conn.WriteJSON(req); err != nil {
		return market.TransportError(errors.Wrapf(err, "websocket %s failed", method))
	}
	return nil
}

func (c *WSClient) writeTimeout() time.Duration {
	if c.cfg.HandshakeTimeout > 0 {
		return c.cfg.HandshakeTimeout
	}
	return 10 * time.Second
}

func (c *WSClient) sortedTopics() []string {
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Connect establishes the WebSocket connection, subscribes the known topics
// and starts the listener and heartbeat goroutines. Calling Connect on a
// running client is a no-op. When the first dial fails the error is returned
// and the listener keeps redialing in the background until Close.
func (c *WSClient) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if running {
		return nil
	}

	conn, err := c.dial(ctx)
	if err != nil {
		c.logger.Error("Failed to connect to WebSocket, retrying in background", zap.String("url", c.cfg.URL), zap.Error(err))
		c.start(nil)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	if topics := c.sortedTopics(); len(topics) > 0 {
		if err := c.send("SUBSCRIBE", topics); err != nil {
			c.conn = nil
			c.mu.Unlock()
			_ = conn.Close()
			return err
		}
	}
	c.mu.Unlock()

	c.setConnected(true, nil)
	c.logger.Info("WebSocket connected", zap.String("url", c.cfg.URL))
	c.start(conn)
	return nil
}

// start marks the client running and launches the listener and heartbeat.
// A nil conn makes the listener redial first. c.connMu must be held.
func (c *WSClient) start(conn *websocket.Conn) {
	c.mu.Lock()
	c.done = make(chan struct{})
	c.running = true
	done := c.done
	c.mu.Unlock()

	c.wg.Add(2)
	go c.listen(conn, done)
	go c.heartbeat(done)
}

func (c *WSClient) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, market.TransportError(errors.Wrapf(err, "dial %s", c.cfg.URL))
	}
	return conn, nil
}

// Close stops the listener and heartbeat and closes the connection.
func (c *WSClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = conn.Close()
	}
	c.wg.Wait()
	c.setConnected(false, nil)
	return err
}

func (c *WSClient) setConnected(v bool, err error) {
	if c.connected.Swap(v) == v {
		return
	}
	if c.onState != nil {
		c.onState(v, err)
	}
}

func (c *WSClient) listen(conn *websocket.Conn, done <-chan struct{}) {
	defer c.wg.Done()

	for {
		if conn == nil {
			if conn = c.reconnect(done); conn == nil {
				return
			}
			c.setConnected(true, nil)
			c.logger.Info("Reconnected successfully")
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}

			c.logger.Error("WebSocket read error", zap.Error(err))
			c.setConnected(false, market.TransportError(errors.Wrap(err, "websocket read")))
			conn = nil
			continue
		}

		if c.handler != nil {
			c.handler(msg)
		}
	}
}

// reconnect retries with doubling delay until it succeeds or done is closed.
func (c *WSClient) reconnect(done <-chan struct{}) *websocket.Conn {
	delay := c.cfg.ReconnectDelay
	for {
		timer := time.NewTimer(delay)
		select {
		case <-done:
			timer.Stop()
			return nil
		case <-timer.C:
		}

		conn, err := c.reconnectAndResubscribe(done)
		if err == nil {
			return conn
		}
		c.logger.Warn("Retrying reconnect...", zap.Duration("delay", delay), zap.Error(err))

		delay *= 2
		if delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

func (c *WSClient) reconnectAndResubscribe(done <-chan struct{}) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout())
	defer cancel()

	newConn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-done:
		_ = newConn.Close()
		return nil, market.TransportError(errors.New("client closed"))
	default:
	}

	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = newConn

	if topics := c.sortedTopics(); len(topics) > 0 {
		if err := c.send("SUBSCRIBE", topics); err != nil {
			return nil, err
		}
	}
	return newConn, nil
}

// heartbeat sends a ping on a fixed interval regardless of traffic.
// Failures are logged; the read loop owns reconnects.
func (c *WSClient) heartbeat(done <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			continue
		}

		deadline := time.Now().Add(c.writeTimeout())
		if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
			c.logger.Warn("WebSocket heartbeat failed", zap.Error(err))
		}
	}
}
