package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Stream errors.
var (
	// ErrStreamClosed is returned by ReadLoop after Close.
	ErrStreamClosed = errors.New("log stream closed")
	// ErrSubscribeRejected is returned by ReadLoop when the server answers
	// logsSubscribe with an error. The connection would never deliver.
	ErrSubscribeRejected = errors.New("logsSubscribe rejected")
)

// WSClientConfig configures WebSocket connection behavior.
type WSClientConfig struct {
	// HandshakeTimeout bounds the dial.
	HandshakeTimeout time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is extended on every message and pong.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// Logger receives subscription and error responses.
	Logger *zap.Logger
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		Logger:           zap.NewNop(),
	}
}

// LogsConn is one logsSubscribe connection. It does not reconnect by itself;
// the owner decides when and where to dial again.
type LogsConn struct {
	config WSClientConfig
	logger *zap.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	closed    atomic.Bool
	requestID atomic.Uint64

	// pending maps in-flight subscribe request IDs to their mentions.
	pending   map[uint64][]string
	pendingMu sync.Mutex

	done chan struct{}
}

// Compile-time interface check.
var _ LogStream = (*LogsConn)(nil)

// DialLogs opens a WebSocket connection to the logs endpoint.
func DialLogs(ctx context.Context, endpoint string, config *WSClientConfig) (*LogsConn, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	c := &LogsConn{
		config:  cfg,
		logger:  cfg.Logger,
		conn:    conn,
		pending: make(map[uint64][]string),
		done:    make(chan struct{}),
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	})
	return c, nil
}

// SubscribeLogs sends a logsSubscribe request at confirmed commitment.
func (c *LogsConn) SubscribeLogs(filter LogsFilter) error {
	if c.closed.Load() {
		return ErrStreamClosed
	}

	reqID := c.requestID.Add(1)

	mentionsFilter := make(map[string]interface{})
	if len(filter.Mentions) > 0 {
		mentionsFilter["mentions"] = filter.Mentions
	} else {
		mentionsFilter["all"] = nil
	}

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "logsSubscribe",
		Params: []interface{}{
			mentionsFilter,
			map[string]string{"commitment": CommitmentConfirmed},
		},
	}

	c.pendingMu.Lock()
	c.pending[reqID] = filter.Mentions
	c.pendingMu.Unlock()

	if err := c.writeJSON(req); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// ReadLoop reads messages and dispatches log notifications to handle until
// the connection fails. It also keeps the connection alive with pings.
func (c *LogsConn) ReadLoop(handle func(LogNotification)) error {
	go c.pingLoop()

	for {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return ErrStreamClosed
			}
			return fmt.Errorf("read: %w", err)
		}

		if err := c.handleMessage(message, handle); err != nil {
			return err
		}
	}
}

// Close closes the WebSocket connection.
func (c *LogsConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	return c.conn.Close()
}

func (c *LogsConn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteJSON(v)
}

// handleMessage processes incoming WebSocket message. Anything that is not a
// subscription confirmation, notification or error response is dropped.
// A rejected subscription is returned as an error.
func (c *LogsConn) handleMessage(message []byte, handle func(LogNotification)) error {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return nil
	}

	switch {
	case env.Method == "logsNotification":
		var params wsNotificationParams
		if err := json.Unmarshal(env.Params, &params); err != nil {
			return nil
		}
		c.handleLogsNotification(&params, handle)

	case env.Error != nil:
		c.pendingMu.Lock()
		mentions, ok := c.pending[env.ID]
		delete(c.pending, env.ID)
		c.pendingMu.Unlock()
		c.logger.Warn("rpc error response",
			zap.Uint64("id", env.ID),
			zap.Int("code", env.Error.Code),
			zap.String("message", env.Error.Message))
		if ok {
			return fmt.Errorf("%w for %v: %s", ErrSubscribeRejected, mentions, env.Error.Error())
		}

	case env.ID != 0 && len(env.Result) > 0:
		var subID int64
		if err := json.Unmarshal(env.Result, &subID); err != nil {
			return nil
		}
		c.pendingMu.Lock()
		mentions, ok := c.pending[env.ID]
		delete(c.pending, env.ID)
		c.pendingMu.Unlock()
		if ok {
			c.logger.Info("logsSubscribe ok",
				zap.Int64("subscription", subID),
				zap.Strings("mentions", mentions))
		}
	}
	return nil
}

func (c *LogsConn) handleLogsNotification(params *wsNotificationParams, handle func(LogNotification)) {
	value := params.Result.Value
	if value.Signature == "" {
		return
	}

	notif := LogNotification{
		Signature: value.Signature,
		Err:       value.Err,
	}
	if params.Result.Context != nil {
		notif.Slot = params.Result.Context.Slot
	}

	handle(notif)
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *LogsConn) pingLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				// Reader sees the broken connection and returns.
				return
			}
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Result  json.RawMessage `json:"result"`
	Params  json.RawMessage `json:"params"`
	Error   *RPCError       `json:"error"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext  `json:"context"`
	Value   wsLogsValue `json:"value"`
}

type wsContext struct {
	Slot int64 `json:"slot"`
}

type wsLogsValue struct {
	Signature string      `json:"signature"`
	Err       interface{} `json:"err"`
}
