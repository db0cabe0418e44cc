// Package wss provides a WebSocket client with automatic reconnection
// under a capped retry budget, heartbeat support, and resubscription on
// reconnect.
package wss

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrRetryBudgetExhausted is reported through OnError when the client has
// used up its reconnection attempts. The client stays Disconnected until an
// external caller restarts it.
var ErrRetryBudgetExhausted = errors.New("reconnect budget exhausted")

// ErrNotConnected is returned by Send when no connection is established.
var ErrNotConnected = errors.New("not connected")

// State represents the connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handlers contains callback functions for connection events.
type Handlers struct {
	OnConnect     func()
	OnDisconnect  func(err error)
	OnMessage     func(data []byte)
	OnError       func(err error)
	OnStateChange func(old, new State)
}

// Config holds client configuration.
type Config struct {
	// URL is the WebSocket server URL.
	URL string

	// Headers for the initial handshake.
	Headers map[string]string

	// Reconnect settings. The retry delay is
	// ReconnectBaseDelay * 2^(attempt-1), capped at ReconnectMaxDelay.
	// After ReconnectMaxAttempts consecutive failures the client gives up
	// and stays Disconnected; this is reported through OnError.
	ReconnectEnabled     bool
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int

	// Heartbeat settings. Zero interval disables the heartbeat.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	WriteTimeout time.Duration
	ReadTimeout  time.Duration

	ReadBufferSize  int
	WriteBufferSize int
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		ReconnectEnabled:     true,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		ReconnectMaxAttempts: 10,
		HeartbeatInterval:    30 * time.Second,
		HeartbeatTimeout:     10 * time.Second,
		WriteTimeout:         10 * time.Second,
		ReadTimeout:          60 * time.Second,
		ReadBufferSize:       8192,
		WriteBufferSize:      4096,
	}
}

// Client is a WebSocket client with capped-budget reconnection.
type Client struct {
	config   Config
	handlers Handlers

	conn   *websocket.Conn
	connMu sync.RWMutex
	state  int32 // atomic State

	writeCh   chan writeRequest
	closeCh   chan struct{}
	closeOnce sync.Once

	// subscribeMsg is re-sent after every successful (re)connect so the
	// server-side subscription survives connection drops.
	subMu        sync.RWMutex
	subscribeMsg interface{}

	attempts  int32 // atomic, consecutive failed connect attempts
	gaveUp    int32 // atomic bool
	lastErr   error
	lastErrMu sync.RWMutex
	loopsOnce sync.Once

	reconnMu   sync.Mutex // guards against concurrent reconnect loops
	reconnLive bool
}

type writeRequest struct {
	data   []byte
	result chan error
}

// NewClient creates a new client. Connect must be called to establish the
// connection.
func NewClient(config Config, handlers Handlers) *Client {
	return &Client{
		config:   config,
		handlers: handlers,
		writeCh:  make(chan writeRequest, 100),
		closeCh:  make(chan struct{}),
	}
}

// SetSubscribeMessage sets the message re-sent after every successful
// connect. It is JSON-encoded. Pass nil to clear.
func (c *Client) SetSubscribeMessage(v interface{}) {
	c.subMu.Lock()
	c.subscribeMsg = v
	c.subMu.Unlock()
}

// Connect establishes the connection and, on success, sends the subscribe
// message. On failure with reconnection enabled the client schedules
// retries in the background and Connect returns the dial error.
func (c *Client) Connect(ctx context.Context) error {
	if c.getState() == StateClosed {
		return errors.New("client is closed")
	}

	err := c.dial(ctx)
	if err != nil && c.config.ReconnectEnabled {
		c.scheduleReconnect()
	}
	return err
}

func (c *Client) dial(ctx context.Context) error {
	c.setState(StateConnecting)

	dialer := websocket.Dialer{
		ReadBufferSize:  c.config.ReadBufferSize,
		WriteBufferSize: c.config.WriteBufferSize,
	}

	headers := make(map[string][]string, len(c.config.Headers))
	for k, v := range c.config.Headers {
		headers[k] = []string{v}
	}

	conn, _, err := dialer.DialContext(ctx, c.config.URL, headers)
	if err != nil {
		c.setState(StateDisconnected)
		c.setLastError(err)
		return fmt.Errorf("dial %s: %w", c.config.URL, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.setState(StateConnected)
	atomic.StoreInt32(&c.attempts, 0)
	atomic.StoreInt32(&c.gaveUp, 0)

	if c.handlers.OnConnect != nil {
		c.handlers.OnConnect()
	}

	go c.readLoop(conn)
	c.loopsOnce.Do(func() {
		go c.writeLoop()
		if c.config.HeartbeatInterval > 0 {
			go c.heartbeatLoop()
		}
	})

	c.subMu.RLock()
	sub := c.subscribeMsg
	c.subMu.RUnlock()
	if sub != nil {
		if err := c.SendJSON(sub); err != nil && c.handlers.OnError != nil {
			c.handlers.OnError(fmt.Errorf("subscribe: %w", err))
		}
	}

	return nil
}

// Close terminates the connection and stops all background work. Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		close(c.closeCh)

		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.connMu.Unlock()
	})
	return nil
}

// Send sends a text message over the connection.
func (c *Client) Send(data []byte) error {
	if c.getState() != StateConnected {
		return ErrNotConnected
	}

	result := make(chan error, 1)
	select {
	case c.writeCh <- writeRequest{data: data, result: result}:
		return <-result
	case <-c.closeCh:
		return errors.New("client closed")
	}
}

// SendJSON sends a JSON-encoded message.
func (c *Client) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	return c.Send(data)
}

// State returns the current connection state.
func (c *Client) State() State {
	return c.getState()
}

// IsConnected reports whether the client is connected.
func (c *Client) IsConnected() bool {
	return c.getState() == StateConnected
}

// Attempts returns the count of consecutive failed connect attempts. It is
// reset to zero on a successful connect.
func (c *Client) Attempts() int {
	return int(atomic.LoadInt32(&c.attempts))
}

// GaveUp reports whether the reconnect budget has been exhausted.
func (c *Client) GaveUp() bool {
	return atomic.LoadInt32(&c.gaveUp) == 1
}

// LastError returns the most recent connection error.
func (c *Client) LastError() error {
	c.lastErrMu.RLock()
	defer c.lastErrMu.RUnlock()
	return c.lastErr
}

// --- Internal methods ---

func (c *Client) getState() State {
	return State(atomic.LoadInt32(&c.state))
}

func (c *Client) setState(s State) {
	old := State(atomic.SwapInt32(&c.state, int32(s)))
	if old != s && c.handlers.OnStateChange != nil {
		c.handlers.OnStateChange(old, s)
	}
}

func (c *Client) setLastError(err error) {
	c.lastErrMu.Lock()
	c.lastErr = err
	c.lastErrMu.Unlock()
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		if c.getState() == StateClosed {
			return
		}
		c.setState(StateDisconnected)
		if c.handlers.OnDisconnect != nil {
			c.handlers.OnDisconnect(c.LastError())
		}
		if c.config.ReconnectEnabled {
			c.scheduleReconnect()
		}
	}()

	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		if c.config.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			c.setLastError(err)
			if c.handlers.OnError != nil {
				c.handlers.OnError(err)
			}
			return
		}

		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(data)
		}
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		case req := <-c.writeCh:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()

			if conn == nil {
				req.result <- ErrNotConnected
				continue
			}

			if c.config.WriteTimeout > 0 {
				conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			}

			err := conn.WriteMessage(websocket.TextMessage, req.data)
			req.result <- err

			if err != nil {
				c.setLastError(err)
				if c.handlers.OnError != nil {
					c.handlers.OnError(err)
				}
			}
		}
	}
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			if c.getState() != StateConnected {
				continue
			}

			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()
			if conn == nil {
				continue
			}

			deadline := time.Now().Add(c.config.HeartbeatTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.setLastError(err)
				if c.handlers.OnError != nil {
					c.handlers.OnError(fmt.Errorf("heartbeat: %w", err))
				}
			}
		}
	}
}

func (c *Client) scheduleReconnect() {
	c.reconnMu.Lock()
	if c.reconnLive {
		c.reconnMu.Unlock()
		return
	}
	c.reconnLive = true
	c.reconnMu.Unlock()

	go c.reconnect()
}

func (c *Client) reconnect() {
	defer func() {
		c.reconnMu.Lock()
		c.reconnLive = false
		c.reconnMu.Unlock()
	}()

	c.setState(StateReconnecting)

	for {
		if c.getState() == StateClosed {
			return
		}

		attempt := atomic.AddInt32(&c.attempts, 1)

		if c.config.ReconnectMaxAttempts > 0 && int(attempt) > c.config.ReconnectMaxAttempts {
			atomic.StoreInt32(&c.gaveUp, 1)
			c.setState(StateDisconnected)
			if c.handlers.OnError != nil {
				c.handlers.OnError(fmt.Errorf("%w after %d attempts", ErrRetryBudgetExhausted, c.config.ReconnectMaxAttempts))
			}
			return
		}

		delay := c.config.ReconnectBaseDelay * time.Duration(1<<uint(attempt-1))
		if delay > c.config.ReconnectMaxDelay {
			delay = c.config.ReconnectMaxDelay
		}

		select {
		case <-c.closeCh:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := c.dial(ctx)
		cancel()

		if err == nil {
			return
		}

		if c.handlers.OnError != nil {
			c.handlers.OnError(fmt.Errorf("reconnect attempt %d: %w", attempt, err))
		}
	}
}
