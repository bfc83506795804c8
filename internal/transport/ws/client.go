// Package ws is the websocket transport between a session and the relay.
//
// A Client keeps one connection open to a relay board URL, redialing with
// exponential backoff behind a circuit breaker whenever it drops. Each
// successful dial is reported as collab.StatusConnected so the session
// resyncs; anything queued for a dead connection is lost and recovered by
// that resync.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"

	"github.com/soa-bra/glass-project-flow-sub021/internal/collab"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// MaxMessageSize bounds one inbound message. A full history can be
	// large, so this is well above a single op.
	MaxMessageSize = 16 << 20

	// Outbound messages buffered per connection.
	sendBufferSize = 256

	statusBufferSize = 16
)

// Transport errors.
var (
	ErrClosed       = errors.New("ws transport: closed")
	ErrNotConnected = errors.New("ws transport: not connected")
	ErrBufferFull   = errors.New("ws transport: send buffer full")
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithBackOff sets the redial backoff policy factory. The policy is reset
// after every successful dial.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *Client) {
		c.newBackOff = newBackOff
	}
}

// WithBreaker replaces the dial circuit breaker settings.
func WithBreaker(st gobreaker.Settings) Option {
	return func(c *Client) {
		c.breakerSettings = st
	}
}

// Client is a reconnecting websocket transport. It implements
// collab.Transport.
type Client struct {
	url             string
	dialer          *websocket.Dialer
	header          http.Header
	logger          *slog.Logger
	newBackOff      func() backoff.BackOff
	breakerSettings gobreaker.Settings
	breaker         *gobreaker.CircuitBreaker

	in     chan []byte
	status chan collab.Status
	done   chan struct{}
	exited chan struct{}

	mu     sync.Mutex
	conn   *websocket.Conn
	out    chan []byte
	closed bool
}

var _ collab.Transport = (*Client)(nil)

// BoardURL builds the relay endpoint for one board and connection.
func BoardURL(base, boardID, connectionID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("relay url %q: unsupported scheme %q", base, u.Scheme)
	}
	u = u.JoinPath("boards", boardID, "ws")
	q := u.Query()
	q.Set("conn", connectionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DefaultBackOff redials quickly at first and settles at 30s between
// attempts. It never gives up.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Dial starts maintaining a connection to rawURL and returns immediately.
// Connection progress is reported on Status.
func Dial(rawURL string, opts ...Option) *Client {
	c := &Client{
		url:        rawURL,
		dialer:     websocket.DefaultDialer,
		header:     http.Header{},
		logger:     slog.Default(),
		newBackOff: DefaultBackOff,
		in:         make(chan []byte, sendBufferSize),
		status:     make(chan collab.Status, statusBufferSize),
		done:       make(chan struct{}),
		exited:     make(chan struct{}),
	}
	c.breakerSettings = gobreaker.Settings{
		Name:        "relay-dial",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("relay_url", rawURL)

	st := c.breakerSettings
	onChange := st.OnStateChange
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		c.logger.Warn("dial breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		if onChange != nil {
			onChange(name, from, to)
		}
	}
	c.breaker = gobreaker.NewCircuitBreaker(st)

	go c.maintain()
	return c
}

// Send queues data on the current connection.
func (c *Client) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	closed, out := c.closed, c.out
	c.mu.Unlock()

	switch {
	case closed:
		return ErrClosed
	case out == nil:
		return ErrNotConnected
	}
	select {
	case out <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrBufferFull
	}
}

// Inbound returns received messages. It is closed after Close.
func (c *Client) Inbound() <-chan []byte { return c.in }

// Status returns connectivity changes.
func (c *Client) Status() <-chan collab.Status { return c.status }

// Close stops redialing, closes the connection and waits for the
// background goroutine.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	}
	<-c.exited
	return nil
}

// maintain dials, serves and redials until Close.
func (c *Client) maintain() {
	defer close(c.exited)
	defer close(c.in)

	for {
		conn, err := c.connect()
		if err != nil {
			return
		}
		c.serve(conn)

		c.pushStatus(collab.StatusDisconnected)
		select {
		case <-c.done:
			return
		default:
			c.logger.Warn("relay connection lost, redialing")
		}
	}
}

// connect dials until it succeeds or the client is closed.
func (c *Client) connect() (*websocket.Conn, error) {
	b := c.newBackOff()
	b.Reset()
	for {
		conn, err := c.dial()
		if err == nil {
			return conn, nil
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = time.Second
		}
		c.logger.Warn("dial failed", "error", err, "retry_in", wait)

		timer := time.NewTimer(wait)
		select {
		case <-c.done:
			timer.Stop()
			return nil, ErrClosed
		case <-timer.C:
		}
	}
}

func (c *Client) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	res, err := c.breaker.Execute(func() (any, error) {
		conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
		return conn, err
	})
	if err != nil {
		return nil, err
	}
	return res.(*websocket.Conn), nil
}

// serve runs the pumps for one connection and returns when it dies.
func (c *Client) serve(conn *websocket.Conn) {
	out := make(chan []byte, sendBufferSize)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn, c.out = conn, out
	c.mu.Unlock()

	c.logger.Info("relay connected")
	c.pushStatus(collab.StatusConnected)

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(conn, out, stop)
	}()

	c.readPump(conn)

	close(stop)
	conn.Close()
	<-writerDone

	c.mu.Lock()
	c.conn, c.out = nil, nil
	c.mu.Unlock()
}

// readPump moves messages from the connection to Inbound.
func (c *Client) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("relay read failed", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Debug("ignoring non-text frame", "type", messageType)
			continue
		}
		select {
		case c.in <- message:
		case <-c.done:
			return
		}
	}
}

// writePump moves queued messages to the connection and keeps it alive
// with pings.
func (c *Client) writePump(conn *websocket.Conn, out <-chan []byte, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case msg := <-out:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Warn("relay write failed", "error", err)
				conn.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) pushStatus(st collab.Status) {
	select {
	case c.status <- st:
	default:
		c.logger.Warn("status dropped, session not reading", "status", st.String())
	}
}
