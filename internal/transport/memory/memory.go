// Package memory is an in-process transport for tests and simulations.
//
// A Hub fans every message out to all other online connections. Each
// connection has an unbounded mailbox drained by its own goroutine, so a
// slow receiver never blocks a sender.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/soa-bra/glass-project-flow-sub021/internal/collab"
)

// ErrOffline is returned by Send while the connection is disconnected.
var ErrOffline = errors.New("memory transport: offline")

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("memory transport: closed")

const statusBuffer = 16

// Hub connects in-process participants.
type Hub struct {
	mu    sync.Mutex
	conns map[string]*Conn
	sent  int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]*Conn)}
}

// Join attaches a new online connection. Its status channel starts with
// StatusConnected.
func (h *Hub) Join(id string) *Conn {
	c := &Conn{
		id:     id,
		hub:    h,
		online: true,
		signal: make(chan struct{}, 1),
		in:     make(chan []byte),
		status: make(chan collab.Status, statusBuffer),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.conns[id] = c
	h.mu.Unlock()

	c.pushStatus(collab.StatusConnected)
	go c.pump()
	return c
}

// Disconnect takes id offline. Messages sent to or from it are lost until
// Reconnect.
func (h *Hub) Disconnect(id string) {
	if c := h.conn(id); c != nil && c.setOnline(false) {
		c.pushStatus(collab.StatusDisconnected)
	}
}

// Reconnect brings id back online.
func (h *Hub) Reconnect(id string) {
	if c := h.conn(id); c != nil && c.setOnline(true) {
		c.pushStatus(collab.StatusConnected)
	}
}

// Members returns the ids of attached connections in sorted order.
func (h *Hub) Members() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Sent returns the number of messages accepted by the hub.
func (h *Hub) Sent() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sent
}

func (h *Hub) conn(id string) *Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[id]
}

func (h *Hub) broadcast(from string, data []byte) {
	h.mu.Lock()
	h.sent++
	targets := make([]*Conn, 0, len(h.conns))
	for id, c := range h.conns {
		if id != from {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.deliver(data)
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
}

// Conn is one participant's end of a Hub. It implements collab.Transport.
type Conn struct {
	id  string
	hub *Hub

	mu     sync.Mutex
	online bool
	closed bool
	queue  [][]byte

	signal chan struct{}
	in     chan []byte
	status chan collab.Status
	done   chan struct{}
}

var _ collab.Transport = (*Conn)(nil)

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Send delivers data to every other online connection.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed, online := c.closed, c.online
	c.mu.Unlock()
	switch {
	case closed:
		return ErrClosed
	case !online:
		return ErrOffline
	}
	c.hub.broadcast(c.id, slices.Clone(data))
	return nil
}

// Inbound returns received messages. It is closed by Close.
func (c *Conn) Inbound() <-chan []byte { return c.in }

// Status returns connectivity changes.
func (c *Conn) Status() <-chan collab.Status { return c.status }

// Close detaches the connection from its hub.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.hub.remove(c.id)
	close(c.done)
	return nil
}

func (c *Conn) setOnline(v bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.online == v {
		return false
	}
	c.online = v
	if !v {
		c.queue = nil
	}
	return true
}

func (c *Conn) pushStatus(st collab.Status) {
	select {
	case c.status <- st:
	default:
	}
}

func (c *Conn) deliver(data []byte) {
	c.mu.Lock()
	if c.closed || !c.online {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, data)
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
}

func (c *Conn) pump() {
	defer close(c.in)
	for {
		select {
		case <-c.done:
			return
		case <-c.signal:
		}
		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			msg := c.queue[0]
			c.queue[0] = nil
			c.queue = c.queue[1:]
			c.mu.Unlock()

			select {
			case c.in <- msg:
			case <-c.done:
				return
			}
		}
	}
}
