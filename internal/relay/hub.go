package relay

import (
	"context"
	"log/slog"
)

// outbound is a message for some or all of a hub's clients. With to set
// only that connection receives it; otherwise everyone but except does.
type outbound struct {
	except *client
	to     string
	data   []byte
}

// hub tracks the connections of one board. Its run loop owns the client
// set; everything else talks to it through channels.
type hub struct {
	board   string
	clients map[*client]struct{}

	register   chan *client
	unregister chan *client
	broadcast  chan outbound
	done       chan struct{}

	logger  *slog.Logger
	metrics *Metrics
}

func newHub(board string, logger *slog.Logger, metrics *Metrics) *hub {
	return &hub{
		board:      board,
		clients:    make(map[*client]struct{}),
		register:   make(chan *client, 16),
		unregister: make(chan *client, 16),
		broadcast:  make(chan outbound, 1024),
		done:       make(chan struct{}),
		logger:     logger.With("board", board),
		metrics:    metrics,
	}
}

func (h *hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			close(c.registered)
			h.metrics.Connections.Inc()
			h.logger.Info("client registered", "connection_id", c.id, "clients", len(h.clients))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Info("client unregistered", "connection_id", c.id, "clients", len(h.clients))
			}
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *hub) deliver(msg outbound) {
	for c := range h.clients {
		if c == msg.except || (msg.to != "" && c.id != msg.to) {
			continue
		}
		select {
		case c.send <- msg.data:
		default:
			// A client that cannot keep up is dropped; it resyncs on reconnect.
			h.logger.Warn("send buffer full, dropping client", "connection_id", c.id)
			h.metrics.Dropped.WithLabelValues("slow_client").Inc()
			h.drop(c)
		}
	}
}

func (h *hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.metrics.Connections.Dec()
}

func (h *hub) closeAll() {
	for c := range h.clients {
		h.drop(c)
	}
}

// join registers c and waits until the run loop has seen it, so messages
// broadcast after join returns reach c.
func (h *hub) join(c *client) bool {
	select {
	case h.register <- c:
	case <-h.done:
		return false
	}
	select {
	case <-c.registered:
		return true
	case <-h.done:
		return false
	}
}

func (h *hub) leave(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *hub) send(msg outbound) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}
