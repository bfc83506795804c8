// Package relay is the boardsync relay server.
//
// Participants of a board connect to /boards/{board}/ws. The relay appends
// every op and batch it sees to the board's op log, fans ops, presence and
// leave messages out to the other participants, and answers sync_request
// with the full log. When a Bus is configured the same traffic is shared
// with other relay instances, each keeping its own copy of the log.
//
// The relay never interprets ops beyond shape validation; convergence is
// the participants' job.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
	"github.com/soa-bra/glass-project-flow-sub021/internal/collab"
	"github.com/soa-bra/glass-project-flow-sub021/internal/store"
)

// RelayID is the From of messages the relay itself originates.
const RelayID = "relay"

const (
	shutdownTimeout = 5 * time.Second
	maxConnIDLength = 128
)

// Option configures a Server.
type Option func(*Server)

// WithBus shares traffic with other relay instances.
func WithBus(b Bus) Option {
	return func(s *Server) {
		s.bus = b
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// Server is the relay.
type Server struct {
	log      store.Log
	bus      Bus
	metrics  *Metrics
	codec    *collab.Codec
	logger   *slog.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	hubs map[string]*hub
}

// NewServer creates a relay backed by log.
func NewServer(log store.Log, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		log:    log,
		codec:  collab.NewCodec(),
		logger: slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Authentication and origin policy belong to the deployment.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
		hubs:   make(map[string]*hub),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics("boardsync")
	}
	return s
}

// Handler returns the relay's HTTP routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/boards", s.handleBoards).Methods(http.MethodGet)
	r.HandleFunc("/boards/{board:[A-Za-z0-9_.-]+}/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/boards/{board:[A-Za-z0-9_.-]+}/ws", s.handleWebSocket).Methods(http.MethodGet)
	return r
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 2)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if s.bus != nil {
		go func() {
			if err := s.bus.Run(s.ctx, s.handleBus); err != nil {
				errCh <- fmt.Errorf("bus: %w", err)
			}
		}()
	}
	s.logger.Info("relay listening", "addr", ln.Addr().String(), "bus", s.bus != nil)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", "error", err)
	}
	s.Close()
	return runErr
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Close disconnects every participant and stops the hubs.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) hub(boardID string) *hub {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.hubs[boardID]; ok {
		return h
	}
	h := newHub(boardID, s.logger, s.metrics)
	s.hubs[boardID] = h
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		h.run(s.ctx)
	}()
	return h
}

func (s *Server) existingHub(boardID string) *hub {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hubs[boardID]
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type boardSummary struct {
	ID      string `json:"id"`
	Ops     int    `json:"ops"`
	LastSeq int64  `json:"lastSeq"`
}

func (s *Server) handleBoards(w http.ResponseWriter, r *http.Request) {
	boards, err := s.log.Boards(r.Context())
	if err != nil {
		s.logger.Error("list boards", "error", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	out := make([]boardSummary, len(boards))
	for i, b := range boards {
		out[i] = boardSummary{ID: b.ID, Ops: b.Ops, LastSeq: b.LastSeq}
	}
	writeJSON(w, http.StatusOK, out)
}

type historyResponse struct {
	Board   string     `json:"board"`
	LastSeq int64      `json:"lastSeq"`
	Ops     []board.Op `json:"ops"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	boardID := mux.Vars(r)["board"]

	var after int64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			http.Error(w, "after must be a non-negative integer", http.StatusBadRequest)
			return
		}
		after = n
	}

	recs, err := s.log.History(r.Context(), boardID, after)
	if err != nil {
		s.logger.Error("read history", "board", boardID, "error", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	resp := historyResponse{Board: boardID, LastSeq: after, Ops: store.Ops(recs)}
	if len(recs) > 0 {
		resp.LastSeq = recs[len(recs)-1].Seq
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	boardID := mux.Vars(r)["board"]
	id := r.URL.Query().Get("conn")
	if id == "" || len(id) > maxConnIDLength || id == RelayID {
		id = uuid.NewString()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	h := s.hub(boardID)
	c := newClient(id, h, conn, s.logger)
	if !h.join(c) {
		conn.Close()
		return
	}

	go c.writePump()
	go func() {
		c.readPump(func(data []byte) { s.handleClient(h, c, data) })
		h.leave(c)
		if data, err := s.encode(collab.Envelope{
			Kind:  collab.KindLeave,
			From:  c.id,
			Leave: &collab.LeaveMessage{ConnectionID: c.id},
		}, h.board); err == nil {
			s.fanout(h, c, data)
		}
	}()
}

// handleClient processes one message from a participant.
func (s *Server) handleClient(h *hub, c *client, data []byte) {
	env, err := s.codec.Decode(data)
	if err != nil {
		c.logger.Warn("dropping malformed message", "error", err)
		s.metrics.Dropped.WithLabelValues("malformed").Inc()
		return
	}
	s.metrics.Messages.WithLabelValues(string(env.Kind), "in").Inc()

	// Participants cannot speak for each other or for another board.
	if env.From != c.id || env.Board != h.board {
		env.From = c.id
		if data, err = s.encode(env, h.board); err != nil {
			return
		}
	}

	switch env.Kind {
	case collab.KindOp, collab.KindBatch:
		fresh, err := s.appendEnvelope(s.ctx, h.board, env)
		if err != nil {
			c.logger.Warn("op not logged", "kind", env.Kind, "error", err)
			return
		}
		if fresh {
			s.fanout(h, c, data)
		}
	case collab.KindPresence, collab.KindLeave:
		s.fanout(h, c, data)
	case collab.KindSyncRequest:
		s.sendHistory(h, c.id)
	case collab.KindHistory:
		// Peer-to-peer histories are for relay-less meshes.
		s.metrics.Dropped.WithLabelValues("history").Inc()
	}
}

// handleBus processes one message from another relay instance.
func (s *Server) handleBus(boardID string, data []byte) {
	s.metrics.BusMessages.WithLabelValues("in").Inc()
	env, err := s.codec.Decode(data)
	if err != nil {
		s.logger.Warn("dropping malformed bus message", "board", boardID, "error", err)
		s.metrics.Dropped.WithLabelValues("malformed").Inc()
		return
	}

	switch env.Kind {
	case collab.KindOp, collab.KindBatch:
		fresh, err := s.appendEnvelope(s.ctx, boardID, env)
		if err != nil || !fresh {
			return
		}
	case collab.KindPresence, collab.KindLeave:
	default:
		return
	}
	if h := s.existingHub(boardID); h != nil {
		h.send(outbound{data: data})
	}
}

// appendEnvelope logs an op or batch and reports whether it was new.
func (s *Server) appendEnvelope(ctx context.Context, boardID string, env collab.Envelope) (bool, error) {
	start := time.Now()
	defer func() {
		s.metrics.AppendDuration.WithLabelValues(string(env.Kind)).Observe(time.Since(start).Seconds())
	}()

	var (
		fresh bool
		err   error
	)
	switch env.Kind {
	case collab.KindOp:
		if err := env.Op.Validate(); err != nil {
			s.metrics.OpsAppended.WithLabelValues("invalid").Inc()
			return false, err
		}
		fresh, err = s.log.AppendOp(ctx, boardID, *env.Op)
	case collab.KindBatch:
		for _, op := range env.Batch.Ops {
			if err := op.Validate(); err != nil {
				s.metrics.OpsAppended.WithLabelValues("invalid").Inc()
				return false, fmt.Errorf("batch %s: %w", env.Batch.ID, err)
			}
		}
		var n int
		n, err = s.log.AppendBatch(ctx, boardID, *env.Batch)
		fresh = n > 0
	}

	switch {
	case err != nil:
		s.metrics.OpsAppended.WithLabelValues("error").Inc()
		return false, err
	case fresh:
		s.metrics.OpsAppended.WithLabelValues("new").Inc()
	default:
		s.metrics.OpsAppended.WithLabelValues("duplicate").Inc()
	}
	return fresh, nil
}

func (s *Server) sendHistory(h *hub, connID string) {
	recs, err := s.log.History(s.ctx, h.board, 0)
	if err != nil {
		s.logger.Error("read history", "board", h.board, "error", err)
		return
	}
	data, err := s.encode(collab.HistoryEnvelope(RelayID, connID, store.Ops(recs)), h.board)
	if err != nil {
		return
	}
	s.metrics.HistoryOps.Observe(float64(len(recs)))
	s.metrics.Messages.WithLabelValues(string(collab.KindHistory), "out").Inc()
	h.send(outbound{to: connID, data: data})
}

// fanout sends data to every participant of h except the sender, and to
// the other instances.
func (s *Server) fanout(h *hub, except *client, data []byte) {
	h.send(outbound{except: except, data: data})
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(s.ctx, h.board, data); err != nil {
		s.logger.Warn("bus publish failed", "board", h.board, "error", err)
		s.metrics.Dropped.WithLabelValues("bus").Inc()
		return
	}
	s.metrics.BusMessages.WithLabelValues("out").Inc()
}

func (s *Server) encode(env collab.Envelope, boardID string) ([]byte, error) {
	env.Board = boardID
	data, err := s.codec.Encode(env)
	if err != nil {
		s.logger.Error("encode envelope", "kind", env.Kind, "error", err)
	}
	return data, err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
