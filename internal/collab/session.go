package collab

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
	"github.com/soa-bra/glass-project-flow-sub021/internal/engine"
	"github.com/soa-bra/glass-project-flow-sub021/internal/geom"
)

// DefaultHeartbeatInterval is how often a session announces its presence
// and prunes stale state.
const DefaultHeartbeatInterval = 5 * time.Second

// leaveTimeout bounds the best-effort leave message sent on shutdown.
const leaveTimeout = time.Second

// Config tunes a Session.
type Config struct {
	// Board scopes outgoing envelopes and filters incoming ones.
	Board string

	HeartbeatInterval time.Duration
	PresenceTTL       time.Duration
	DedupTTL          time.Duration
	DedupLimit        int

	// AnswerSyncRequests makes the session reply to a peer's sync_request
	// with its own history. Enable it on relay-less meshes; behind a relay
	// the relay answers.
	AnswerSyncRequests bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: DefaultHeartbeatInterval,
		PresenceTTL:       DefaultPresenceTTL,
		DedupTTL:          DefaultDedupTTL,
		DedupLimit:        DefaultDedupLimit,
	}
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithNow overrides the wall clock used for presence and dedup ages.
func WithNow(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// Session connects one engine to one transport.
//
// All engine mutations made through the session run on the Run loop.
// Submission methods block until the loop has applied the change, so Run
// must be running for them to return. SetCursor and SetSelection never
// block and are safe to call from engine listeners.
type Session struct {
	id       string
	cfg      Config
	eng      *engine.Engine
	tr       Transport
	codec    *Codec
	presence *PresenceTable
	dedup    *dedupWindow
	queue    *commandQueue
	logger   *slog.Logger
	now      func() time.Time

	// Loop-only state.
	loopCtx   context.Context
	connected bool

	mu       sync.Mutex
	cursor   *geom.Point
	selected []string
	announce chan struct{}

	running atomic.Bool
	done    chan struct{}
}

// NewSession creates a session for eng over tr. The connection id is the
// engine's origin.
func NewSession(eng *engine.Engine, tr Transport, cfg Config, opts ...Option) *Session {
	def := DefaultConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	s := &Session{
		id:       eng.Origin(),
		cfg:      cfg,
		eng:      eng,
		tr:       tr,
		codec:    NewCodec(),
		presence: NewPresenceTable(cfg.PresenceTTL),
		dedup:    newDedupWindow(cfg.DedupTTL, cfg.DedupLimit),
		queue:    newCommandQueue(),
		logger:   slog.Default(),
		now:      time.Now,
		loopCtx:  context.Background(),
		announce: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("connection_id", s.id, "board", cfg.Board)
	return s
}

// ID returns the connection id.
func (s *Session) ID() string { return s.id }

// Engine returns the session's engine. Read it freely; mutate it only
// through the session.
func (s *Session) Engine() *engine.Engine { return s.eng }

// Presence returns the table of remote participants.
func (s *Session) Presence() *PresenceTable { return s.presence }

// Run processes submissions, inbound messages and heartbeats until ctx is
// cancelled or the transport's inbound channel closes. It may be called
// once.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("session already running")
	}
	s.loopCtx = ctx
	defer s.shutdown()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	s.logger.Info("session started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session stopping", "reason", ctx.Err())
			return ctx.Err()

		case <-s.queue.Wait():
			for {
				c, ok := s.queue.TryDequeue()
				if !ok {
					break
				}
				ev, err := c.run()
				c.reply <- commandReply{ev: ev, err: err}
			}

		case data, ok := <-s.tr.Inbound():
			if !ok {
				s.logger.Info("transport closed")
				return nil
			}
			// Failures are logged inside; one bad message never stops the loop.
			_ = s.IngestRemote(data)

		case st := <-s.tr.Status():
			s.handleStatus(st)

		case <-s.announce:
			if s.connected {
				s.sendPresence()
			}

		case <-ticker.C:
			s.heartbeat()
		}
	}
}

func (s *Session) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	if s.connected {
		_ = s.send(ctx, Envelope{Kind: KindLeave, Leave: &LeaveMessage{ConnectionID: s.id}})
	}
	for _, c := range s.queue.Close() {
		c.reply <- commandReply{err: ErrSessionClosed}
	}
	close(s.done)
}

// do runs fn on the loop and waits for its result.
func (s *Session) do(ctx context.Context, fn func() (engine.Event, error)) (engine.Event, error) {
	c := command{run: fn, reply: make(chan commandReply, 1)}
	if !s.queue.Enqueue(c) {
		return engine.Event{}, ErrSessionClosed
	}
	select {
	case r := <-c.reply:
		return r.ev, r.err
	case <-ctx.Done():
		return engine.Event{}, ctx.Err()
	case <-s.done:
		select {
		case r := <-c.reply:
			return r.ev, r.err
		default:
			return engine.Event{}, ErrSessionClosed
		}
	}
}

// Submit applies a locally built op and broadcasts it. Build ops with the
// engine's builders (Create, Move, ...).
func (s *Session) Submit(ctx context.Context, op board.Op) (engine.Event, error) {
	return s.do(ctx, func() (engine.Event, error) {
		ev, err := s.eng.Apply(op)
		if err != nil || ev.IsZero() {
			return ev, err
		}
		_ = s.BroadcastLocalOp(s.loopCtx, op)
		return ev, nil
	})
}

// SubmitBatch applies a local batch atomically and broadcasts it.
func (s *Session) SubmitBatch(ctx context.Context, b board.Batch) (engine.Event, error) {
	return s.do(ctx, func() (engine.Event, error) {
		ev, err := s.eng.ApplyBatch(b)
		if err != nil || ev.IsZero() {
			return ev, err
		}
		_ = s.broadcastBatch(s.loopCtx, b)
		return ev, nil
	})
}

// Undo reverts the latest local edit and broadcasts the compensation.
func (s *Session) Undo(ctx context.Context) (engine.Event, error) {
	return s.do(ctx, func() (engine.Event, error) {
		b, ev, err := s.eng.Undo()
		if err != nil {
			return ev, err
		}
		_ = s.broadcastBatch(s.loopCtx, b)
		return ev, nil
	})
}

// Redo reapplies the latest undone edit and broadcasts it.
func (s *Session) Redo(ctx context.Context) (engine.Event, error) {
	return s.do(ctx, func() (engine.Event, error) {
		b, ev, err := s.eng.Redo()
		if err != nil {
			return ev, err
		}
		_ = s.broadcastBatch(s.loopCtx, b)
		return ev, nil
	})
}

// CommitDrag turns the engine's speculative drag into one batch of moves
// and broadcasts it. Drag begin, update and cancel never leave the replica
// and may be called on the engine directly.
func (s *Session) CommitDrag(ctx context.Context) (engine.Event, error) {
	return s.do(ctx, func() (engine.Event, error) {
		b, ev, err := s.eng.CommitDrag()
		if err != nil || len(b.Ops) == 0 {
			return ev, err
		}
		_ = s.broadcastBatch(s.loopCtx, b)
		return ev, nil
	})
}

// SetCursor records the local cursor and schedules a presence announcement.
// A nil cursor hides it from peers.
func (s *Session) SetCursor(ctx context.Context, cursor *geom.Point) error {
	if err := s.acceptPresence(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	if cursor != nil {
		c := *cursor
		s.cursor = &c
	} else {
		s.cursor = nil
	}
	s.mu.Unlock()
	s.scheduleAnnounce()
	return nil
}

// SetSelection records the local selection and schedules a presence
// announcement. Unlike the submission methods it does not wait for the loop,
// so a selection manager's change callback can call it while the loop is
// delivering the event that changed the selection.
func (s *Session) SetSelection(ctx context.Context, ids []string) error {
	if err := s.acceptPresence(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.selected = slices.Clone(ids)
	s.mu.Unlock()
	s.scheduleAnnounce()
	return nil
}

func (s *Session) acceptPresence(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
		return nil
	}
}

// scheduleAnnounce wakes the loop; pending wake-ups coalesce.
func (s *Session) scheduleAnnounce() {
	select {
	case s.announce <- struct{}{}:
	default:
	}
}

// BroadcastLocalOp sends an already applied local op to peers. A failed
// send is reported as TRANSPORT_LOSS; the op stays in history and is
// re-sent after the next resync.
func (s *Session) BroadcastLocalOp(ctx context.Context, op board.Op) error {
	return s.send(ctx, OpEnvelope(s.id, op))
}

func (s *Session) broadcastBatch(ctx context.Context, b board.Batch) error {
	if b.ID == "" && len(b.Ops) == 1 {
		return s.BroadcastLocalOp(ctx, b.Ops[0])
	}
	return s.send(ctx, BatchEnvelope(s.id, b))
}

func (s *Session) send(ctx context.Context, env Envelope) error {
	env.Board = s.cfg.Board
	if env.From == "" {
		env.From = s.id
	}
	data, err := s.codec.Encode(env)
	if err != nil {
		s.logger.Error("encode failed", "kind", env.Kind, "error", err)
		return err
	}
	if err := s.tr.Send(ctx, data); err != nil {
		lossErr := &Error{Code: ErrCodeTransportLoss, Message: "send " + string(env.Kind) + " failed", Err: err}
		s.logger.Warn("send failed", "kind", env.Kind, "error", lossErr)
		return lossErr
	}
	return nil
}

// IngestRemote decodes one wire message and routes it: ops and batches go
// through the engine's remote path, presence and leave update the
// presence table, history triggers a replay and a re-send of local ops the
// sender lacks.
//
// Stale and early-arriving ops are not errors. Malformed messages and ops
// that fail validation are logged, dropped and returned.
func (s *Session) IngestRemote(data []byte) error {
	env, err := s.codec.Decode(data)
	if err != nil {
		s.logger.Warn("dropping malformed message", "error", err)
		return err
	}
	if env.From == s.id {
		return nil
	}
	if env.To != "" && env.To != s.id {
		return nil
	}
	if env.Board != "" && s.cfg.Board != "" && env.Board != s.cfg.Board {
		return nil
	}

	now := s.now()
	switch env.Kind {
	case KindOp:
		if s.dedup.observe(env.Op.OpID, now) {
			return nil
		}
		_, err := s.eng.Ingest(*env.Op)
		return s.ingestResult(env, err)

	case KindBatch:
		if s.dedup.observe("batch:"+env.Batch.ID, now) {
			return nil
		}
		_, err := s.eng.IngestBatch(*env.Batch)
		return s.ingestResult(env, err)

	case KindPresence:
		if env.Presence.ConnectionID != s.id {
			s.presence.Update(*env.Presence, now)
		}

	case KindLeave:
		if s.presence.Remove(env.Leave.ConnectionID) {
			s.logger.Debug("participant left", "peer", env.Leave.ConnectionID)
		}

	case KindHistory:
		s.ingestHistory(env)

	case KindSyncRequest:
		if s.cfg.AnswerSyncRequests && env.From != "" {
			_ = s.send(s.loopCtx, HistoryEnvelope(s.id, env.From, s.eng.History()))
		}
	}
	return nil
}

func (s *Session) ingestResult(env Envelope, err error) error {
	switch {
	case err == nil:
		return nil
	case engine.IsStaleOp(err):
		s.logger.Debug("stale op ignored", "kind", env.Kind, "from", env.From)
		return nil
	case engine.IsTargetMissing(err):
		s.logger.Debug("op buffered until its target exists", "kind", env.Kind, "from", env.From)
		return nil
	default:
		s.logger.Warn("rejected remote op", "kind", env.Kind, "from", env.From, "error", err)
		return err
	}
}

func (s *Session) ingestHistory(env Envelope) {
	res, err := s.eng.Replay(env.History)
	if err != nil {
		s.logger.Warn("history contained invalid ops", "error", err)
	}
	s.logger.Info("history replayed",
		"from", env.From,
		"ops", len(env.History),
		"applied", res.Applied,
		"skipped", res.Skipped,
		"buffered", res.Buffered,
	)

	have := make(map[string]struct{}, len(env.History))
	for _, op := range env.History {
		have[op.OpID] = struct{}{}
	}
	resent := 0
	for _, u := range localUnits(s.eng.History(), s.id) {
		if u.coveredBy(have) {
			continue
		}
		if u.batch.ID == "" {
			_ = s.BroadcastLocalOp(s.loopCtx, u.batch.Ops[0])
		} else {
			_ = s.send(s.loopCtx, BatchEnvelope(s.id, u.batch))
		}
		resent++
	}
	if resent > 0 {
		s.logger.Info("re-sent local history", "units", resent)
	}
}

// unit is one op or one batch as recorded in history.
type unit struct {
	batch board.Batch
}

func (u unit) coveredBy(have map[string]struct{}) bool {
	for _, op := range u.batch.Ops {
		if _, ok := have[op.OpID]; !ok {
			return false
		}
	}
	return true
}

// localUnits splits history into units that originated at origin.
func localUnits(history []board.Op, origin string) []unit {
	var out []unit
	for i := 0; i < len(history); {
		op := history[i]
		if p, ok := op.Payload.(board.BatchMarkerPayload); ok && op.Type == board.OpBatchMarker {
			end := min(i+1+p.Count, len(history))
			if op.OriginID == origin && end > i+1 {
				out = append(out, unit{batch: board.Batch{ID: p.BatchID, Ops: history[i+1 : end]}})
			}
			i = end
			continue
		}
		if op.OriginID == origin {
			out = append(out, unit{batch: board.Batch{Ops: []board.Op{op}}})
		}
		i++
	}
	return out
}

func (s *Session) handleStatus(st Status) {
	switch st {
	case StatusConnected:
		s.connected = true
		s.logger.Info("transport connected, requesting resync")
		_ = s.send(s.loopCtx, Envelope{Kind: KindSyncRequest})
		s.sendPresence()
	case StatusDisconnected:
		s.connected = false
		s.logger.Warn("transport lost", "error", &Error{Code: ErrCodeTransportLoss, Message: "disconnected"})
	}
}

func (s *Session) heartbeat() {
	now := s.now()
	if s.connected {
		s.sendPresence()
	}
	if gone := s.presence.Prune(now); len(gone) > 0 {
		s.logger.Debug("evicted stale participants", "peers", gone)
	}
	s.dedup.prune(now)
	if n := s.eng.Prune(); n > 0 {
		s.logger.Warn("dropped expired pending ops", "count", n)
	}
}

func (s *Session) sendPresence() {
	msg := &PresenceMessage{
		ConnectionID: s.id,
		SelectedIDs:  []string{},
		TS:           s.now().UnixMilli(),
	}
	s.mu.Lock()
	if s.selected != nil {
		msg.SelectedIDs = slices.Clone(s.selected)
	}
	if s.cursor != nil {
		c := *s.cursor
		msg.CursorWorldPos = &c
	}
	s.mu.Unlock()
	_ = s.send(s.loopCtx, Envelope{Kind: KindPresence, Presence: msg})
}
