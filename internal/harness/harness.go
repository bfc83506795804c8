package harness

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"slices"

	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
	"github.com/soa-bra/glass-project-flow-sub021/internal/engine"
	"github.com/soa-bra/glass-project-flow-sub021/internal/testutil"
)

// unit is what one local step puts on the wire: a single op or a batch.
type unit struct {
	from  string
	op    *board.Op
	batch *board.Batch
}

func (u unit) opIDs() []string {
	if u.op != nil {
		return []string{u.op.OpID}
	}
	ids := make([]string, len(u.batch.Ops))
	for i, op := range u.batch.Ops {
		ids[i] = op.OpID
	}
	return ids
}

type replica struct {
	id    string
	eng   *engine.Engine
	inbox []unit
}

// Harness executes one delivery order of a scenario.
type Harness struct {
	scenario *Scenario
	replicas []*replica
	byID     map[string]*replica
	rng      *rand.Rand
	clock    *testutil.ManualClock
	logger   *slog.Logger

	record bool
	seq    int64
	result *Result
}

// Option configures Run.
type Option func(*runConfig)

type runConfig struct {
	logger     *slog.Logger
	engineOpts []engine.Option
}

// WithLogger routes per-step debug logs to l. Logs are discarded by
// default.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = l
	}
}

// WithEngineOptions applies opts to every replica's engine. The harness
// still controls op ids and time.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(c *runConfig) {
		c.engineOpts = append(c.engineOpts, opts...)
	}
}

// Run executes a scenario and returns the result.
//
// Every delivery order starts from fresh engines with deterministic ids
// and clock, so the same scenario always produces the same result. The
// trace and final snapshot come from the first order; assertions are
// evaluated on every replica of every order.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	orders := scenario.Orders
	if orders == 0 {
		orders = 1
	}

	result := NewResult()
	result.Orders = orders
	var want string
	for k := 0; k < orders; k++ {
		h := newHarness(scenario, uint64(k), cfg, result, k == 0)
		if err := h.execute(); err != nil {
			return nil, fmt.Errorf("order %d: %w", k, err)
		}

		digests, err := h.digests()
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", k, err)
		}
		if k == 0 {
			want = digests[0]
			result.Digest = want
			result.Elements = h.replicas[0].eng.Snapshot()
		}
		h.evaluate(k, digests, want)
	}
	return result, nil
}

func newHarness(s *Scenario, order uint64, cfg runConfig, result *Result, record bool) *Harness {
	clock := testutil.NewManualClock()
	h := &Harness{
		scenario: s,
		byID:     make(map[string]*replica, len(s.Replicas)),
		rng:      rand.New(rand.NewPCG(s.Seed, order)),
		clock:    clock,
		logger:   cfg.logger.With("scenario", s.Name, "order", order),
		record:   record,
		result:   result,
	}
	for _, id := range s.Replicas {
		opts := append(slices.Clone(cfg.engineOpts),
			engine.WithIDGenerator(testutil.NewSequenceGenerator(id)),
			engine.WithNow(clock.Now),
		)
		r := &replica{id: id, eng: engine.New(id, opts...)}
		h.replicas = append(h.replicas, r)
		h.byID[id] = r
	}
	return h
}

func (h *Harness) execute() error {
	for i, step := range h.scenario.Steps {
		if step.Action == ActionSync {
			if err := h.sync(step.Replica); err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
			continue
		}

		r := h.byID[step.Replica]
		u, err := h.local(r, step)
		if msg := checkExpect(step, err); msg != "" {
			h.fail(fmt.Sprintf("steps[%d] %s %s on %s: %s", i, step.Action, step.ID, r.id, msg))
		}
		if err != nil {
			h.logger.Debug("local step rejected", "step", i, "replica", r.id, "error", err)
			h.trace(TraceEvent{Kind: TraceLocal, Replica: r.id, Action: step.Action, Outcome: errorCode(err)})
			continue
		}
		if u == nil {
			continue
		}
		h.trace(TraceEvent{Kind: TraceLocal, Replica: r.id, Action: step.Action, OpIDs: u.opIDs(), Outcome: OutcomeApplied})
		for _, other := range h.replicas {
			if other != r {
				other.inbox = append(other.inbox, *u)
			}
		}
	}
	return h.sync("")
}

// local performs step on r's engine and returns the unit to broadcast, or
// nil when nothing changed.
func (h *Harness) local(r *replica, step Step) (*unit, error) {
	eng := r.eng

	var (
		op  board.Op
		err error
	)
	switch step.Action {
	case ActionCreate:
		el := board.Element{ID: step.ID, Type: elementType(step.Type), ParentID: step.Parent}
		if step.Position != nil {
			el.Position = board.Position{X: step.Position.X, Y: step.Position.Y}
		}
		el.Size = board.Size{W: step.Size.W, H: step.Size.H}
		if el.Style, err = toAttrs(step.Style); err != nil {
			return nil, err
		}
		op, err = eng.Create(el)
	case ActionMove:
		op, err = eng.Move(step.ID, board.Position{X: step.Position.X, Y: step.Position.Y})
	case ActionResize:
		op, err = eng.Resize(step.ID, board.Size{W: step.Size.W, H: step.Size.H})
	case ActionRestyle:
		var style board.Attrs
		if style, err = toAttrs(step.Style); err != nil {
			return nil, err
		}
		op, err = eng.Restyle(step.ID, style)
	case ActionDelete:
		op, err = eng.Delete(step.ID)
	case ActionReparent:
		op, err = eng.Reparent(step.ID, step.Parent)
	case ActionUndo, ActionRedo:
		unwind := eng.Undo
		if step.Action == ActionRedo {
			unwind = eng.Redo
		}
		b, _, err := unwind()
		if err != nil {
			return nil, err
		}
		return batchUnit(r.id, b), nil
	case ActionDrag:
		return h.drag(r, step)
	default:
		return nil, fmt.Errorf("unknown action %q", step.Action)
	}
	if err != nil {
		return nil, err
	}

	ev, err := eng.Apply(op)
	if err != nil {
		return nil, err
	}
	if ev.IsZero() {
		return nil, nil
	}
	return &unit{from: r.id, op: &op}, nil
}

func (h *Harness) drag(r *replica, step Step) (*unit, error) {
	eng := r.eng
	if err := eng.BeginDrag(step.IDs...); err != nil {
		return nil, err
	}
	if _, err := eng.UpdateDrag(board.Position{X: step.Delta.X, Y: step.Delta.Y}); err != nil {
		_, _ = eng.CancelDrag()
		return nil, err
	}
	b, _, err := eng.CommitDrag()
	if err != nil {
		return nil, err
	}
	return batchUnit(r.id, b), nil
}

func batchUnit(from string, b board.Batch) *unit {
	switch {
	case len(b.Ops) == 0:
		return nil
	case b.ID == "" && len(b.Ops) == 1:
		op := b.Ops[0]
		return &unit{from: from, op: &op}
	default:
		return &unit{from: from, batch: &b}
	}
}

// sync delivers every queued unit to target, or to all replicas when
// target is empty, in a seeded random order.
func (h *Harness) sync(target string) error {
	for _, r := range h.replicas {
		if target != "" && r.id != target {
			continue
		}
		h.rng.Shuffle(len(r.inbox), func(i, j int) {
			r.inbox[i], r.inbox[j] = r.inbox[j], r.inbox[i]
		})
		for _, u := range r.inbox {
			if err := h.deliver(r, u); err != nil {
				return err
			}
		}
		r.inbox = nil
	}
	return nil
}

func (h *Harness) deliver(r *replica, u unit) error {
	var (
		ev  engine.Event
		err error
	)
	if u.op != nil {
		ev, err = r.eng.Ingest(*u.op)
	} else {
		ev, err = r.eng.IngestBatch(*u.batch)
	}

	outcome := OutcomeApplied
	switch {
	case err == nil && ev.IsZero():
		outcome = OutcomeSkipped
	case err == nil:
	case engine.IsStaleOp(err):
		outcome = OutcomeStale
	case engine.IsTargetMissing(err):
		outcome = OutcomeBuffered
	default:
		return fmt.Errorf("deliver %v from %s to %s: %w", u.opIDs(), u.from, r.id, err)
	}
	h.logger.Debug("delivered", "from", u.from, "to", r.id, "op_ids", u.opIDs(), "outcome", outcome)
	h.trace(TraceEvent{Kind: TraceDeliver, Replica: r.id, From: u.from, OpIDs: u.opIDs(), Outcome: outcome})
	return nil
}

func (h *Harness) digests() ([]string, error) {
	out := make([]string, len(h.replicas))
	for i, r := range h.replicas {
		d, err := r.eng.Digest()
		if err != nil {
			return nil, fmt.Errorf("digest %s: %w", r.id, err)
		}
		out[i] = d
	}
	return out, nil
}

func (h *Harness) trace(ev TraceEvent) {
	if !h.record {
		return
	}
	h.seq++
	ev.Seq = h.seq
	h.result.Trace = append(h.result.Trace, ev)
}

func (h *Harness) fail(msg string) {
	h.result.AddError(msg)
}

// checkExpect compares a local step's error with its Expect code and
// returns a failure message, or "" when they agree.
func checkExpect(step Step, err error) string {
	got := errorCode(err)
	switch {
	case step.Expect == "" && err != nil:
		return fmt.Sprintf("unexpected error: %v", err)
	case step.Expect != "" && err == nil:
		return fmt.Sprintf("expected %s, step succeeded", step.Expect)
	case step.Expect != "" && got != step.Expect:
		return fmt.Sprintf("expected %s, got %v", step.Expect, err)
	}
	return ""
}

func errorCode(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, engine.ErrNothingToUndo) {
		return ExpectNothingToUndo
	}
	var opErr *engine.OpError
	if errors.As(err, &opErr) {
		return string(opErr.Code)
	}
	return err.Error()
}

// toAttrs converts YAML style values into board values.
func toAttrs(style map[string]any) (board.Attrs, error) {
	if len(style) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(style)
	if err != nil {
		return nil, fmt.Errorf("style: %w", err)
	}
	var attrs board.Attrs
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("style: %w", err)
	}
	return attrs, nil
}
