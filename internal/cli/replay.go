package cli

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
	"github.com/soa-bra/glass-project-flow-sub021/internal/engine"
	"github.com/soa-bra/glass-project-flow-sub021/internal/store"
)

// replayOrigin is the origin of the scratch engines replays run on. It
// never appears in a log, so every op takes the remote path.
const replayOrigin = "boardsync-replay"

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	DB       string // path to the op log
	Driver   string // op log driver
	Board    string // optional: replay a single board
	Shuffles int    // seeded shuffles per board
	Seed     uint64 // shuffle seed
}

// OrderResult is one delivery order of a board's log.
type OrderResult struct {
	Order    string `json:"order"`
	Digest   string `json:"digest"`
	Applied  int    `json:"applied"`
	Skipped  int    `json:"skipped"`
	Buffered int    `json:"buffered"`
	Match    bool   `json:"match"`
}

// BoardReplay holds the verification result for one board.
type BoardReplay struct {
	Board         string        `json:"board"`
	Ops           int           `json:"ops"`
	Elements      int           `json:"elements"`
	Digest        string        `json:"digest"`
	Deterministic bool          `json:"deterministic"`
	Orders        []OrderResult `json:"orders"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Boards        []BoardReplay `json:"boards"`
	Deterministic bool          `json:"deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Verify a relay op log converges in any delivery order",
		Long: `Replay a relay's op log into fresh engines and compare state digests.

Each board is replayed in log order, in reverse and in seeded shuffles.
Batches stay together with their marker. Every order must reach the same
digest as log order.

Exit codes:
  0 - Every board converged
  1 - A board diverged
  2 - Command error (database not found, unknown board)

Examples:
  boardsync replay --db boards.db
  boardsync replay --db boards.bolt --driver bolt --board roadmap
  boardsync replay --db boards.db --shuffles 20 --seed 7 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "path to the op log (required)")
	cmd.Flags().StringVar(&opts.Driver, "driver", store.DriverSQLite, "op log driver (sqlite|bolt)")
	cmd.Flags().StringVar(&opts.Board, "board", "", "replay a single board")
	cmd.Flags().IntVar(&opts.Shuffles, "shuffles", 5, "seeded shuffles per board")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 1, "shuffle seed")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, cmd *cobra.Command) error {
	if _, err := os.Stat(opts.DB); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", opts.DB))
	}
	if opts.Shuffles < 0 {
		return NewExitError(ExitCommandError, "--shuffles must be non-negative")
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	engineOpts := cfg.EngineOptions()

	log, err := store.Open(opts.Driver, opts.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open op log", err)
	}
	defer log.Close()

	logger := opts.logger(cmd.ErrOrStderr())

	var boards []string
	if opts.Board != "" {
		boards = []string{opts.Board}
	} else {
		infos, err := log.Boards(ctx)
		if err != nil {
			return fmt.Errorf("failed to list boards: %w", err)
		}
		for _, info := range infos {
			boards = append(boards, info.ID)
		}
	}

	result := ReplayResult{Boards: make([]BoardReplay, 0, len(boards)), Deterministic: true}
	for _, id := range boards {
		records, err := log.History(ctx, id, 0)
		if err != nil {
			return fmt.Errorf("failed to read board %s: %w", id, err)
		}
		if len(records) == 0 && opts.Board != "" {
			return NewExitError(ExitCommandError, fmt.Sprintf("board not found: %s", id))
		}
		br, err := verifyBoard(id, store.Ops(records), opts.Shuffles, opts.Seed, engineOpts)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("failed to replay board %s", id), err)
		}
		logger.Debug("board replayed", "board", id, "ops", br.Ops, "deterministic", br.Deterministic)
		result.Boards = append(result.Boards, br)
		if !br.Deterministic {
			result.Deterministic = false
		}
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	text := func(w io.Writer) { writeReplayText(w, result, opts.Verbose) }
	if !result.Deterministic {
		if err := out.Failure("DIVERGED", "replicas diverged", result, text); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return out.Success(result, text)
}

type deliveryOrder struct {
	name  string
	units [][]board.Op
}

// verifyBoard replays ops in log order, reversed and in shuffles seeded
// from seed, comparing every digest with log order's.
func verifyBoard(id string, ops []board.Op, shuffles int, seed uint64, engineOpts []engine.Option) (BoardReplay, error) {
	units := deliveryUnits(ops)

	br := BoardReplay{Board: id, Ops: len(ops), Deterministic: true}
	base, elements, err := replayUnits("log", units, engineOpts)
	if err != nil {
		return BoardReplay{}, err
	}
	base.Match = true
	br.Digest = base.Digest
	br.Elements = elements
	br.Orders = append(br.Orders, base)

	orders := []deliveryOrder{{"reversed", reversed(units)}}
	rng := rand.New(rand.NewPCG(seed, uint64(len(ops))))
	for i := range shuffles {
		shuffled := slices.Clone(units)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		orders = append(orders, deliveryOrder{fmt.Sprintf("shuffle-%d", i+1), shuffled})
	}

	for _, o := range orders {
		res, _, err := replayUnits(o.name, o.units, engineOpts)
		if err != nil {
			return BoardReplay{}, err
		}
		res.Match = res.Digest == base.Digest
		if !res.Match {
			br.Deterministic = false
		}
		br.Orders = append(br.Orders, res)
	}
	return br, nil
}

func replayUnits(name string, units [][]board.Op, engineOpts []engine.Option) (OrderResult, int, error) {
	eng := engine.New(replayOrigin, engineOpts...)
	res, err := eng.Replay(slices.Concat(units...))
	if err != nil {
		return OrderResult{}, 0, fmt.Errorf("%s: %w", name, err)
	}
	digest, err := eng.Digest()
	if err != nil {
		return OrderResult{}, 0, fmt.Errorf("%s: %w", name, err)
	}
	return OrderResult{
		Order:    name,
		Digest:   digest,
		Applied:  res.Applied,
		Skipped:  res.Skipped,
		Buffered: res.Buffered,
	}, len(eng.Snapshot()), nil
}

// deliveryUnits splits a log into what travels together on the wire: a
// single op, or a batch marker with the ops it announces.
func deliveryUnits(ops []board.Op) [][]board.Op {
	var units [][]board.Op
	for i := 0; i < len(ops); {
		n := 1
		if p, ok := ops[i].Payload.(board.BatchMarkerPayload); ok {
			n = min(1+p.Count, len(ops)-i)
		}
		units = append(units, ops[i:i+n])
		i += n
	}
	return units
}

func reversed(units [][]board.Op) [][]board.Op {
	out := slices.Clone(units)
	slices.Reverse(out)
	return out
}

func writeReplayText(w io.Writer, result ReplayResult, verbose bool) {
	if len(result.Boards) == 0 {
		fmt.Fprintln(w, "No boards found.")
		return
	}
	for _, b := range result.Boards {
		mark := "✓"
		if !b.Deterministic {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s: %d ops, %d elements, digest %s\n", mark, b.Board, b.Ops, b.Elements, shortDigest(b.Digest))
		for _, o := range b.Orders {
			if o.Match && !verbose {
				continue
			}
			status := "ok"
			if !o.Match {
				status = "DIVERGED"
			}
			fmt.Fprintf(w, "    %-10s %s applied=%d skipped=%d buffered=%d %s\n",
				o.Order, shortDigest(o.Digest), o.Applied, o.Skipped, o.Buffered, status)
		}
	}
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
