package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/soa-bra/glass-project-flow-sub021/internal/collab"
	"github.com/soa-bra/glass-project-flow-sub021/internal/engine"
	"github.com/soa-bra/glass-project-flow-sub021/internal/geom"
	"github.com/soa-bra/glass-project-flow-sub021/internal/selection"
	"github.com/soa-bra/glass-project-flow-sub021/internal/transport/ws"
)

// JoinOptions holds flags for the join command.
type JoinOptions struct {
	*RootOptions
	Relay    string
	Board    string
	ID       string
	Select   []string
	Duration time.Duration
}

// JoinResult is the participant's view of the board when it leaves.
type JoinResult struct {
	Board        string   `json:"board"`
	ConnectionID string   `json:"connection_id"`
	Elements     int      `json:"elements"`
	Visible      []string `json:"visible"`
	Selected     []string `json:"selected"`
	Participants []string `json:"participants"`
	Digest       string   `json:"digest"`
}

// NewJoinCommand creates the join command.
func NewJoinCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JoinOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a board as a participant",
		Long: `Connect to a relay as one participant and follow a board.

The participant resyncs from the relay, applies peers' edits and announces
its presence. With --select it selects the given elements once they exist
and keeps peers informed as they are deleted. On exit it reports the
board as this replica sees it.

Flags override the config file.

Examples:
  boardsync join --relay http://localhost:7070 --board planning
  boardsync join --select x,y --duration 30s --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runJoin(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Relay, "relay", "", "relay base URL")
	cmd.Flags().StringVar(&opts.Board, "board", "", "board id")
	cmd.Flags().StringVar(&opts.ID, "id", "", "connection id (default: random)")
	cmd.Flags().StringSliceVar(&opts.Select, "select", nil, "element ids to select")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "leave after this long (default: until interrupted)")

	return cmd
}

func runJoin(ctx context.Context, opts *JoinOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("relay") {
		cfg.Relay.URL = opts.Relay
	}
	if flags.Changed("board") {
		cfg.Collab.Board = opts.Board
	}
	id := opts.ID
	if id == "" {
		id = "participant-" + uuid.NewString()[:8]
	}
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	target, err := ws.BoardURL(cfg.Relay.URL, cfg.Collab.Board, id)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid relay url", err)
	}
	logger := opts.logger(cmd.ErrOrStderr()).With("connection_id", id, "board", cfg.Collab.Board)

	eng := engine.New(id, cfg.EngineOptions()...)
	client := ws.Dial(target, ws.WithLogger(logger))
	defer client.Close()
	session := collab.NewSession(eng, client, cfg.SessionConfig(), collab.WithLogger(logger))

	kernel := geom.NewKernel(cfg.Viewport(), cfg.KernelOptions()...)
	sel := selection.New(kernel, eng, selection.WithOnChange(func(ids []string) {
		if err := session.SetSelection(ctx, ids); err != nil {
			logger.Debug("selection not announced", "error", err)
		}
	}))
	defer sel.Close()

	changed := make(chan struct{}, 1)
	unsubscribe := eng.Subscribe(func(ev engine.Event) {
		logger.Debug("board changed", "type", ev.Type, "origin", ev.Origin, "elements", ev.ElementIDs)
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(ctx) }()

	want := slices.Clone(opts.Select)
	slices.Sort(want)
	for pending := len(want) > 0; pending; {
		select {
		case <-changed:
			pending = !slices.Equal(sel.Set(want...), want)
		case <-ctx.Done():
			pending = false
		}
	}

	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "session failed", err)
	}

	result, err := joinResult(cfg.Collab.Board, session, kernel, sel)
	if err != nil {
		return err
	}
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return out.Success(result, func(w io.Writer) { writeJoinText(w, result) })
}

func joinResult(boardID string, session *collab.Session, kernel *geom.Kernel, sel *selection.Manager) (JoinResult, error) {
	eng := session.Engine()
	digest, err := eng.Digest()
	if err != nil {
		return JoinResult{}, fmt.Errorf("failed to digest board: %w", err)
	}

	elements := eng.Snapshot()
	shapes := make([]geom.Shape, len(elements))
	for i, el := range elements {
		shapes[i] = el.Shape()
	}
	visible := kernel.BoxIntersect(kernel.VisibleWorldRect(), shapes)
	slices.Sort(visible)

	var participants []string
	for _, p := range session.Presence().List() {
		participants = append(participants, p.ConnectionID)
	}

	return JoinResult{
		Board:        boardID,
		ConnectionID: session.ID(),
		Elements:     len(elements),
		Visible:      nonNil(visible),
		Selected:     nonNil(sel.Selected()),
		Participants: nonNil(participants),
		Digest:       digest,
	}, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func writeJoinText(w io.Writer, r JoinResult) {
	fmt.Fprintf(w, "%s on %s: %d elements (%d visible), digest %s\n",
		r.ConnectionID, r.Board, r.Elements, len(r.Visible), shortDigest(r.Digest))
	if len(r.Selected) > 0 {
		fmt.Fprintf(w, "  selected: %v\n", r.Selected)
	}
	if len(r.Participants) > 0 {
		fmt.Fprintf(w, "  participants: %v\n", r.Participants)
	}
}
