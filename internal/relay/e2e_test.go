package relay_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
	"github.com/soa-bra/glass-project-flow-sub021/internal/collab"
	"github.com/soa-bra/glass-project-flow-sub021/internal/engine"
	"github.com/soa-bra/glass-project-flow-sub021/internal/relay"
	"github.com/soa-bra/glass-project-flow-sub021/internal/store"
	"github.com/soa-bra/glass-project-flow-sub021/internal/transport/ws"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

func startRelay(t *testing.T) (string, store.Log) {
	t.Helper()
	log, err := store.OpenSQLite(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	srv := relay.NewServer(log, relay.WithMetrics(relay.NewMetrics("e2e")))
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.CloseClientConnections()
		srv.Close()
		hs.Close()
		log.Close()
	})
	return hs.URL, log
}

func connect(t *testing.T, base, id string) *collab.Session {
	t.Helper()
	u, err := ws.BoardURL(base, "b1", id)
	require.NoError(t, err)
	client := ws.Dial(u)

	cfg := collab.DefaultConfig()
	cfg.Board = "b1"
	cfg.HeartbeatInterval = 50 * time.Millisecond
	s := collab.NewSession(engine.New(id), client, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		client.Close()
	})
	return s
}

func TestRelay_SessionsConvergeThroughRelay(t *testing.T) {
	base, log := startRelay(t)
	alice := connect(t, base, "alice")

	op, err := alice.Engine().Create(board.Element{
		ID: "x", Type: board.TypeShape, Size: board.Size{W: 10, H: 10},
	})
	require.NoError(t, err)
	_, err = alice.Submit(context.Background(), op)
	require.NoError(t, err)

	// A late joiner catches up from the relay's log.
	bob := connect(t, base, "bob")
	require.Eventually(t, func() bool {
		_, ok := bob.Engine().Element("x")
		return ok
	}, waitFor, tick)

	move, err := bob.Engine().Move("x", board.Position{X: 30, Y: 40})
	require.NoError(t, err)
	_, err = bob.Submit(context.Background(), move)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		el, ok := alice.Engine().Element("x")
		return ok && el.Position == board.Position{X: 30, Y: 40}
	}, waitFor, tick)

	assert.Eventually(t, func() bool {
		a, errA := alice.Engine().Digest()
		b, errB := bob.Engine().Digest()
		return errA == nil && errB == nil && a == b
	}, waitFor, tick)

	assert.Eventually(t, func() bool {
		recs, err := log.History(context.Background(), "b1", 0)
		return err == nil && len(recs) == 2
	}, waitFor, tick)
}

func TestRelay_PresenceReachesPeers(t *testing.T) {
	base, _ := startRelay(t)
	alice := connect(t, base, "alice")
	bob := connect(t, base, "bob")

	require.NoError(t, alice.SetSelection(context.Background(), []string{"x"}))

	assert.Eventually(t, func() bool {
		p, ok := bob.Presence().Get("alice")
		return ok && len(p.SelectedIDs) == 1 && p.SelectedIDs[0] == "x"
	}, waitFor, tick)
}
