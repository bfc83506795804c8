package relay

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soa-bra/glass-project-flow-sub021/internal/collab"
	"github.com/soa-bra/glass-project-flow-sub021/internal/store"
	"github.com/soa-bra/glass-project-flow-sub021/internal/transport/ws"
)

type busInstance struct {
	srv *Server
	bus *RedisBus
	log store.Log
	url string
}

func startBusInstance(t *testing.T, addr, name string) *busInstance {
	t.Helper()
	log, err := store.OpenSQLite(filepath.Join(t.TempDir(), name+".db"))
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	bus := NewRedisBus(rdb, name, nil)
	srv := NewServer(log, WithBus(bus), WithMetrics(NewMetrics(name)))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
		rdb.Close()
		log.Close()
	})

	select {
	case <-bus.Ready():
	case <-time.After(waitFor):
		t.Fatalf("bus %s never subscribed", name)
	}
	return &busInstance{srv: srv, bus: bus, log: log, url: "http://" + ln.Addr().String()}
}

func (b *busInstance) join(t *testing.T, boardID, id string) *participant {
	t.Helper()
	u, err := ws.BoardURL(b.url, boardID, id)
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &participant{t: t, id: id, conn: conn}
}

func TestRedisBus_SharesOpsAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	east := startBusInstance(t, mr.Addr(), "east")
	west := startBusInstance(t, mr.Addr(), "west")

	alice := east.join(t, "b1", "alice")
	bob := west.join(t, "b1", "bob")
	alice.sync()
	bob.sync()

	op := createOp("c1", "alice", "x")
	alice.send(collab.OpEnvelope("", op))

	got := bob.read()
	assert.Equal(t, collab.KindOp, got.Kind)
	assert.Equal(t, "alice", got.From)
	assert.Equal(t, op, *got.Op)
	alice.expectSilence()

	for _, inst := range []*busInstance{east, west} {
		recs, err := inst.log.History(context.Background(), "b1", 0)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "c1", recs[0].Op.OpID)
	}
}

func TestRedisBus_IgnoresOwnPublications(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	self := NewRedisBus(rdb, "self", nil)
	other := NewRedisBus(rdb, "other", nil)

	type delivery struct{ board, data string }
	got := make(chan delivery, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- self.Run(ctx, func(boardID string, data []byte) {
			got <- delivery{boardID, string(data)}
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	<-self.Ready()

	require.NoError(t, self.Publish(ctx, "b1", []byte(`{"from":"self"}`)))
	require.NoError(t, other.Publish(ctx, "b2", []byte(`{"from":"other"}`)))

	select {
	case d := <-got:
		assert.Equal(t, "b2", d.board)
		assert.JSONEq(t, `{"from":"other"}`, d.data)
	case <-time.After(waitFor):
		t.Fatal("no delivery from the other instance")
	}
	select {
	case d := <-got:
		t.Fatalf("unexpected delivery %+v", d)
	case <-time.After(100 * time.Millisecond):
	}
}
