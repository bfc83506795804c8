package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soa-bra/glass-project-flow-sub021/internal/engine"
)

var _ engine.IDGenerator = (*SequenceGenerator)(nil)

func TestManualClock_StartsAtEpoch(t *testing.T) {
	c := NewManualClock()
	assert.Equal(t, Epoch, c.Now())
}

func TestManualClock_Advance(t *testing.T) {
	c := NewManualClock()

	assert.Equal(t, Epoch.Add(time.Second), c.Advance(time.Second))
	assert.Equal(t, Epoch.Add(time.Second), c.Advance(-time.Hour))
	assert.Equal(t, Epoch.Add(time.Second), c.Now())

	c.Reset()
	assert.Equal(t, Epoch, c.Now())
}

func TestSequenceGenerator_Sequence(t *testing.T) {
	g := NewSequenceGenerator("a")
	assert.Equal(t, "a-0001", g.Generate())
	assert.Equal(t, "a-0002", g.Generate())

	g.Reset()
	assert.Equal(t, "a-0001", g.Generate())

	assert.Equal(t, "id-0001", NewSequenceGenerator("").Generate())
}

func TestSequenceGenerator_SortsInMintOrder(t *testing.T) {
	g := NewSequenceGenerator("x")
	prev := g.Generate()
	for i := 0; i < 50; i++ {
		next := g.Generate()
		require.Less(t, prev, next)
		prev = next
	}
}

func TestSequenceGenerator_ThreadSafe(t *testing.T) {
	g := NewSequenceGenerator("t")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool)
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := g.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 1000)
}
