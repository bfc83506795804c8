package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soa-bra/glass-project-flow-sub021/internal/engine"
)

func TestCommandQueue_FIFO(t *testing.T) {
	q := newCommandQueue()
	for i := int64(1); i <= 3; i++ {
		seq := i
		require.True(t, q.Enqueue(command{run: func() (engine.Event, error) {
			return engine.Event{Seq: seq}, nil
		}}))
	}
	assert.Equal(t, 3, q.Len())

	select {
	case <-q.Wait():
	default:
		t.Fatal("expected a pending signal")
	}

	for want := int64(1); want <= 3; want++ {
		c, ok := q.TryDequeue()
		require.True(t, ok)
		ev, _ := c.run()
		assert.Equal(t, want, ev.Seq)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestCommandQueue_CloseReturnsRemainder(t *testing.T) {
	q := newCommandQueue()
	q.Enqueue(command{})
	q.Enqueue(command{})

	assert.Len(t, q.Close(), 2)
	assert.False(t, q.Enqueue(command{}))
	assert.Nil(t, q.Close())
}
