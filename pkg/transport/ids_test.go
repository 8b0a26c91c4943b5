package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDPoolSkipsLoopback(t *testing.T) {
	t.Parallel()

	p := NewIDPool(3)
	for want := ClientID(1); want <= 3; want++ {
		id, err := p.Acquire()
		require.NoError(t, err)
		assert.Equal(t, want, id)
		assert.NotEqual(t, LoopbackClient, id)
	}
	_, err := p.Acquire()
	assert.ErrorIs(t, err, ErrServerFull)

	p.Release(2)
	id, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, ClientID(2), id)
}

func TestCounters(t *testing.T) {
	t.Parallel()

	var c Counters
	c.Sent(10)
	c.Sent(5)
	c.Received(3)
	c.Drop()

	assert.Equal(t, Stats{BytesIn: 3, BytesOut: 15, PacketsIn: 1, PacketsOut: 2, Dropped: 1}, c.Snapshot())
}

func TestDrainEvents(t *testing.T) {
	t.Parallel()

	ch := make(chan Event, 4)
	ch <- Event{Kind: EventConnected}
	ch <- Event{Kind: EventDisconnected}

	DrainEvents(ch)
	assert.Empty(t, ch)

	DrainEvents(ch)
	assert.Empty(t, ch)
}
