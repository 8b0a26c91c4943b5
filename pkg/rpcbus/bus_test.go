package rpcbus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type move struct{ X, Y int }
type chat struct{ Text string }

func TestDrainOrderAndClear(t *testing.T) {
	t.Parallel()

	b := New()
	Register[move](b)

	require.NoError(t, Push(b, move{X: 1}, 3))
	require.NoError(t, Push(b, move{X: 2}, 4))
	assert.Equal(t, 2, Pending[move](b))

	var got []Envelope[move]
	require.NoError(t, Drain(b, func(m move, from ClientID) {
		got = append(got, Envelope[move]{RPC: m, From: from})
	}))
	assert.Equal(t, []Envelope[move]{{move{X: 1}, 3}, {move{X: 2}, 4}}, got)

	calls := 0
	require.NoError(t, Drain(b, func(move, ClientID) { calls++ }))
	assert.Zero(t, calls)
}

// TestPushDuringDrain tests that RPCs pushed by a handler land in the next batch
func TestPushDuringDrain(t *testing.T) {
	t.Parallel()

	b := New()
	Register[move](b)
	Push(b, move{X: 1}, 1)

	var seen []int
	require.NoError(t, Drain(b, func(m move, from ClientID) {
		seen = append(seen, m.X)
		Push(b, move{X: m.X + 1}, from)
	}))
	assert.Equal(t, []int{1}, seen)

	require.NoError(t, Drain(b, func(m move, _ ClientID) { seen = append(seen, m.X) }))
	assert.Equal(t, []int{1, 2}, seen)
}

func TestDrainIsNotReentrant(t *testing.T) {
	t.Parallel()

	b := New()
	Register[move](b)
	Push(b, move{}, 0)

	var inner error
	require.NoError(t, Drain(b, func(move, ClientID) {
		inner = Drain(b, func(move, ClientID) {})
	}))
	assert.Error(t, inner)
}

func TestUnregisteredType(t *testing.T) {
	t.Parallel()

	b := New()
	assert.ErrorIs(t, Push(b, chat{}, 0), ErrNotRegistered)
	assert.ErrorIs(t, Drain(b, func(chat, ClientID) {}), ErrNotRegistered)
	assert.False(t, b.PushAny(chat{}, 0))
	assert.Zero(t, Pending[chat](b))
}

func TestPushSafeFromOtherGoroutines(t *testing.T) {
	t.Parallel()

	b := New()
	Register[chat](b)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				PushSafe(b, chat{Text: "x"}, ClientID(i))
			}
		}()
	}
	wg.Wait()

	n := 0
	require.NoError(t, Drain(b, func(chat, ClientID) { n++ }))
	assert.Equal(t, 800, n)
}

func TestHubDeliversToEveryWorld(t *testing.T) {
	t.Parallel()

	h := NewHub()
	a, b, c := New(), New(), New()
	Register[chat](a)
	Register[chat](b)
	Register[move](c)
	h.Attach(a)
	h.Attach(b)
	h.Attach(b)
	h.Attach(c)

	assert.Equal(t, 2, h.Deliver(chat{Text: "hi"}, 5))
	assert.Equal(t, 1, Pending[chat](a))
	assert.Equal(t, 1, Pending[chat](b))

	h.Detach(a)
	assert.Equal(t, 1, h.Deliver(chat{Text: "again"}, 5))
	assert.Equal(t, 1, Pending[chat](a))

	h.Clear()
	assert.Zero(t, Pending[chat](b))
}
