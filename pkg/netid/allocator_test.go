package netid

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextStartsAtOne(t *testing.T) {
	t.Parallel()

	a := NewAllocator()
	for want := uint16(1); want <= 5; want++ {
		id, err := a.Next()
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
	assert.Equal(t, 5, a.Live())
}

func TestRecycleIsLIFO(t *testing.T) {
	t.Parallel()

	a := NewAllocator()
	for range 4 {
		_, err := a.Next()
		require.NoError(t, err)
	}

	a.Recycle(2)
	a.Recycle(3)

	id, _ := a.Next()
	assert.Equal(t, uint16(3), id)
	id, _ = a.Next()
	assert.Equal(t, uint16(2), id)
	id, _ = a.Next()
	assert.Equal(t, uint16(5), id)
}

func TestReleaseWaitsForTwoFlushes(t *testing.T) {
	t.Parallel()

	a := NewAllocator()
	id, _ := a.Next()
	a.Release(id)

	next, _ := a.Next()
	assert.NotEqual(t, id, next)

	a.Flush()
	next, _ = a.Next()
	assert.NotEqual(t, id, next)

	a.Flush()
	next, _ = a.Next()
	assert.Equal(t, id, next)
}

func TestLiveIdsAreUnique(t *testing.T) {
	t.Parallel()

	a := NewAllocator()
	live := map[uint16]bool{}

	for i := range 2000 {
		if i%3 == 2 {
			for id := range live {
				a.Release(id)
				delete(live, id)
				break
			}
			a.Flush()
			continue
		}
		id, err := a.Next()
		require.NoError(t, err)
		require.NotEqual(t, Invalid, id)
		require.False(t, live[id], "id %d issued twice", id)
		live[id] = true
	}
	assert.Equal(t, len(live), a.Live())
}

func TestExhausted(t *testing.T) {
	t.Parallel()

	a := NewAllocator()
	for range math.MaxUint16 {
		_, err := a.Next()
		require.NoError(t, err)
	}
	_, err := a.Next()
	assert.ErrorIs(t, err, ErrExhausted)

	a.Recycle(10)
	id, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, uint16(10), id)
}

func TestReset(t *testing.T) {
	t.Parallel()

	a := NewAllocator()
	a.Next()
	a.Next()
	a.Release(1)
	a.Recycle(2)
	a.Reset()

	id, _ := a.Next()
	assert.Equal(t, uint16(1), id)
	id, _ = a.Next()
	assert.Equal(t, uint16(2), id)
	assert.Equal(t, 2, a.Live())
}
