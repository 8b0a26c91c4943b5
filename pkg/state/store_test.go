package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type health struct {
	Current Var[int32]
	Max     Var[int32]
}

func (h *health) NetVars() []Slot { return []Slot{&h.Current, &h.Max} }

type transform struct {
	X Var[float32]
	Y Var[float32]
}

func (tr *transform) NetVars() []Slot { return []Slot{&tr.X, &tr.Y} }

func TestVarDirtyTracksLastSent(t *testing.T) {
	t.Parallel()

	v := NewVar[int32](5)
	assert.False(t, v.Dirty())

	v.Set(6)
	assert.True(t, v.Dirty())

	v.Set(5)
	assert.False(t, v.Dirty())
}

func TestAuthoritativeWriteCountsOnce(t *testing.T) {
	t.Parallel()

	s := NewStore(true)
	h := &health{Current: NewVar[int32](100), Max: NewVar[int32](100)}
	c, err := s.AddComponent(1, 3, h)
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	h.Current.Set(90)
	h.Current.Set(80)
	assert.Equal(t, uint8(1), c.NumDirty())

	h.Max.Set(120)
	assert.Equal(t, uint8(2), c.NumDirty())

	h.Max.Set(100)
	assert.Equal(t, uint8(1), c.NumDirty())
	assert.True(t, s.entities[1].Dirty())
}

func TestNonAuthoritativeWritesDoNotCount(t *testing.T) {
	t.Parallel()

	s := NewStore(false)
	h := &health{}
	c, err := s.AddComponent(1, 3, h)
	require.NoError(t, err)

	h.Current.Set(1)
	assert.True(t, h.Current.Dirty())
	assert.Zero(t, c.NumDirty())
}

func TestResetDeltas(t *testing.T) {
	t.Parallel()

	s := NewStore(true)
	h := &health{}
	tr := &transform{}
	_, err := s.AddComponent(1, 1, h)
	require.NoError(t, err)
	_, err = s.AddComponent(2, 2, tr)
	require.NoError(t, err)

	h.Current.Set(3)
	tr.Y.Set(1.5)
	s.GetOrCreateEntity(1).MarkEnabledDirty()
	c, _ := s.TryGetComponentState(2, 2)
	c.MarkEnabledDirty()

	s.ResetDeltas()

	for _, netID := range s.Entities() {
		e, ok := s.TryGetEntity(netID)
		require.True(t, ok)
		assert.False(t, e.Dirty())
		assert.False(t, e.EnabledDirty())
	}
	assert.False(t, h.Current.Dirty())
	assert.Equal(t, int32(3), h.Current.Get())
	assert.False(t, tr.Y.Dirty())

	h.Current.Set(3)
	assert.False(t, h.Current.Dirty(), "value equal to last sent stays clean")
}

func TestApplyDoesNotDirty(t *testing.T) {
	t.Parallel()

	src := NewVar[float32](2.25)
	data, err := src.AppendValue(nil)
	require.NoError(t, err)

	s := NewStore(true)
	tr := &transform{}
	c, err := s.AddComponent(4, 1, tr)
	require.NoError(t, err)

	require.NoError(t, tr.X.Apply(data))
	assert.Equal(t, float32(2.25), tr.X.Get())
	assert.False(t, tr.X.Dirty())
	assert.Zero(t, c.NumDirty())

	assert.Error(t, tr.X.Apply([]byte{0xc1}))
}

func TestInterpolateOnlyForFloats(t *testing.T) {
	t.Parallel()

	f := NewInterpolatedVar[float64](1)
	i := NewInterpolatedVar[int32](1)
	assert.True(t, f.Interpolate())
	assert.False(t, i.Interpolate())
}

func TestRemoveOperations(t *testing.T) {
	t.Parallel()

	s := NewStore(true)
	h := &health{}
	tr := &transform{}
	_, err := s.AddComponent(7, 1, h)
	require.NoError(t, err)
	_, err = s.AddComponent(7, 2, tr)
	require.NoError(t, err)

	h.Current.Set(1)
	s.RemoveVar(7, 1, 0)
	c, ok := s.TryGetComponentState(7, 1)
	require.True(t, ok)
	assert.Equal(t, 1, c.Len())
	assert.Zero(t, c.NumDirty())
	_, ok = c.Var(0)
	assert.False(t, ok)

	s.RemoveComponent(7, 1)
	_, ok = s.TryGetComponentState(7, 1)
	assert.False(t, ok)

	e, ok := s.TryGetEntity(7)
	require.True(t, ok)
	var ids []uint16
	e.Components(func(c *ComponentState) { ids = append(ids, c.ID()) })
	assert.Equal(t, []uint16{2}, ids)

	s.RemoveEntity(7)
	_, ok = s.TryGetEntity(7)
	assert.False(t, ok)
	assert.Empty(t, s.Entities())

	tr.X.Set(9)
	assert.True(t, tr.X.Dirty())
}

func TestAddVarRejectsDuplicates(t *testing.T) {
	t.Parallel()

	s := NewStore(true)
	v1 := NewVar(1)
	v2 := NewVar(2)
	require.NoError(t, s.AddVar(1, 1, 0, &v1))
	assert.ErrorIs(t, s.AddVar(1, 1, 0, &v2), ErrDuplicateVar)
}

func TestInsertionOrder(t *testing.T) {
	t.Parallel()

	s := NewStore(false)
	for _, id := range []uint16{9, 3, 5} {
		s.GetOrCreateEntity(id)
	}
	assert.Equal(t, []uint16{9, 3, 5}, s.Entities())

	s.Clear()
	assert.Zero(t, s.Len())
}
