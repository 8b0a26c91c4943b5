package registry

import (
	"reflect"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type move struct{ X, Y float32 }
type chat struct{ Text string }
type spawn struct{}

func newTestRegistry(t *testing.T) *Registry[string] {
	t.Helper()
	r := New[string]("rpc")
	_, err := r.RegisterLocal("game.Move", reflect.TypeFor[move](), "move")
	require.NoError(t, err)
	_, err = r.RegisterLocal("game.Chat", reflect.TypeFor[chat](), "chat")
	require.NoError(t, err)
	_, err = r.RegisterLocal("game.Spawn", reflect.TypeFor[spawn](), "spawn")
	require.NoError(t, err)
	return r
}

func TestHashIsStable(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Hash("game.Move"), Hash("game.Move"))
	assert.NotEqual(t, Hash("game.Move"), Hash("game.Chat"))
}

// TestAssignRuntimeIDs tests that ids follow registration order starting at 1
func TestAssignRuntimeIDs(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	mappings, err := r.AssignRuntimeIDs()
	require.NoError(t, err)

	require.Len(t, mappings, 3)
	assert.Equal(t, Mapping{Hash: Hash("game.Move"), ID: 1}, mappings[0])
	assert.Equal(t, Mapping{Hash: Hash("game.Chat"), ID: 2}, mappings[1])
	assert.Equal(t, Mapping{Hash: Hash("game.Spawn"), ID: 3}, mappings[2])

	id, err := r.IDOf(reflect.TypeFor[chat]())
	require.NoError(t, err)
	assert.Equal(t, uint16(2), id)

	e, err := r.Lookup(3)
	require.NoError(t, err)
	assert.Equal(t, "spawn", e.Desc)
	assert.Equal(t, reflect.TypeFor[spawn](), e.Type)

	_, err = r.AssignRuntimeIDs()
	assert.True(t, eris.Is(err, ErrAlreadyAssigned))
}

func TestIDOfBeforeNegotiation(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)

	_, err := r.IDOf(reflect.TypeFor[move]())
	assert.True(t, eris.Is(err, ErrUnregisteredType))

	_, err = r.IDOf(reflect.TypeFor[int]())
	assert.True(t, eris.Is(err, ErrUnregisteredType))

	_, err = r.Lookup(1)
	assert.True(t, eris.Is(err, ErrUnknownRuntimeID))
}

func TestLearnDropsUnknownHashes(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)

	assert.True(t, r.Learn(Hash("game.Chat"), 7))
	assert.False(t, r.Learn(Hash("game.NotInThisBuild"), 8))

	id, err := r.IDOfName("game.Chat")
	require.NoError(t, err)
	assert.Equal(t, uint16(7), id)

	_, err = r.Lookup(8)
	assert.True(t, eris.Is(err, ErrUnknownRuntimeID))
	assert.Equal(t, []Mapping{{Hash: Hash("game.Chat"), ID: 7}}, r.Mappings())
}

func TestRelearnReplacesID(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	r.Learn(Hash("game.Move"), 4)
	r.Learn(Hash("game.Move"), 5)

	_, err := r.Lookup(4)
	assert.Error(t, err)
	e, err := r.Lookup(5)
	require.NoError(t, err)
	assert.Equal(t, "game.Move", e.Name)
}

func TestResetKeepsLocalCatalog(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	_, err := r.AssignRuntimeIDs()
	require.NoError(t, err)

	r.Reset()

	assert.Equal(t, 3, r.Len())
	assert.Zero(t, r.NegotiatedLen())
	assert.Empty(t, r.Mappings())

	_, err = r.IDOf(reflect.TypeFor[move]())
	assert.True(t, eris.Is(err, ErrUnregisteredType))

	_, err = r.AssignRuntimeIDs()
	assert.NoError(t, err)
}

func TestRegisterLocalRejectsDuplicates(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)

	_, err := r.RegisterLocal("game.Move", reflect.TypeFor[int](), "x")
	assert.True(t, eris.Is(err, ErrDuplicateName))

	_, err = r.RegisterLocal("game.Other", reflect.TypeFor[move](), "x")
	assert.True(t, eris.Is(err, ErrDuplicateType))

	_, err = r.RegisterLocal("prefab.Tree", nil, "tree")
	assert.NoError(t, err)
	_, err = r.RegisterLocal("prefab.Rock", nil, "rock")
	assert.NoError(t, err)
}

func TestMappingsFromDifferentBuildsAgree(t *testing.T) {
	t.Parallel()

	server := newTestRegistry(t)
	mappings, err := server.AssignRuntimeIDs()
	require.NoError(t, err)

	client := New[string]("rpc")
	_, err = client.RegisterLocal("game.Spawn", reflect.TypeFor[spawn](), "spawn")
	require.NoError(t, err)
	_, err = client.RegisterLocal("game.Move", reflect.TypeFor[move](), "move")
	require.NoError(t, err)

	for _, m := range mappings {
		client.Learn(m.Hash, m.ID)
	}

	for _, typ := range []reflect.Type{reflect.TypeFor[spawn](), reflect.TypeFor[move]()} {
		want, err := server.IDOf(typ)
		require.NoError(t, err)
		got, err := client.IDOf(typ)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
