package wire

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/QYUbit/netsync/pkg/registry"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mappings(n int, seed uint64) []registry.Mapping {
	if n == 0 {
		return nil
	}
	m := make([]registry.Mapping, n)
	for i := range m {
		m[i] = registry.Mapping{Hash: seed*1_000_003 + uint64(i)*0x9e3779b97f4a7c15, ID: uint16(i + 1)}
	}
	return m
}

func TestHandshakeRoundTrip(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct{ rpcs, comps, prefabs int }{
		{0, 0, 0},
		{1, 0, 0},
		{0, 3, 0},
		{0, 0, 2},
		{7, 12, 5},
		{300, 1, 64},
	} {
		t.Run(fmt.Sprintf("%d_%d_%d", tc.rpcs, tc.comps, tc.prefabs), func(t *testing.T) {
			t.Parallel()

			in := Handshake{
				RPCs:       mappings(tc.rpcs, 1),
				Components: mappings(tc.comps, 2),
				Prefabs:    mappings(tc.prefabs, 3),
			}
			b, err := EncodeHandshake(in)
			require.NoError(t, err)
			assert.Equal(t, byte(KindHandshake), b[0])
			assert.Len(t, b, 1+6+10*(tc.rpcs+tc.comps+tc.prefabs))

			p, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, in, p)
		})
	}
}

func TestHandshakeLayout(t *testing.T) {
	t.Parallel()

	b, err := EncodeHandshake(Handshake{RPCs: []registry.Mapping{{Hash: 0x0102030405060708, ID: 0x0a0b}}})
	require.NoError(t, err)
	assert.Equal(t, []byte{
		byte(KindHandshake),
		1, 0,
		8, 7, 6, 5, 4, 3, 2, 1,
		0x0b, 0x0a,
		0, 0,
		0, 0,
	}, b)
}

func TestHandshakeResponseIsEmpty(t *testing.T) {
	t.Parallel()

	b := EncodeHandshakeResponse()
	assert.Equal(t, []byte{byte(KindHandshakeResponse)}, b)

	p, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, HandshakeResponse{}, p)
}

func TestRPCRoundTrip(t *testing.T) {
	t.Parallel()

	type chat struct {
		From string
		Text string
	}
	payload, err := MarshalPayload(chat{From: "a", Text: "hi"})
	require.NoError(t, err)

	b := EncodeRPC(9, payload)
	assert.Equal(t, []byte{byte(KindRPC), 9, 0}, b[:3])

	p, err := Decode(b)
	require.NoError(t, err)
	rpc, ok := p.(RPC)
	require.True(t, ok)
	assert.Equal(t, uint16(9), rpc.TypeID)

	var out chat
	require.NoError(t, UnmarshalPayload(rpc.Payload, &out))
	assert.Equal(t, chat{From: "a", Text: "hi"}, out)
}

func snapshot(comps, vars int) Snapshot {
	s := Snapshot{Enabled: true}
	for c := range comps {
		cs := ComponentSnapshot{ID: uint16(c*3 + 1), Enabled: c%2 == 0}
		for v := range vars {
			cs.Vars = append(cs.Vars, VarValue{ID: uint8(v), Data: []byte{byte(c), byte(v)}})
		}
		s.Components = append(s.Components, cs)
	}
	return s
}

// TestSnapshotRoundTrip tests CreateEntity encode/decode at the format limits
func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct{ comps, vars int }{
		{0, 0},
		{1, 0},
		{1, 1},
		{4, 3},
		{255, 2},
		{2, 255},
		{255, 255},
	} {
		t.Run(fmt.Sprintf("%dx%d", tc.comps, tc.vars), func(t *testing.T) {
			t.Parallel()

			s := snapshot(tc.comps, tc.vars)
			b, err := EncodeCreateEntity(42, s)
			require.NoError(t, err)

			p, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, CreateEntity{NetID: 42, Snapshot: s}, p)

			b, err = EncodeCreateEntityFromPrefab(42, 7, s)
			require.NoError(t, err)
			p, err = Decode(b)
			require.NoError(t, err)
			assert.Equal(t, CreateEntityFromPrefab{NetID: 42, PrefabID: 7, Snapshot: s}, p)
		})
	}
}

func TestSnapshotLimits(t *testing.T) {
	t.Parallel()

	_, err := EncodeCreateEntity(1, snapshot(256, 0))
	assert.True(t, eris.Is(err, ErrTooLarge))

	_, err = EncodeCreateEntity(1, snapshot(1, 256))
	assert.True(t, eris.Is(err, ErrTooLarge))

	big := Snapshot{Components: []ComponentSnapshot{{ID: 1, Vars: []VarValue{{Data: make([]byte, 70000)}}}}}
	_, err = EncodeCreateEntity(1, big)
	assert.True(t, eris.Is(err, ErrTooLarge))
}

func TestDestroyEntityLayout(t *testing.T) {
	t.Parallel()

	b := EncodeDestroyEntity(0x1234)
	assert.Equal(t, []byte{byte(KindDestroyEntity), 0x34, 0x12}, b)

	p, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, DestroyEntity{NetID: 0x1234}, p)
}

func TestEntityDeltaEmpty(t *testing.T) {
	t.Parallel()

	b, ok, err := EncodeEntityDelta(EntityDelta{NetID: 3})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, b)
}

func TestEntityDeltaSingleInstruction(t *testing.T) {
	t.Parallel()

	b, ok, err := EncodeEntityDelta(EntityDelta{NetID: 3, Instructions: []Instruction{ComponentEnabled(5, false)}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{byte(KindEntityDelta), 3, 0, 1, byte(OpComponentDisabled), 5, 0}, b)
}

func TestEntityDeltaRoundTrip(t *testing.T) {
	t.Parallel()

	d := EntityDelta{NetID: 300, Instructions: []Instruction{
		EntityEnabled(true),
		EntityEnabled(false),
		ComponentEnabled(2, true),
		ComponentEnabled(4, false),
		VarChanged(2, 1, []byte{0xcc, 0x10}),
	}}
	b, ok, err := EncodeEntityDelta(d)
	require.NoError(t, err)
	require.True(t, ok)

	p, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, d, p)
}

func TestChunkInstructions(t *testing.T) {
	t.Parallel()

	in := make([]Instruction, 600)
	chunks := ChunkInstructions(in)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 255)
	assert.Len(t, chunks[1], 255)
	assert.Len(t, chunks[2], 90)

	assert.Empty(t, ChunkInstructions(nil))

	for _, c := range chunks {
		_, ok, err := EncodeEntityDelta(EntityDelta{NetID: 1, Instructions: c})
		require.NoError(t, err)
		assert.True(t, ok)
	}
	_, _, err := EncodeEntityDelta(EntityDelta{NetID: 1, Instructions: in})
	assert.True(t, eris.Is(err, ErrTooLarge))
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	full, err := EncodeCreateEntity(1, snapshot(2, 2))
	require.NoError(t, err)

	for name, tc := range map[string]struct {
		data []byte
		want error
	}{
		"empty":               {nil, ErrEmptyPacket},
		"unknown kind":        {[]byte{200}, ErrUnknownPacketKind},
		"short destroy":       {[]byte{byte(KindDestroyEntity), 1}, ErrShortBuffer},
		"trailing destroy":    {[]byte{byte(KindDestroyEntity), 1, 0, 9}, ErrTrailingBytes},
		"truncated snapshot":  {full[:len(full)-1], ErrShortBuffer},
		"short handshake":     {[]byte{byte(KindHandshake), 2, 0, 1}, ErrShortBuffer},
		"unknown instruction": {[]byte{byte(KindEntityDelta), 1, 0, 1, 77}, ErrUnknownInstruction},
		"short rpc":           {[]byte{byte(KindRPC), 1}, ErrShortBuffer},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(tc.data)
			require.Error(t, err)
			assert.True(t, eris.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestDecodeAliasesInput(t *testing.T) {
	t.Parallel()

	b, err := EncodeCreateEntity(1, Snapshot{Components: []ComponentSnapshot{{ID: 1, Vars: []VarValue{{ID: 0, Data: []byte{1, 2, 3}}}}}})
	require.NoError(t, err)

	p, err := Decode(b)
	require.NoError(t, err)
	data := p.(CreateEntity).Snapshot.Components[0].Vars[0].Data
	assert.True(t, bytes.Equal([]byte{1, 2, 3}, data))
	assert.Equal(t, 3, cap(data))
}
