package wire

import (
	"math"

	"github.com/QYUbit/netsync/pkg/registry"
	"github.com/rotisserie/eris"
)

// MaxInstructions is the number of instructions one EntityDelta can carry.
const MaxInstructions = math.MaxUint8

func EncodeHandshake(h Handshake) ([]byte, error) {
	w := newWriter(KindHandshake, 6+10*(len(h.RPCs)+len(h.Components)+len(h.Prefabs)))
	writeMappings(w, h.RPCs, "rpc mappings")
	writeMappings(w, h.Components, "component mappings")
	writeMappings(w, h.Prefabs, "prefab mappings")
	return w.bytes()
}

func writeMappings(w *writer, m []registry.Mapping, what string) {
	w.count16(len(m), what)
	for _, e := range m {
		w.u64(e.Hash)
		w.u16(e.ID)
	}
}

func EncodeHandshakeResponse() []byte {
	return []byte{byte(KindHandshakeResponse)}
}

func EncodeRPC(typeID uint16, payload []byte) []byte {
	w := newWriter(KindRPC, 2+len(payload))
	w.u16(typeID)
	w.b = append(w.b, payload...)
	return w.b
}

func EncodeCreateEntity(netID uint16, s Snapshot) ([]byte, error) {
	w := newWriter(KindCreateEntity, 2+snapshotSize(s))
	w.u16(netID)
	writeSnapshot(w, s)
	return w.bytes()
}

func EncodeCreateEntityFromPrefab(netID, prefabID uint16, s Snapshot) ([]byte, error) {
	w := newWriter(KindCreateEntityFromPrefab, 4+snapshotSize(s))
	w.u16(netID)
	w.u16(prefabID)
	writeSnapshot(w, s)
	return w.bytes()
}

func EncodeDestroyEntity(netID uint16) []byte {
	w := newWriter(KindDestroyEntity, 2)
	w.u16(netID)
	return w.b
}

// EncodeEntityDelta returns false when d has no instructions.
func EncodeEntityDelta(d EntityDelta) ([]byte, bool, error) {
	if len(d.Instructions) == 0 {
		return nil, false, nil
	}
	w := newWriter(KindEntityDelta, 3+4*len(d.Instructions))
	w.u16(d.NetID)
	w.count8(len(d.Instructions), "delta instructions")
	for _, in := range d.Instructions {
		w.u8(uint8(in.Op))
		switch in.Op {
		case OpEntityEnabled, OpEntityDisabled:
		case OpComponentEnabled, OpComponentDisabled:
			w.u16(in.Component)
		case OpVarChanged:
			w.u16(in.Component)
			w.u8(in.Var)
			w.value(in.Data)
		default:
			w.fail(eris.Wrapf(ErrUnknownInstruction, "%s", in.Op))
		}
	}
	b, err := w.bytes()
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// ChunkInstructions splits instructions into groups that fit one EntityDelta.
func ChunkInstructions(in []Instruction) [][]Instruction {
	var out [][]Instruction
	for len(in) > MaxInstructions {
		out = append(out, in[:MaxInstructions:MaxInstructions])
		in = in[MaxInstructions:]
	}
	if len(in) > 0 {
		out = append(out, in)
	}
	return out
}

func snapshotSize(s Snapshot) int {
	n := 2
	for _, c := range s.Components {
		n += 4
		for _, v := range c.Vars {
			n += 3 + len(v.Data)
		}
	}
	return n
}

func writeSnapshot(w *writer, s Snapshot) {
	w.boolean(s.Enabled)
	w.count8(len(s.Components), "components")
	for _, c := range s.Components {
		w.u16(c.ID)
		w.boolean(c.Enabled)
		w.count8(len(c.Vars), "vars")
		for _, v := range c.Vars {
			w.u8(v.ID)
			w.value(v.Data)
		}
	}
}

// Decode parses one packet. Byte slices in the result alias data.
func Decode(data []byte) (Packet, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPacket
	}
	kind := Kind(data[0])
	r := &reader{b: data, off: 1}

	var p Packet
	switch kind {
	case KindHandshake:
		p = Handshake{
			RPCs:       readMappings(r, "rpc mappings"),
			Components: readMappings(r, "component mappings"),
			Prefabs:    readMappings(r, "prefab mappings"),
		}
	case KindHandshakeResponse:
		p = HandshakeResponse{}
	case KindRPC:
		id := r.u16("rpc type id")
		p = RPC{TypeID: id, Payload: r.rest()}
	case KindCreateEntity:
		netID := r.u16("net id")
		p = CreateEntity{NetID: netID, Snapshot: readSnapshot(r)}
	case KindCreateEntityFromPrefab:
		netID := r.u16("net id")
		prefabID := r.u16("prefab id")
		p = CreateEntityFromPrefab{NetID: netID, PrefabID: prefabID, Snapshot: readSnapshot(r)}
	case KindDestroyEntity:
		p = DestroyEntity{NetID: r.u16("net id")}
	case KindEntityDelta:
		d, err := readDelta(r)
		if err != nil {
			return nil, err
		}
		p = d
	default:
		return nil, eris.Wrapf(ErrUnknownPacketKind, "%s", kind)
	}

	if err := r.done(); err != nil {
		return nil, eris.Wrapf(err, "decode %s", kind)
	}
	return p, nil
}

func readMappings(r *reader, what string) []registry.Mapping {
	n := int(r.u16(what))
	if r.err != nil || n == 0 {
		return nil
	}
	if !r.need(n*10, what) {
		return nil
	}
	m := make([]registry.Mapping, n)
	for i := range m {
		m[i].Hash = r.u64("hash")
		m[i].ID = r.u16("id")
	}
	return m
}

func readSnapshot(r *reader) Snapshot {
	s := Snapshot{Enabled: r.boolean("entity enabled")}
	n := int(r.u8("component count"))
	if r.err != nil || n == 0 {
		return s
	}
	s.Components = make([]ComponentSnapshot, 0, n)
	for range n {
		c := ComponentSnapshot{
			ID:      r.u16("component id"),
			Enabled: r.boolean("component enabled"),
		}
		vars := int(r.u8("var count"))
		if vars > 0 && r.err == nil {
			c.Vars = make([]VarValue, 0, vars)
		}
		for range vars {
			id := r.u8("var id")
			c.Vars = append(c.Vars, VarValue{ID: id, Data: r.value("var value")})
		}
		if r.err != nil {
			return s
		}
		s.Components = append(s.Components, c)
	}
	return s
}

func readDelta(r *reader) (EntityDelta, error) {
	d := EntityDelta{NetID: r.u16("net id")}
	n := int(r.u8("instruction count"))
	if r.err != nil {
		return d, r.err
	}
	d.Instructions = make([]Instruction, 0, n)
	for range n {
		in := Instruction{Op: Op(r.u8("instruction"))}
		switch in.Op {
		case OpEntityEnabled, OpEntityDisabled:
		case OpComponentEnabled, OpComponentDisabled:
			in.Component = r.u16("component id")
		case OpVarChanged:
			in.Component = r.u16("component id")
			in.Var = r.u8("var id")
			in.Data = r.value("var value")
		default:
			if r.err != nil {
				return d, r.err
			}
			return d, eris.Wrapf(ErrUnknownInstruction, "%s", in.Op)
		}
		if r.err != nil {
			return d, r.err
		}
		d.Instructions = append(d.Instructions, in)
	}
	return d, nil
}
