// Package wire encodes and decodes the netsync packet set. It performs no I/O.
//
// Every packet starts with a one byte Kind. Integers are little-endian.
// Replicated variable values are a u16 length followed by msgpack bytes.
package wire

import (
	"fmt"

	"github.com/QYUbit/netsync/pkg/registry"
)

type Kind uint8

const (
	KindHandshake Kind = iota
	KindHandshakeResponse
	KindRPC
	KindCreateEntity
	KindCreateEntityFromPrefab
	KindDestroyEntity
	KindEntityDelta
)

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "Handshake"
	case KindHandshakeResponse:
		return "HandshakeResponse"
	case KindRPC:
		return "RPC"
	case KindCreateEntity:
		return "CreateEntity"
	case KindCreateEntityFromPrefab:
		return "CreateEntityFromPrefab"
	case KindDestroyEntity:
		return "DestroyEntity"
	case KindEntityDelta:
		return "EntityDelta"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

type Packet interface {
	Kind() Kind
}

// Handshake carries the server's negotiated id tables.
type Handshake struct {
	RPCs       []registry.Mapping
	Components []registry.Mapping
	Prefabs    []registry.Mapping
}

type HandshakeResponse struct{}

// RPC carries the runtime id of the payload type and its encoded fields.
type RPC struct {
	TypeID  uint16
	Payload []byte
}

type CreateEntity struct {
	NetID    uint16
	Snapshot Snapshot
}

type CreateEntityFromPrefab struct {
	NetID    uint16
	PrefabID uint16
	Snapshot Snapshot
}

type DestroyEntity struct {
	NetID uint16
}

type EntityDelta struct {
	NetID        uint16
	Instructions []Instruction
}

func (Handshake) Kind() Kind              { return KindHandshake }
func (HandshakeResponse) Kind() Kind      { return KindHandshakeResponse }
func (RPC) Kind() Kind                    { return KindRPC }
func (CreateEntity) Kind() Kind           { return KindCreateEntity }
func (CreateEntityFromPrefab) Kind() Kind { return KindCreateEntityFromPrefab }
func (DestroyEntity) Kind() Kind          { return KindDestroyEntity }
func (EntityDelta) Kind() Kind            { return KindEntityDelta }

// Snapshot is the full replicated state of one entity.
type Snapshot struct {
	Enabled    bool
	Components []ComponentSnapshot
}

type ComponentSnapshot struct {
	ID      uint16
	Enabled bool
	Vars    []VarValue
}

type VarValue struct {
	ID   uint8
	Data []byte
}

type Op uint8

const (
	OpEntityEnabled Op = iota
	OpEntityDisabled
	OpComponentEnabled
	OpComponentDisabled
	OpVarChanged
)

func (o Op) String() string {
	switch o {
	case OpEntityEnabled:
		return "EntityEnabled"
	case OpEntityDisabled:
		return "EntityDisabled"
	case OpComponentEnabled:
		return "ComponentEnabled"
	case OpComponentDisabled:
		return "ComponentDisabled"
	case OpVarChanged:
		return "VarChanged"
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// Instruction is one step of an EntityDelta. Component is set for component
// and var ops, Var and Data only for OpVarChanged.
type Instruction struct {
	Op        Op
	Component uint16
	Var       uint8
	Data      []byte
}

func EntityEnabled(enabled bool) Instruction {
	if enabled {
		return Instruction{Op: OpEntityEnabled}
	}
	return Instruction{Op: OpEntityDisabled}
}

func ComponentEnabled(compID uint16, enabled bool) Instruction {
	if enabled {
		return Instruction{Op: OpComponentEnabled, Component: compID}
	}
	return Instruction{Op: OpComponentDisabled, Component: compID}
}

func VarChanged(compID uint16, varID uint8, data []byte) Instruction {
	return Instruction{Op: OpVarChanged, Component: compID, Var: varID, Data: data}
}
