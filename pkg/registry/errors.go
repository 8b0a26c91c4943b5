package registry

import "github.com/rotisserie/eris"

var (
	ErrUnregisteredType = eris.New("type is not registered or has no runtime id")
	ErrUnknownRuntimeID = eris.New("unknown runtime id")
	ErrDuplicateName    = eris.New("type name already registered")
	ErrDuplicateType    = eris.New("type already registered")
	ErrHashCollision    = eris.New("type name hash collides with a registered type")
	ErrTooManyTypes     = eris.New("too many registered types for a u16 runtime id")
	ErrAlreadyAssigned  = eris.New("runtime ids already assigned for this session")
)
