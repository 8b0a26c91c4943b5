package wire

import (
	"github.com/rotisserie/eris"
	"github.com/shamaton/msgpack/v3"
)

// MarshalPayload encodes an RPC body.
func MarshalPayload(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, eris.Wrapf(err, "encode rpc %T", v)
	}
	return b, nil
}

// UnmarshalPayload decodes an RPC body into v.
func UnmarshalPayload(data []byte, v any) (err error) {
	// msgpack can panic on malformed input instead of returning an error.
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("decode rpc %T: %v", v, r)
		}
	}()
	if err := msgpack.Unmarshal(data, v); err != nil {
		return eris.Wrapf(err, "decode rpc %T", v)
	}
	return nil
}
