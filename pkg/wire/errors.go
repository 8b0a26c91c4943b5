package wire

import "github.com/rotisserie/eris"

var (
	ErrShortBuffer        = eris.New("packet ended early")
	ErrTrailingBytes      = eris.New("packet has trailing bytes")
	ErrUnknownPacketKind  = eris.New("unknown packet kind")
	ErrUnknownInstruction = eris.New("unknown delta instruction")
	ErrTooLarge           = eris.New("value does not fit the wire format")
	ErrEmptyPacket        = eris.New("empty packet")
)
