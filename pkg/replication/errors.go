package replication

import "github.com/rotisserie/eris"

var (
	// ErrProtocolViolation marks packets that reference state the receiver
	// cannot know about. The session treats it as fatal for that peer.
	ErrProtocolViolation = eris.New("protocol violation")
	ErrNotTracked        = eris.New("entity is not replicated")
)
