package netsync

import "github.com/rotisserie/eris"

var (
	ErrAlreadyStarted = eris.New("session has already started")
	ErrNotRunning     = eris.New("session is not running")
	ErrNotConnected   = eris.New("client is not connected")
	ErrHandshake      = eris.New("handshake failed")
	ErrNotHost        = eris.New("loopback client only exists on a host")
	ErrNotAuthorized  = eris.New("client has not completed the handshake")
)
