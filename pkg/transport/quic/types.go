package quic

import (
	"errors"
	"fmt"
	"time"

	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/quic-go/quic-go"
	"github.com/rotisserie/eris"
)

type ErrClientNotFound struct {
	ClientId transport.ClientID
}

func (e ErrClientNotFound) Error() string {
	return fmt.Sprintf("client %d not found", e.ClientId)
}

var (
	ErrTransportClosed = eris.New("transport is closed")
	ErrAlreadyStarted  = eris.New("transport is already started")
	ErrNotConnected    = eris.New("quic client is not connected")
	ErrFrameTooLarge   = eris.New("frame exceeds the maximum size")
)

const (
	maxFrameSize = 1 << 20
	sendBuffer   = 256
	sendTimeout  = time.Second
	eventBuffer  = 1024
)

type hubOperationType int

const (
	opRegisterClient hubOperationType = iota
	opUnregisterClient
	opSendMessage
)

type hubOperation struct {
	Type     hubOperationType
	ClientId transport.ClientID
	Client   *peer
	Message  []byte
	Delivery transport.Delivery
	Reason   transport.DisconnectReason
	Response chan error
}

type outgoingMessage struct {
	Content  []byte
	Delivery transport.Delivery
}

// Close reasons travel as the QUIC application error code.
func closeCode(reason transport.DisconnectReason) quic.ApplicationErrorCode {
	return quic.ApplicationErrorCode(reason)
}

// disconnectReason maps the error that ended a connection to a reason as
// seen from this side.
func disconnectReason(err error) transport.DisconnectReason {
	var idle *quic.IdleTimeoutError
	if errors.As(err, &idle) {
		return transport.ReasonTimeout
	}
	var hs *quic.HandshakeTimeoutError
	if errors.As(err, &hs) {
		return transport.ReasonConnectionFailed
	}
	var app *quic.ApplicationError
	if errors.As(err, &app) {
		if !app.Remote {
			return transport.ReasonLocalClose
		}
		if r := transport.DisconnectReason(app.ErrorCode); r == transport.ReasonProtocolViolation ||
			r == transport.ReasonRejected || r == transport.ReasonShutdown {
			return r
		}
		return transport.ReasonRemoteClose
	}
	return transport.ReasonUnknown
}
