package websockets

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

var (
	ErrTransportClosed = eris.New("transport is closed")
	ErrAlreadyStarted  = eris.New("transport is already started")
	ErrNotConnected    = eris.New("websocket client is not connected")
	ErrClientNotFound  = eris.New("client not found")
)

const (
	// Close codes 4000-4999 are reserved for applications.
	closeCodeBase = 4000
	writeWait     = 5 * time.Second
	pingPeriod    = 15 * time.Second
	pongWait      = 2 * pingPeriod
	maxMessage    = 1 << 20
	sendBuffer    = 256
	eventBuffer   = 1024
)

// peer pumps one websocket connection. Websockets are always reliable and
// ordered, so every delivery mode maps to a binary message.
type peer struct {
	conn      *websocket.Conn
	send      chan []byte
	closed    atomic.Bool
	readDone  atomic.Bool
	closeOnce sync.Once
	stats     transport.Counters

	mu     sync.Mutex
	reason transport.DisconnectReason
	local  bool
}

func newPeer(conn *websocket.Conn) *peer {
	conn.SetReadLimit(maxMessage)
	return &peer{conn: conn, send: make(chan []byte, sendBuffer)}
}

func (p *peer) run(ctx context.Context, onMessage func([]byte)) (transport.DisconnectReason, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.readPump(onMessage) })
	g.Go(func() error { return p.writePump(ctx) })
	err := g.Wait()
	p.conn.Close()
	p.closed.Store(true)
	return p.disconnectReason(err), err
}

func (p *peer) readPump(onMessage func([]byte)) error {
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := p.conn.ReadMessage()
		if err != nil {
			p.readDone.Store(true)
			return err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		p.stats.Received(len(data))
		onMessage(data)
	}
}

func (p *peer) writePump(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if !p.readDone.Load() {
				p.closeWith(transport.ReasonShutdown)
			}
			return ctx.Err()

		case message := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				p.stats.Drop()
				return err
			}
			p.stats.Sent(len(message))

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func (p *peer) enqueue(data []byte) error {
	if p.closed.Load() {
		return ErrTransportClosed
	}
	select {
	case p.send <- append([]byte(nil), data...):
		return nil
	case <-time.After(time.Second):
		p.stats.Drop()
		return eris.New("timeout queueing message")
	}
}

// closeWith sends a close frame carrying reason; the read pump then ends
// when the peer answers or the connection drops.
func (p *peer) closeWith(reason transport.DisconnectReason) {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.reason, p.local = reason, true
		p.mu.Unlock()
		p.closed.Store(true)

		message := websocket.FormatCloseMessage(closeCodeBase+int(reason), reason.String())
		if err := p.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait)); err != nil {
			p.conn.Close()
			return
		}
		// Do not wait forever for the close handshake.
		time.AfterFunc(writeWait, func() { p.conn.Close() })
	})
}

func (p *peer) disconnectReason(err error) transport.DisconnectReason {
	p.mu.Lock()
	local := p.local
	p.mu.Unlock()
	if local {
		return transport.ReasonLocalClose
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if code := closeErr.Code - closeCodeBase; code > 0 && code <= int(transport.ReasonShutdown) {
			return transport.DisconnectReason(code)
		}
		return transport.ReasonRemoteClose
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transport.ReasonTimeout
	}
	return transport.ReasonUnknown
}
