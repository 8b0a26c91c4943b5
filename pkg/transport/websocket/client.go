package websockets

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
)

// Client dials a websocket Server. url is a ws:// or wss:// address.
type Client struct {
	url    string
	dialer *websocket.Dialer

	peer      *peer
	events    chan transport.Event
	connected atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewClient(url string) *Client {
	return &Client{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: writeWait},
		events: make(chan transport.Event, eventBuffer),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return eris.New("websocket client already connected")
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		reason := transport.ReasonConnectionFailed
		if resp != nil && resp.StatusCode == 403 {
			reason = transport.ReasonRejected
		}
		c.emit(transport.Event{Kind: transport.EventDisconnected, Reason: reason, Err: err})
		return eris.Wrapf(err, "failed dialing %s", c.url)
	}

	p := newPeer(conn)
	runCtx, cancel := context.WithCancel(context.Background())
	c.peer = p
	c.cancel = cancel
	c.done = make(chan struct{})
	c.connected.Store(true)
	c.emit(transport.Event{Kind: transport.EventConnected, RemoteAddr: conn.RemoteAddr().String()})

	go func() {
		defer close(c.done)
		reason, err := p.run(runCtx, func(data []byte) {
			c.emit(transport.Event{Kind: transport.EventMessage, Data: data})
		})
		c.connected.Store(false)
		c.emit(transport.Event{Kind: transport.EventDisconnected, Reason: reason, Err: err})
	}()
	return nil
}

func (c *Client) Close() error {
	if c.cancel == nil {
		return nil
	}
	c.peer.closeWith(transport.ReasonRemoteClose)
	<-c.done
	c.cancel()
	c.cancel = nil
	return nil
}

func (c *Client) Send(data []byte, _ transport.Delivery) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	return c.peer.enqueue(data)
}

func (c *Client) Stats() transport.Stats {
	if c.peer == nil {
		return transport.Stats{}
	}
	return c.peer.stats.Snapshot()
}

func (c *Client) Events() <-chan transport.Event {
	return c.events
}

func (c *Client) emit(ev transport.Event) {
	select {
	case c.events <- ev:
	case <-time.After(time.Second):
	}
}
