package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"sync/atomic"
	"time"

	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/quic-go/quic-go"
	"github.com/rotisserie/eris"
)

// Client connects to a Server.
type Client struct {
	address    string
	tlsConfig  *tls.Config
	quicConfig *quic.Config

	link      *link
	events    chan transport.Event
	connected atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewClient(address string, tlsConf *tls.Config, config *quic.Config) *Client {
	return &Client{
		address:    address,
		tlsConfig:  tlsConf,
		quicConfig: withDatagrams(config),
		events:     make(chan transport.Event, eventBuffer),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return eris.New("quic client already connected")
	}

	conn, err := quic.DialAddr(ctx, c.address, c.tlsConfig, c.quicConfig)
	if err != nil {
		c.emit(transport.Event{Kind: transport.EventDisconnected, Reason: transport.ReasonConnectionFailed, Err: err})
		return eris.Wrapf(err, "failed dialing %s", c.address)
	}

	control, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(closeCode(transport.ReasonConnectionFailed), "no control stream")
		c.emit(transport.Event{Kind: transport.EventDisconnected, Reason: transport.ReasonConnectionFailed, Err: err})
		return eris.Wrap(err, "failed accepting control stream")
	}

	l := newLink(conn, control)
	runCtx, cancel := context.WithCancel(context.Background())
	c.link = l
	c.cancel = cancel
	c.done = make(chan struct{})
	c.connected.Store(true)
	c.emit(transport.Event{Kind: transport.EventConnected, RemoteAddr: conn.RemoteAddr().String()})

	go func() {
		defer close(c.done)
		err := l.run(runCtx, func(data []byte) {
			c.emit(transport.Event{Kind: transport.EventMessage, Data: data})
		}, func(err error) {
			c.emit(transport.Event{Kind: transport.EventError, Err: err})
		})
		c.connected.Store(false)
		reason := disconnectReason(err)
		if errors.Is(err, context.Canceled) {
			reason = transport.ReasonLocalClose
		}
		c.emit(transport.Event{Kind: transport.EventDisconnected, Reason: reason, Err: err})
	}()
	return nil
}

func (c *Client) Close() error {
	if c.cancel == nil {
		return nil
	}
	c.link.closeWith(transport.ReasonLocalClose)
	c.cancel()
	<-c.done
	c.cancel = nil
	return nil
}

func (c *Client) Send(data []byte, delivery transport.Delivery) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	return c.link.enqueue(data, delivery)
}

func (c *Client) Stats() transport.Stats {
	if c.link == nil {
		return transport.Stats{}
	}
	return c.link.stats.Snapshot()
}

func (c *Client) Events() <-chan transport.Event {
	return c.events
}

func (c *Client) emit(ev transport.Event) {
	select {
	case c.events <- ev:
	case <-time.After(sendTimeout):
	}
}
